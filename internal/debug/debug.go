package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (session start/end, config)
	LevelLive    = 2 // Live info (every frame, every pulse)
	LevelVerbose = 3 // Verbose (state transitions, detector internals)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  atomic.Int32
	logger atomic.Pointer[log.Logger]
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (sessions, configuration)
// 2 = live info (frames, trigger pulses)
// 3 = verbose (state transitions, detector details)
// 4 = trace (GPIO, very low level)
//
// Edge callbacks log from their own goroutine, so level and logger are
// stored atomically.
func Init(debugLevel int) {
	level.Store(int32(debugLevel))
	if debugLevel > LevelOff {
		logger.Store(log.New(os.Stdout, "[FrameSync] ", log.LstdFlags|log.Lmicroseconds))
	} else {
		logger.Store(nil)
	}
}

// SetOutput redirects debug output. It has no effect while debug is off.
func SetOutput(w io.Writer) {
	if l := logger.Load(); l != nil {
		l.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func logf(minLevel int, format string, args ...interface{}) {
	if Level() < minLevel {
		return
	}
	if l := logger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	logf(LevelInfo, "[INFO] "+format, args...)
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	logf(LevelInfo, "═══════════════════════════════════════")
	logf(LevelInfo, "  %s", title)
	logf(LevelInfo, "═══════════════════════════════════════")
}

// Session prints a session boundary (level 1).
func Session(event string, target int) {
	logf(LevelInfo, "[INFO] Session %s (target=%d frames)", event, target)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	logf(LevelLive, "[LIVE] "+format, args...)
}

// Frame prints an acknowledged frame (level 2). A negative delta means the
// frame has no predecessor in the session.
func Frame(n int, deltaUs int64) {
	if deltaUs < 0 {
		logf(LevelLive, "[LIVE] Frame %d acknowledged (first)", n)
		return
	}
	logf(LevelLive, "[LIVE] Frame %d acknowledged (dt=%dus)", n, deltaUs)
}

// Pulse prints a trigger pulse (level 2).
func Pulse(pin int, n int) {
	logf(LevelLive, "[LIVE] Trigger pulse #%d on pin %d", n, pin)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	logf(LevelVerbose, "[VERBOSE] "+format, args...)
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	logf(LevelVerbose, "[VERBOSE] %s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	logf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logf(LevelVerbose, "  %s", name)
	logf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	logf(LevelVerbose, "[VERBOSE] Step %d: %s", num, description)
}

// Transition prints a session state change (level 3).
func Transition(event, from, to string) {
	logf(LevelVerbose, "[VERBOSE] State %s -> %s (%s)", from, to, event)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	logf(LevelInfo, "[INFO]   %s = %v", name, value)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	logf(LevelTrace, "[TRACE] "+format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	logf(LevelTrace, "[GPIO] %s pin=%d value=%v", operation, pin, value)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	logf(LevelInfo, "[ERROR] %v", err)
}

// Fmt returns a formatted string only if debug is enabled.
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
