// Package command reads single-byte start commands from a byte stream
// (serial link or stdin) and reports session progress back on it.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cjeanneret/FrameSync/internal/debug"
	"github.com/cjeanneret/FrameSync/internal/notify"
)

// Starter begins a capture session.
type Starter interface {
	Start(ctx context.Context) error
}

// Dispatcher maps the start byte to Starter.Start. Every other byte is ignored.
type Dispatcher struct {
	starter   Starter
	startByte byte
	// async runs Start on its own goroutine, for starters that block until
	// the session ends (polled mode).
	async bool

	wg sync.WaitGroup
}

// NewDispatcher returns a dispatcher triggering on startByte, case-insensitively.
func NewDispatcher(s Starter, startByte byte, async bool) *Dispatcher {
	return &Dispatcher{starter: s, startByte: lower(startByte), async: async}
}

// Run reads r until EOF, a read error or ctx is cancelled. Readers that
// block without a timeout keep Run blocked until their next byte.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader) error {
	defer d.wg.Wait()

	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			d.Handle(ctx, b)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
	}
}

// Handle processes one command byte and reports whether it was the start byte.
func (d *Dispatcher) Handle(ctx context.Context, b byte) bool {
	if lower(b) != d.startByte {
		debug.Trace("Command byte %q ignored", b)
		return false
	}
	debug.Verbose("Start command received")
	if !d.async {
		d.start(ctx)
		return true
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.start(ctx)
	}()
	return true
}

func (d *Dispatcher) start(ctx context.Context) {
	if err := d.starter.Start(ctx); err != nil {
		debug.Verbose("Start command: %v", err)
	}
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}

// ReplyLine renders the status line sent back to the command source for e.
// Events without a reply return false.
func ReplyLine(e notify.Event) (string, bool) {
	switch e.Kind {
	case notify.SessionStarted:
		return fmt.Sprintf("OK %d", e.Target), true
	case notify.StartRejected:
		return "ERR busy", true
	case notify.SessionComplete:
		return fmt.Sprintf("DONE %d", e.Frame), true
	case notify.SessionAborted:
		return fmt.Sprintf("ERR abort %d/%d", e.Frame, e.Target), true
	}
	return "", false
}

// Reply writes one reply line per relevant event until ch is closed.
// Lines end in CRLF, the convention of serial terminals.
func Reply(w io.Writer, ch <-chan notify.Event) {
	for e := range ch {
		line, ok := ReplyLine(e)
		if !ok {
			continue
		}
		if _, err := io.WriteString(w, line+"\r\n"); err != nil {
			debug.Error(fmt.Errorf("write reply: %w", err))
		}
	}
}
