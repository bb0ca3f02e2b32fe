package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/FrameSync/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Pull selects the input bias resistor.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// EdgeEvent is a level transition observed on an input pin.
// Time is a monotonic offset from an arbitrary, backend-specific epoch.
type EdgeEvent struct {
	Pin    int
	Rising bool
	Time   time.Duration
}

// EdgeHandler receives edge events. It runs on the backend's event
// goroutine and must not block.
type EdgeHandler func(EdgeEvent)

// WatchOptions configures an edge watch.
type WatchOptions struct {
	Pull     Pull
	Debounce time.Duration // honored by backends with hardware/kernel debounce
}

// EdgeWatcher is implemented by drivers able to deliver asynchronous edge
// events for an input pin. The returned stop function releases the watch.
type EdgeWatcher interface {
	WatchEdges(pin int, opts WatchOptions, h EdgeHandler) (stop func() error, err error)
}

// Backend names accepted by NewDriver.
const (
	BackendMock = "mock"
	BackendRPi  = "rpio"
	BackendCdev = "cdev"
)

// NewDriver creates a GPIO driver for the chosen backend.
// "mock" returns a MockDriver (for dev/test), "rpio" a memory-mapped
// Raspberry Pi driver, "cdev" a Linux GPIO character device driver on chip.
func NewDriver(backend, chip string) (Driver, error) {
	switch backend {
	case BackendMock, "":
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case BackendRPi:
		return NewRPiRealDriver()
	case BackendCdev:
		return NewCdevDriver(chip)
	default:
		return nil, fmt.Errorf("unknown gpio backend: %q", backend)
	}
}

// Loopback makes the mock echo an asserted trigger on From as an
// acknowledgment pulse on To. The pulse rises Delay after the trigger is
// asserted and stays high for Width (Delay/2, at least 100µs, when zero).
// ActiveLow marks a trigger asserted by driving From LOW.
type Loopback struct {
	From      int
	To        int
	Delay     time.Duration
	Width     time.Duration
	ActiveLow bool
}

func (lb *Loopback) width() time.Duration {
	if lb.Width > 0 {
		return lb.Width
	}
	if w := lb.Delay / 2; w >= 100*time.Microsecond {
		return w
	}
	return 100 * time.Microsecond
}

// MockDriver is an in-memory implementation that logs actions and keeps
// pin levels, so inputs can be driven by tests or by a loopback.
// The zero value is ready to use.
type MockDriver struct {
	mu       sync.Mutex
	epoch    time.Time
	levels   map[int]Level
	watchers map[int][]EdgeHandler
	loopback *Loopback
}

func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

func (m *MockDriver) initLocked() {
	if m.levels == nil {
		m.levels = make(map[int]Level)
		m.watchers = make(map[int][]EdgeHandler)
		m.epoch = time.Now()
	}
}

// SetLoopback enables trigger-to-acknowledgment echo.
func (m *MockDriver) SetLoopback(lb Loopback) {
	m.mu.Lock()
	m.loopback = &lb
	m.mu.Unlock()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	m.mu.Lock()
	m.initLocked()
	prev := m.levels[pin]
	m.levels[pin] = level
	lb := m.loopback
	m.mu.Unlock()

	if lb != nil && lb.From == pin && prev != level && level == Level(!lb.ActiveLow) {
		width := lb.width()
		time.AfterFunc(lb.Delay, func() {
			m.Inject(lb.To, High)
			time.AfterFunc(width, func() { m.Inject(lb.To, Low) })
		})
	}
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	m.initLocked()
	level := m.levels[pin]
	m.mu.Unlock()
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// WatchEdges registers h for transitions on pin. Debounce is ignored.
func (m *MockDriver) WatchEdges(pin int, opts WatchOptions, h EdgeHandler) (func() error, error) {
	m.mu.Lock()
	m.initLocked()
	m.watchers[pin] = append(m.watchers[pin], h)
	idx := len(m.watchers[pin]) - 1
	m.mu.Unlock()

	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.watchers[pin]) {
			m.watchers[pin][idx] = nil
		}
		return nil
	}, nil
}

// Inject drives an input pin to level, timestamped with the mock's clock.
func (m *MockDriver) Inject(pin int, level Level) {
	m.mu.Lock()
	m.initLocked()
	at := time.Since(m.epoch)
	m.mu.Unlock()
	m.InjectAt(pin, level, at)
}

// InjectAt drives an input pin to level with an explicit event time.
// Watchers are only notified when the level actually changes.
func (m *MockDriver) InjectAt(pin int, level Level, at time.Duration) {
	m.mu.Lock()
	m.initLocked()
	prev := m.levels[pin]
	m.levels[pin] = level
	handlers := append([]EdgeHandler(nil), m.watchers[pin]...)
	m.mu.Unlock()

	debug.GPIO("Inject", pin, level)
	if prev == level {
		return
	}
	ev := EdgeEvent{Pin: pin, Rising: level == High, Time: at}
	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
