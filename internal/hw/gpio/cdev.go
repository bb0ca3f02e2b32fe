package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/FrameSync/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver drives lines through the Linux GPIO character device.
// Unlike go-rpio it delivers edge events from the kernel with their own
// timestamps, which makes it the preferred backend for interrupt mode.
type CdevDriver struct {
	chip  string
	mu    sync.Mutex
	lines map[int]cdevLine
}

// cdevLine is the part of *gpiocdev.Line the driver uses.
type cdevLine interface {
	SetValue(value int) error
	Value() (int, error)
	Close() error
}

// NewCdevDriver opens lines on the named chip (e.g. "gpiochip0").
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	debug.Info("Initializing GPIO character device driver (%s)", chip)
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", chip, err)
	}
	// Only probing that the chip exists; lines are requested per pin.
	_ = c.Close()
	return &CdevDriver{chip: chip, lines: make(map[int]cdevLine)}, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestLocked(pin, mode)
}

func (c *CdevDriver) requestLocked(pin int, mode PinMode, extra ...gpiocdev.LineReqOption) error {
	if l, ok := c.lines[pin]; ok {
		_ = l.Close()
		delete(c.lines, pin)
	}
	var opts []gpiocdev.LineReqOption
	switch mode {
	case Input:
		opts = append(opts, gpiocdev.AsInput)
	case Output:
		opts = append(opts, gpiocdev.AsOutput(0))
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	opts = append(opts, extra...)
	l, err := gpiocdev.RequestLine(c.chip, pin, opts...)
	if err != nil {
		return fmt.Errorf("request line %d: %w", pin, err)
	}
	c.lines[pin] = l
	return nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		if err := c.requestLocked(pin, Output); err != nil {
			return err
		}
		l = c.lines[pin]
	}
	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	c.mu.Lock()
	l, ok := c.lines[pin]
	if !ok {
		if err := c.requestLocked(pin, Input); err != nil {
			c.mu.Unlock()
			return Low, err
		}
		l = c.lines[pin]
	}
	c.mu.Unlock()

	v, err := l.Value()
	if err != nil {
		return Low, err
	}
	return Level(v != 0), nil
}

// WatchEdges re-requests pin as an input reporting both edges. The kernel
// applies opts.Debounce when it is non-zero.
func (c *CdevDriver) WatchEdges(pin int, opts WatchOptions, h EdgeHandler) (func() error, error) {
	reqOpts := []gpiocdev.LineReqOption{
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			h(EdgeEvent{
				Pin:    evt.Offset,
				Rising: evt.Type == gpiocdev.LineEventRisingEdge,
				Time:   evt.Timestamp,
			})
		}),
	}
	switch opts.Pull {
	case PullUp:
		reqOpts = append(reqOpts, gpiocdev.WithPullUp)
	case PullDown:
		reqOpts = append(reqOpts, gpiocdev.WithPullDown)
	}
	if opts.Debounce > 0 {
		reqOpts = append(reqOpts, gpiocdev.WithDebounce(opts.Debounce))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requestLocked(pin, Input, reqOpts...); err != nil {
		return nil, err
	}
	l := c.lines[pin]

	return c.releaseFunc(pin, l), nil
}

// releaseFunc returns the stop function of a watch on pin. Closing a
// watched line waits for a running event handler, which may itself need
// c.mu to drive an output, so the line is closed unlocked.
func (c *CdevDriver) releaseFunc(pin int, l cdevLine) func() error {
	return func() error {
		c.mu.Lock()
		if c.lines[pin] != l {
			c.mu.Unlock()
			return nil
		}
		delete(c.lines, pin)
		c.mu.Unlock()
		return l.Close()
	}
}

func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (cdev driver)")

	c.mu.Lock()
	lines := c.lines
	c.lines = make(map[int]cdevLine)
	c.mu.Unlock()

	var firstErr error
	for pin, l := range lines {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close line %d: %w", pin, err)
		}
	}
	return firstErr
}
