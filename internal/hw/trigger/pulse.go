package trigger

import (
	"sync"
	"time"

	"github.com/cjeanneret/FrameSync/internal/debug"
	"github.com/cjeanneret/FrameSync/internal/hw/gpio"
)

// Pulser emits trigger pulses. It is the only capability the frame
// controller needs from the trigger line.
type Pulser interface {
	Fire() error
	Release() error
}

// PulseGenerator drives the camera trigger line.
//
// Pulse sequence:
// 1. Line on (HIGH unless active-low)
// 2. Hold for the pulse width
// 3. Line off
//
// There is no feedback path: a stuck line cannot be detected here.
type PulseGenerator struct {
	line     *gpio.OutputLine
	width    time.Duration
	perFrame int

	mu    sync.Mutex
	count int
}

// Config describes the trigger line.
type Config struct {
	Pin       int
	ActiveLow bool
	Width     time.Duration // minimum high time; 0 means as short as the platform allows
	PerFrame  int           // pulses emitted per Fire call (1 unless the camera needs a double pulse)
}

// NewPulseGenerator configures the trigger pin as an output and leaves it off.
func NewPulseGenerator(g gpio.Driver, cfg Config) (*PulseGenerator, error) {
	line, err := gpio.NewOutputLine(g, cfg.Pin, cfg.ActiveLow)
	if err != nil {
		return nil, err
	}
	perFrame := cfg.PerFrame
	if perFrame < 1 {
		perFrame = 1
	}
	return &PulseGenerator{
		line:     line,
		width:    cfg.Width,
		perFrame: perFrame,
	}, nil
}

// Fire emits the configured number of pulses. It only touches the trigger
// line, so it is safe to call from an edge callback.
func (p *PulseGenerator) Fire() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.perFrame; i++ {
		if i > 0 {
			hold(p.width)
		}
		if err := p.line.Set(true); err != nil {
			return err
		}
		hold(p.width)
		if err := p.line.Set(false); err != nil {
			return err
		}
		p.count++
		debug.Pulse(p.line.Pin(), p.count)
	}
	return nil
}

// Release forces the trigger line off.
func (p *PulseGenerator) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.line.Set(false)
}

// Count returns the number of pulses emitted so far.
func (p *PulseGenerator) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// hold busy-waits for short widths where time.Sleep would overshoot by
// a scheduler quantum.
func hold(d time.Duration) {
	if d <= 0 {
		return
	}
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
