// Package ack turns the camera's acknowledgment line into frame events.
//
// Two strategies exist. InterruptDetector receives asynchronous edge events
// from an EdgeWatcher and forwards accepted rising edges to a handler.
// PolledDetector samples the line from the caller's goroutine and blocks
// until the expected level shows up, a deadline passes, or the wait is
// cancelled.
package ack

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/cjeanneret/FrameSync/internal/debug"
	"github.com/cjeanneret/FrameSync/internal/hw/gpio"
	"github.com/cjeanneret/FrameSync/internal/logic/timing"
)

// Mode selects the detection strategy.
type Mode string

const (
	ModeInterrupt Mode = "interrupt"
	ModePolled    Mode = "polled"
)

var (
	// ErrTimeout is returned when the line did not reach the expected level
	// before the deadline.
	ErrTimeout = errors.New("acknowledgment wait timed out")
	// ErrCanceled is returned when the wait was cancelled through its cancel channel.
	ErrCanceled = errors.New("acknowledgment wait canceled")
)

// Event is one accepted rising edge on the acknowledgment line.
type Event struct {
	Timestamp timing.Ticks
}

// Handler consumes events. It runs on the edge delivery goroutine.
type Handler func(Event)

// InterruptConfig configures an InterruptDetector.
type InterruptConfig struct {
	Pin      int
	Pull     gpio.Pull
	Debounce time.Duration
	// FallingGate requires a falling edge between two accepted rising edges.
	// Leave it off for watchers that only report rising edges.
	FallingGate bool
}

// InterruptDetector filters raw edges into one Event per physical pulse.
type InterruptDetector struct {
	watcher gpio.EdgeWatcher
	cfg     InterruptConfig

	mu      sync.Mutex
	handler Handler
	stop    func() error
	armed   bool
	hasLast bool
	last    timing.Ticks
}

func NewInterruptDetector(w gpio.EdgeWatcher, cfg InterruptConfig) *InterruptDetector {
	return &InterruptDetector{watcher: w, cfg: cfg, armed: true}
}

// Start registers the edge callback. Events are delivered to h until Stop.
func (d *InterruptDetector) Start(h Handler) error {
	d.mu.Lock()
	if d.stop != nil {
		d.mu.Unlock()
		return errors.New("detector already started")
	}
	d.handler = h
	d.mu.Unlock()

	stop, err := d.watcher.WatchEdges(d.cfg.Pin, gpio.WatchOptions{
		Pull:     d.cfg.Pull,
		Debounce: d.cfg.Debounce,
	}, d.onEdge)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.stop = stop
	d.mu.Unlock()
	debug.Verbose("Ack detector: watching pin %d (interrupt mode)", d.cfg.Pin)
	return nil
}

// Stop releases the edge watch.
func (d *InterruptDetector) Stop() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	return stop()
}

func (d *InterruptDetector) onEdge(e gpio.EdgeEvent) {
	ts := timing.FromDuration(e.Time)

	d.mu.Lock()
	if !e.Rising {
		d.armed = true
		d.mu.Unlock()
		return
	}
	if d.cfg.FallingGate && !d.armed {
		d.mu.Unlock()
		debug.Trace("Ack detector: rising edge without falling edge dropped")
		return
	}
	if d.cfg.Debounce > 0 && d.hasLast && timing.Delta(d.last, ts).Duration() < d.cfg.Debounce {
		d.mu.Unlock()
		debug.Trace("Ack detector: rising edge inside debounce window dropped")
		return
	}
	d.armed = false
	d.hasLast = true
	d.last = ts
	h := d.handler
	d.mu.Unlock()

	if h != nil {
		h(Event{Timestamp: ts})
	}
}

// PolledConfig configures a PolledDetector.
//
// The line is only sampled, so a pulse shorter than the effective sample
// period (Interval plus scheduling delay) can be missed entirely. A missed
// acknowledgment shows up as a frame timeout.
type PolledConfig struct {
	Pin      int
	Interval time.Duration // pause between samples; 0 yields to the scheduler only
}

// PolledDetector samples the acknowledgment line from the calling goroutine.
type PolledDetector struct {
	drv   gpio.Driver
	clock timing.Clock
	cfg   PolledConfig
}

func NewPolledDetector(d gpio.Driver, clock timing.Clock, cfg PolledConfig) (*PolledDetector, error) {
	if err := d.SetupPin(cfg.Pin, gpio.Input); err != nil {
		return nil, err
	}
	debug.Verbose("Ack detector: polling pin %d every %v", cfg.Pin, cfg.Interval)
	return &PolledDetector{drv: d, clock: clock, cfg: cfg}, nil
}

// WaitRising blocks until the line reads HIGH and returns the event
// timestamped at detection. Callers pair it with WaitFalling so a line that
// stays high is not counted twice. A zero deadline waits forever.
func (d *PolledDetector) WaitRising(ctx context.Context, deadline time.Time, cancel <-chan struct{}) (Event, error) {
	if err := d.waitLevel(ctx, gpio.High, deadline, cancel); err != nil {
		return Event{}, err
	}
	return Event{Timestamp: d.clock.Now()}, nil
}

// WaitFalling blocks until the line reads LOW.
func (d *PolledDetector) WaitFalling(ctx context.Context, deadline time.Time, cancel <-chan struct{}) error {
	return d.waitLevel(ctx, gpio.Low, deadline, cancel)
}

func (d *PolledDetector) waitLevel(ctx context.Context, want gpio.Level, deadline time.Time, cancel <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cancel:
			return ErrCanceled
		default:
		}

		lvl, err := d.drv.ReadPin(d.cfg.Pin)
		if err != nil {
			return err
		}
		if lvl == want {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrTimeout
		}

		if d.cfg.Interval > 0 {
			time.Sleep(d.cfg.Interval)
		} else {
			runtime.Gosched()
		}
	}
}
