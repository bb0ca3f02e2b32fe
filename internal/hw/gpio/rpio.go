package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/FrameSync/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// edgePollInterval is how often the rpio watcher samples the edge latch.
const edgePollInterval = 50 * time.Microsecond

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	mu    sync.Mutex
	pins  map[int]rpio.Pin
	epoch time.Time
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins:  make(map[int]rpio.Pin),
		epoch: time.Now(),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setupLocked(pin, mode)
}

func (r *RPiDriver) setupLocked(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.setupLocked(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	r.mu.Lock()
	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.setupLocked(pin, Input); err != nil {
			r.mu.Unlock()
			return Low, err
		}
		p = r.pins[pin]
	}
	r.mu.Unlock()

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// WatchEdges arms the SoC rising-edge latch for pin and samples it from a
// goroutine. Only rising edges are reported: a whole pulse can fit between
// two samples, so the level read afterwards says nothing about which edge
// set the latch. Edges are timestamped when the latch is observed, so
// resolution is bounded by edgePollInterval; use the cdev backend for
// kernel timestamps.
func (r *RPiDriver) WatchEdges(pin int, opts WatchOptions, h EdgeHandler) (func() error, error) {
	r.mu.Lock()
	if err := r.setupLocked(pin, Input); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	p := r.pins[pin]
	r.mu.Unlock()

	switch opts.Pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	default:
		p.PullOff()
	}
	p.Detect(rpio.RiseEdge)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(edgePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			if !p.EdgeDetected() {
				continue
			}
			h(EdgeEvent{Pin: pin, Rising: true, Time: time.Since(r.epoch)})
		}
	}()

	var once sync.Once
	return func() error {
		once.Do(func() {
			close(done)
			wg.Wait()
			p.Detect(rpio.NoEdge)
		})
		return nil
	}, nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	r.mu.Lock()
	defer r.mu.Unlock()
	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Detect(rpio.NoEdge)
		p.Input()
	}

	return rpio.Close()
}
