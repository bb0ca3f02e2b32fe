package indicator

import (
	"fmt"

	"github.com/cjeanneret/FrameSync/internal/debug"
	"github.com/cjeanneret/FrameSync/internal/hw/gpio"
)

// Channel maps one indicator output to the frame count that switches it on.
type Channel struct {
	Name      string
	Pin       int
	Threshold int
	ActiveLow bool
}

type channel struct {
	Channel
	line *gpio.OutputLine
}

// Driver applies the threshold table to the indicator outputs.
// It keeps no session state: Apply only looks at its argument.
type Driver struct {
	channels []channel
}

// New configures every channel pin as an output and switches it off.
func New(g gpio.Driver, table []Channel) (*Driver, error) {
	d := &Driver{}
	for _, c := range table {
		if c.Threshold <= 0 {
			return nil, fmt.Errorf("indicator %q: threshold must be > 0, got %d", c.Name, c.Threshold)
		}
		line, err := gpio.NewOutputLine(g, c.Pin, c.ActiveLow)
		if err != nil {
			return nil, fmt.Errorf("indicator %q: %w", c.Name, err)
		}
		d.channels = append(d.channels, channel{Channel: c, line: line})
	}
	return d, nil
}

// Apply switches on every channel whose threshold equals frameCount and
// returns their names in table order. Calling it twice with the same count
// leaves the outputs in the same state.
func (d *Driver) Apply(frameCount int) ([]string, error) {
	var fired []string
	for _, c := range d.channels {
		if c.Threshold != frameCount {
			continue
		}
		if err := c.line.Set(true); err != nil {
			return fired, fmt.Errorf("indicator %q: %w", c.Name, err)
		}
		debug.Live("Indicator %s ON (frame %d)", c.Name, frameCount)
		fired = append(fired, c.Name)
	}
	return fired, nil
}

// Reset switches every channel off.
func (d *Driver) Reset() error {
	for _, c := range d.channels {
		if err := c.line.Set(false); err != nil {
			return fmt.Errorf("indicator %q: %w", c.Name, err)
		}
	}
	return nil
}

// Channels returns the configured table.
func (d *Driver) Channels() []Channel {
	out := make([]Channel, len(d.channels))
	for i, c := range d.channels {
		out[i] = c.Channel
	}
	return out
}
