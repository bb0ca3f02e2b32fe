package gpio

// OutputLine is a named output pin with an on/off meaning.
// For active-low hardware (most relay boards) "on" drives the pin LOW.
type OutputLine struct {
	drv       Driver
	pin       int
	activeLow bool
}

// NewOutputLine configures pin as an output and drives it to the off level.
func NewOutputLine(d Driver, pin int, activeLow bool) (*OutputLine, error) {
	l := &OutputLine{drv: d, pin: pin, activeLow: activeLow}
	if err := d.SetupPin(pin, Output); err != nil {
		return nil, err
	}
	if err := l.Set(false); err != nil {
		return nil, err
	}
	return l, nil
}

// Set switches the line on or off.
func (l *OutputLine) Set(on bool) error {
	return l.drv.WritePin(l.pin, l.level(on))
}

// Pin returns the BCM pin number.
func (l *OutputLine) Pin() int { return l.pin }

func (l *OutputLine) level(on bool) Level {
	return Level(on != l.activeLow)
}
