package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/FrameSync/internal/debug"
	"go.bug.st/serial"
)

// AutoPort selects the first serial port reported by the system.
const AutoPort = "auto"

// readTimeout bounds a single serial read so Dispatcher.Run can notice
// cancellation.
const readTimeout = 100 * time.Millisecond

// listPorts is replaced in tests.
var listPorts = serial.GetPortsList

// ResolvePort maps AutoPort to a concrete device name.
func ResolvePort(name string) (string, error) {
	if name != AutoPort {
		return name, nil
	}
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial port found")
	}
	debug.Verbose("Serial ports found: %v", ports)
	return ports[0], nil
}

// OpenSerial opens the command link at baud (8N1).
func OpenSerial(name string, baud int) (serial.Port, error) {
	name, err := ResolvePort(name)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	debug.Info("Command link: %s @ %d baud", name, baud)
	return port, nil
}
