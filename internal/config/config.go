package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 64 * 1024

// DefaultPath is the configuration loaded when no -config flag is given.
const DefaultPath = "configs/default.yaml"

// TriggerConfig describes the camera trigger output.
type TriggerConfig struct {
	Pin            int  `yaml:"pin"`              // BCM pin driving the trigger line
	PulseWidthUs   int  `yaml:"pulse_width_us"`   // high time of one pulse (µs)
	ActiveLow      bool `yaml:"active_low"`       // relay boards switch on LOW
	PulsesPerFrame int  `yaml:"pulses_per_frame"` // 2 for cameras expecting a double pulse
}

// AckConfig describes the acknowledgment input and how it is watched.
type AckConfig struct {
	Pin            int    `yaml:"pin"`
	Mode           string `yaml:"mode"`             // "interrupt" or "polled"
	DebounceUs     int    `yaml:"debounce_us"`      // 0 = none
	PollIntervalUs int    `yaml:"poll_interval_us"` // 0 = spin, yielding to the scheduler
	Pull           string `yaml:"pull"`             // "none", "up" or "down"
}

// IndicatorConfig maps one output to the frame count that switches it on.
type IndicatorConfig struct {
	Name      string `yaml:"name"`
	Pin       int    `yaml:"pin"`
	Threshold int    `yaml:"threshold"`
	ActiveLow bool   `yaml:"active_low"`
}

// SessionConfig holds the capture session parameters.
type SessionConfig struct {
	TargetFrames       int    `yaml:"target_frames"`
	FrameTimeoutMs     int    `yaml:"frame_timeout_ms"`      // 0 = wait forever
	OnStartWhileActive string `yaml:"on_start_while_active"` // "reject" or "restart"
}

// CommandConfig describes where start commands come from.
// An empty SerialPort reads commands from stdin; "auto" picks the first port found.
type CommandConfig struct {
	SerialPort string `yaml:"serial_port"`
	Baud       int    `yaml:"baud"`
	StartByte  string `yaml:"start_byte"`
}

// DefaultsConfig contains generic runtime parameters.
type DefaultsConfig struct {
	DebugLevel     int    `yaml:"debug_level"`       // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	GPIOBackend    string `yaml:"gpio_backend"`      // "mock", "rpio" or "cdev"
	GPIOChip       string `yaml:"gpio_chip"`         // character device used by the cdev backend
	MockAckDelayUs int    `yaml:"mock_ack_delay_us"` // mock loopback latency between trigger and acknowledgment
}

// Config aggregates all application configuration.
type Config struct {
	Trigger        TriggerConfig     `yaml:"trigger"`
	Acknowledgment AckConfig         `yaml:"acknowledgment"`
	Indicators     []IndicatorConfig `yaml:"indicators"`
	Session        SessionConfig     `yaml:"session"`
	Command        CommandConfig     `yaml:"command"`
	Defaults       DefaultsConfig    `yaml:"defaults"`
}

// DefaultIndicators is the indicator table used when the file has none.
var DefaultIndicators = []IndicatorConfig{
	{Name: "A", Pin: 27, Threshold: 1, ActiveLow: true},
	{Name: "B", Pin: 22, Threshold: 3, ActiveLow: true},
	{Name: "C", Pin: 23, Threshold: 4, ActiveLow: true},
}

// ValidateConfigPath rejects paths that are not a .yaml file directly
// inside a configs/ directory, or that climb out of it.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q escapes its directory", path)
		}
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trigger.Pin == 0 {
		c.Trigger.Pin = 17
	}
	if c.Trigger.PulseWidthUs <= 0 {
		c.Trigger.PulseWidthUs = 1
	}
	if c.Trigger.PulsesPerFrame <= 0 {
		c.Trigger.PulsesPerFrame = 1
	}

	if c.Acknowledgment.Pin == 0 {
		c.Acknowledgment.Pin = 24
	}
	if c.Acknowledgment.Mode == "" {
		c.Acknowledgment.Mode = "interrupt"
	}
	if c.Acknowledgment.Pull == "" {
		c.Acknowledgment.Pull = "none"
	}

	if c.Indicators == nil {
		c.Indicators = append([]IndicatorConfig(nil), DefaultIndicators...)
	}

	if c.Session.TargetFrames == 0 {
		c.Session.TargetFrames = 4
	}
	if c.Session.OnStartWhileActive == "" {
		c.Session.OnStartWhileActive = "reject"
	}

	if c.Command.Baud <= 0 {
		c.Command.Baud = 115200
	}
	if c.Command.StartByte == "" {
		c.Command.StartByte = "q"
	}

	if c.Defaults.GPIOBackend == "" {
		c.Defaults.GPIOBackend = "mock"
	}
	if c.Defaults.GPIOChip == "" {
		c.Defaults.GPIOChip = "gpiochip0"
	}
	if c.Defaults.MockAckDelayUs <= 0 {
		c.Defaults.MockAckDelayUs = 2000 // 2ms camera latency
	}
}

// Validate checks values that have no sensible default. Load calls it;
// callers changing fields afterwards (flag overrides) should call it again.
func (c *Config) Validate() error {
	if c.Session.TargetFrames <= 0 {
		return fmt.Errorf("session.target_frames must be > 0, got %d", c.Session.TargetFrames)
	}
	if c.Session.FrameTimeoutMs < 0 {
		return fmt.Errorf("session.frame_timeout_ms must be >= 0, got %d", c.Session.FrameTimeoutMs)
	}
	switch c.Session.OnStartWhileActive {
	case "reject", "restart":
	default:
		return fmt.Errorf("session.on_start_while_active must be reject or restart, got %q", c.Session.OnStartWhileActive)
	}

	switch c.Acknowledgment.Mode {
	case "interrupt", "polled":
	default:
		return fmt.Errorf("acknowledgment.mode must be interrupt or polled, got %q", c.Acknowledgment.Mode)
	}
	switch c.Acknowledgment.Pull {
	case "none", "up", "down":
	default:
		return fmt.Errorf("acknowledgment.pull must be none, up or down, got %q", c.Acknowledgment.Pull)
	}
	if c.Acknowledgment.DebounceUs < 0 || c.Acknowledgment.PollIntervalUs < 0 {
		return errors.New("acknowledgment timings must be >= 0")
	}
	if c.Acknowledgment.Pin == c.Trigger.Pin {
		return fmt.Errorf("acknowledgment.pin and trigger.pin are both %d", c.Trigger.Pin)
	}

	seen := map[int]string{c.Trigger.Pin: "trigger", c.Acknowledgment.Pin: "acknowledgment"}
	for _, ind := range c.Indicators {
		if ind.Name == "" {
			return fmt.Errorf("indicator on pin %d has no name", ind.Pin)
		}
		if ind.Threshold <= 0 {
			return fmt.Errorf("indicator %q: threshold must be > 0, got %d", ind.Name, ind.Threshold)
		}
		if other, ok := seen[ind.Pin]; ok {
			return fmt.Errorf("indicator %q: pin %d already used by %s", ind.Name, ind.Pin, other)
		}
		seen[ind.Pin] = ind.Name
	}

	if len(c.Command.StartByte) != 1 {
		return fmt.Errorf("command.start_byte must be a single byte, got %q", c.Command.StartByte)
	}

	switch c.Defaults.GPIOBackend {
	case "mock", "rpio", "cdev":
	default:
		return fmt.Errorf("defaults.gpio_backend must be mock, rpio or cdev, got %q", c.Defaults.GPIOBackend)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// Warnings lists settings that are valid but probably not intended, such
// as an indicator the session can never reach. Call it after Validate.
func (c *Config) Warnings() []string {
	var out []string
	for _, ind := range c.Indicators {
		if ind.Threshold > c.Session.TargetFrames {
			out = append(out, fmt.Sprintf("indicator %q (threshold %d) never turns on with target_frames %d",
				ind.Name, ind.Threshold, c.Session.TargetFrames))
		}
	}
	return out
}

// PulseWidth returns the high time of one trigger pulse.
func (c *Config) PulseWidth() time.Duration {
	return time.Duration(c.Trigger.PulseWidthUs) * time.Microsecond
}

// FrameTimeout returns the per-frame acknowledgment timeout, 0 if disabled.
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.Session.FrameTimeoutMs) * time.Millisecond
}

// Debounce returns the acknowledgment debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Acknowledgment.DebounceUs) * time.Microsecond
}

// PollInterval returns the pause between two samples in polled mode.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Acknowledgment.PollIntervalUs) * time.Microsecond
}

// MockAckDelay returns the latency of the mock trigger-to-acknowledgment loopback.
func (c *Config) MockAckDelay() time.Duration {
	return time.Duration(c.Defaults.MockAckDelayUs) * time.Microsecond
}

// StartByte returns the command byte that starts a session.
func (c *Config) StartByte() byte {
	return c.Command.StartByte[0]
}
