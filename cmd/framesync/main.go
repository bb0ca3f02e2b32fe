package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cjeanneret/FrameSync/internal/command"
	"github.com/cjeanneret/FrameSync/internal/config"
	"github.com/cjeanneret/FrameSync/internal/debug"
	"github.com/cjeanneret/FrameSync/internal/hw/ack"
	"github.com/cjeanneret/FrameSync/internal/hw/gpio"
	"github.com/cjeanneret/FrameSync/internal/hw/indicator"
	"github.com/cjeanneret/FrameSync/internal/hw/trigger"
	"github.com/cjeanneret/FrameSync/internal/logic/framesync"
	"github.com/cjeanneret/FrameSync/internal/logic/timing"
	"github.com/cjeanneret/FrameSync/internal/notify"
)

// overrides holds CLI values that replace configuration entries.
// Zero values (and a negative timeout) mean "use config".
type overrides struct {
	frames  int
	mode    string
	timeout time.Duration
}

func main() {
	// CLI flags
	cfgPath := flag.String("config", config.DefaultPath, "path to config file")
	frames := flag.Int("frames", 0, "override session.target_frames")
	mode := flag.String("mode", "", "override acknowledgment.mode (interrupt|polled)")
	timeout := flag.Duration("timeout", -1, "override per-frame acknowledgment timeout, 0 waits forever")
	once := flag.Bool("once", false, "run a single capture session and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyOverrides(cfg, overrides{frames: *frames, mode: *mode, timeout: *timeout}); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	for _, w := range cfg.Warnings() {
		log.Printf("warning: %s", w)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("GPIO backend", cfg.Defaults.GPIOBackend)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.GPIOBackend, cfg.Defaults.GPIOChip)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()
	if mock, ok := gpioDriver.(*gpio.MockDriver); ok {
		mock.SetLoopback(gpio.Loopback{
			From:      cfg.Trigger.Pin,
			To:        cfg.Acknowledgment.Pin,
			Delay:     cfg.MockAckDelay(),
			ActiveLow: cfg.Trigger.ActiveLow,
		})
		debug.Value("Mock acknowledgment delay", cfg.MockAckDelay())
	}

	// Initialize outputs
	debug.Step(2, "Initializing trigger and indicators")
	pulser, err := trigger.NewPulseGenerator(gpioDriver, trigger.Config{
		Pin:       cfg.Trigger.Pin,
		ActiveLow: cfg.Trigger.ActiveLow,
		Width:     cfg.PulseWidth(),
		PerFrame:  cfg.Trigger.PulsesPerFrame,
	})
	if err != nil {
		log.Fatalf("init trigger failed: %v", err)
	}
	debug.PrintStruct("Trigger config", cfg.Trigger)
	indicators, err := indicator.New(gpioDriver, indicatorTable(cfg))
	if err != nil {
		log.Fatalf("init indicators failed: %v", err)
	}
	debug.PrintStruct("Indicators", cfg.Indicators)

	// Notifications
	broadcaster := notify.NewBroadcaster()
	events, unsubPrint := broadcaster.Subscribe()
	printed := make(chan struct{})
	go func() {
		notify.Print(os.Stdout, events)
		close(printed)
	}()
	defer func() {
		unsubPrint()
		<-printed
	}()

	// Controller and acknowledgment detector
	debug.Step(3, "Initializing frame sync controller")
	deps := framesync.Deps{
		Trigger:    pulser,
		Indicators: indicators,
		Sink:       broadcaster,
	}
	ackMode := ack.Mode(cfg.Acknowledgment.Mode)
	if ackMode == ack.ModePolled {
		poller, err := ack.NewPolledDetector(gpioDriver, timing.NewMonotonicClock(), ack.PolledConfig{
			Pin:      cfg.Acknowledgment.Pin,
			Interval: cfg.PollInterval(),
		})
		if err != nil {
			log.Fatalf("init acknowledgment poller failed: %v", err)
		}
		deps.Poller = poller
	}
	ctrl, err := framesync.New(framesync.Config{
		TargetFrames: cfg.Session.TargetFrames,
		FrameTimeout: cfg.FrameTimeout(),
		Mode:         ackMode,
		StartPolicy:  framesync.StartPolicy(cfg.Session.OnStartWhileActive),
	}, deps)
	if err != nil {
		log.Fatalf("init controller failed: %v", err)
	}
	debug.PrintStruct("Session config", cfg.Session)

	if ackMode == ack.ModeInterrupt {
		watcher, ok := gpioDriver.(gpio.EdgeWatcher)
		if !ok {
			log.Fatalf("GPIO backend %s cannot watch edges, use polled mode", cfg.Defaults.GPIOBackend)
		}
		detector := ack.NewInterruptDetector(watcher, ack.InterruptConfig{
			Pin:      cfg.Acknowledgment.Pin,
			Pull:     parsePull(cfg.Acknowledgment.Pull),
			Debounce: cfg.Debounce(),
			// rpio only latches rising edges.
			FallingGate: cfg.Defaults.GPIOBackend != gpio.BackendRPi,
		})
		if err := detector.Start(ctrl.OnAcknowledgment); err != nil {
			log.Fatalf("start acknowledgment detector failed: %v", err)
		}
		defer func() {
			if err := detector.Stop(); err != nil {
				log.Printf("stopping acknowledgment detector failed: %v", err)
			}
		}()
	}
	debug.Value("Detection mode", ackMode)
	debug.Value("Target frames", ctrl.Target())

	if *once {
		debug.Section("Single session")
		if err := runOnce(ctx, ctrl); err != nil {
			log.Printf("capture failed: %v", err)
		}
		return
	}

	// Command loop
	debug.Step(4, "Opening command source")
	src, reply, closeSrc, err := openCommandSource(cfg)
	if err != nil {
		log.Fatalf("open command source failed: %v", err)
	}
	defer closeSrc()
	if reply != nil {
		replies, unsubReply := broadcaster.Subscribe()
		defer unsubReply()
		go command.Reply(reply, replies)
	}

	dispatcher := command.NewDispatcher(ctrl, cfg.StartByte(), ackMode == ack.ModePolled)
	debug.Section("Ready")
	debug.Info("Press %q to capture %d frames", cfg.Command.StartByte, ctrl.Target())

	runErr := make(chan error, 1)
	go func() { runErr <- dispatcher.Run(ctx, src) }()

	select {
	case <-ctx.Done():
		debug.Info("Shutting down")
	case err := <-runErr:
		if err != nil {
			log.Printf("command source: %v", err)
		}
		// End of input: let a running session finish.
		if err := ctrl.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("last session: %v", err)
		}
	}
	ctrl.Abort()
}

// runOnce starts one session and waits for its outcome. A cancelled ctx
// aborts the session.
func runOnce(ctx context.Context, ctrl *framesync.Controller) error {
	err := ctrl.Start(ctx)
	if err == nil {
		err = ctrl.Wait(ctx)
	}
	if ctx.Err() != nil {
		ctrl.Abort()
	}
	return err
}

// openCommandSource returns the byte stream to read commands from and,
// for a serial link, the writer receiving replies.
func openCommandSource(cfg *config.Config) (io.Reader, io.Writer, func(), error) {
	if cfg.Command.SerialPort == "" {
		debug.Value("Command source", "stdin")
		return os.Stdin, nil, func() {}, nil
	}
	port, err := command.OpenSerial(cfg.Command.SerialPort, cfg.Command.Baud)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := port.Close(); err != nil {
			log.Printf("closing serial port failed: %v", err)
		}
	}
	return port, port, closeFn, nil
}

// applyOverrides mutates cfg with CLI overrides and revalidates it.
func applyOverrides(cfg *config.Config, o overrides) error {
	if o.frames < 0 {
		return fmt.Errorf("frames must be > 0, got %d", o.frames)
	}
	if o.frames > 0 {
		cfg.Session.TargetFrames = o.frames
	}
	if o.mode != "" {
		cfg.Acknowledgment.Mode = o.mode
	}
	if o.timeout >= 0 {
		if o.timeout > 0 && o.timeout < time.Millisecond {
			return fmt.Errorf("timeout must be 0 or at least 1ms, got %v", o.timeout)
		}
		cfg.Session.FrameTimeoutMs = int(o.timeout / time.Millisecond)
	}
	return cfg.Validate()
}

func indicatorTable(cfg *config.Config) []indicator.Channel {
	table := make([]indicator.Channel, 0, len(cfg.Indicators))
	for _, ind := range cfg.Indicators {
		table = append(table, indicator.Channel{
			Name:      ind.Name,
			Pin:       ind.Pin,
			Threshold: ind.Threshold,
			ActiveLow: ind.ActiveLow,
		})
	}
	return table
}

func parsePull(s string) gpio.Pull {
	switch s {
	case "up":
		return gpio.PullUp
	case "down":
		return gpio.PullDown
	default:
		return gpio.PullNone
	}
}
