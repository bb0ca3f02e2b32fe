// Package framesync implements the trigger/acknowledge handshake: it fires
// the camera trigger, counts acknowledged frames, measures the time between
// them, drives the indicators and decides when a capture session is over.
//
// In interrupt mode Start returns as soon as the first pulse is out and the
// session advances from OnAcknowledgment, which the edge detector calls on
// its own goroutine. In polled mode Start blocks and runs the whole session
// on the caller's goroutine. Either way all session state lives behind the
// controller mutex, so Abort, Start and edge delivery may race freely.
package framesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/FrameSync/internal/debug"
	"github.com/cjeanneret/FrameSync/internal/hw/ack"
	"github.com/cjeanneret/FrameSync/internal/hw/trigger"
	"github.com/cjeanneret/FrameSync/internal/logic/timing"
	"github.com/cjeanneret/FrameSync/internal/notify"
	"github.com/looplab/fsm"
)

var (
	// ErrSessionActive is returned by Start while a session is running
	// and the start policy is reject.
	ErrSessionActive = errors.New("session already active")
	// ErrFrameTimeout aborts a session when no acknowledgment arrives in time.
	ErrFrameTimeout = errors.New("frame timeout")
	// ErrAborted is the outcome of a session stopped through Abort.
	ErrAborted = errors.New("session aborted")
	// ErrRestarted is the outcome of a session abandoned by a restart.
	ErrRestarted = errors.New("session restarted")
)

// StartPolicy decides what a start request does while a session is active.
type StartPolicy string

const (
	// StartReject refuses the request and leaves the running session alone.
	StartReject StartPolicy = "reject"
	// StartRestart abandons the running session and starts a new one.
	StartRestart StartPolicy = "restart"
)

// Indicators is the indicator capability used by the controller.
type Indicators interface {
	Apply(frameCount int) ([]string, error)
	Reset() error
}

// Poller is the blocking acknowledgment wait used in polled mode.
type Poller interface {
	WaitRising(ctx context.Context, deadline time.Time, cancel <-chan struct{}) (ack.Event, error)
	WaitFalling(ctx context.Context, deadline time.Time, cancel <-chan struct{}) error
}

// Config holds the session parameters.
type Config struct {
	TargetFrames int
	FrameTimeout time.Duration // 0 waits forever
	Mode         ack.Mode
	StartPolicy  StartPolicy
}

// Deps are the hardware collaborators. Poller is required in polled mode.
type Deps struct {
	Trigger    trigger.Pulser
	Indicators Indicators
	Poller     Poller
	Sink       notify.Sink
}

type session struct {
	target   int
	received int
	hasLast  bool
	last     timing.Ticks
	stats    timing.Stats
	timer    *time.Timer
	timerGen uint64
	cancel   chan struct{}
	done     chan struct{}
	err      error
}

// Controller owns the capture session state machine.
type Controller struct {
	cfg        Config
	trigger    trigger.Pulser
	indicators Indicators
	poller     Poller
	sink       notify.Sink

	mu      sync.Mutex
	fsm     *fsm.FSM
	session *session
	last    *session
}

// New validates cfg and returns an idle controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	if cfg.TargetFrames <= 0 {
		return nil, fmt.Errorf("target frames must be > 0, got %d", cfg.TargetFrames)
	}
	if cfg.Mode == "" {
		cfg.Mode = ack.ModeInterrupt
	}
	if cfg.Mode != ack.ModeInterrupt && cfg.Mode != ack.ModePolled {
		return nil, fmt.Errorf("unknown detection mode: %q", cfg.Mode)
	}
	if cfg.StartPolicy == "" {
		cfg.StartPolicy = StartReject
	}
	if cfg.StartPolicy != StartReject && cfg.StartPolicy != StartRestart {
		return nil, fmt.Errorf("unknown start policy: %q", cfg.StartPolicy)
	}
	if deps.Trigger == nil {
		return nil, errors.New("trigger is required")
	}
	if cfg.Mode == ack.ModePolled && deps.Poller == nil {
		return nil, errors.New("polled mode requires a poller")
	}
	if deps.Sink == nil {
		deps.Sink = notify.Discard
	}

	return &Controller{
		cfg:        cfg,
		trigger:    deps.Trigger,
		indicators: deps.Indicators,
		poller:     deps.Poller,
		sink:       deps.Sink,
		fsm:        newSessionFSM(),
	}, nil
}

// Start begins a capture session.
//
// In interrupt mode it fires the first trigger pulse and returns. In polled
// mode it runs the session to its end and returns its outcome. While a
// session is active it returns ErrSessionActive, unless the start policy
// is restart.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if cur := c.session; cur != nil {
		if c.cfg.StartPolicy != StartRestart {
			c.sink.Notify(notify.Event{
				Kind:   notify.StartRejected,
				Frame:  cur.received,
				Target: cur.target,
				Err:    ErrSessionActive,
			})
			c.mu.Unlock()
			debug.Verbose("Start rejected: session in state %s", c.fsm.Current())
			return ErrSessionActive
		}
		c.abortLocked(cur, ErrRestarted)
	}

	s := &session{
		target: c.cfg.TargetFrames,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.session = s
	c.transition(eventStart)
	debug.Session("started", s.target)
	c.sink.Notify(notify.Event{Kind: notify.SessionStarted, Target: s.target})

	if c.indicators != nil {
		if err := c.indicators.Reset(); err != nil {
			c.abortLocked(s, fmt.Errorf("reset indicators: %w", err))
			c.mu.Unlock()
			return s.err
		}
	}

	if c.cfg.Mode == ack.ModePolled {
		c.mu.Unlock()
		return c.runPolled(ctx, s)
	}

	err := c.fireLocked(s)
	c.mu.Unlock()
	return err
}

// OnAcknowledgment processes one accepted rising edge in interrupt mode.
// Edges arriving with no active session are discarded. In polled mode the
// poller is the only edge source and calls here are ignored.
func (c *Controller) OnAcknowledgment(ev ack.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil || c.cfg.Mode != ack.ModeInterrupt || !c.fsm.Can(eventEdge) {
		debug.Trace("Spurious acknowledgment edge at %d discarded (state %s)", ev.Timestamp, c.fsm.Current())
		return
	}
	if done := c.handleEdgeLocked(s, ev); !done {
		_ = c.fireLocked(s)
	}
}

// Abort stops the active session, leaves the trigger line off and returns
// the controller to idle. It reports whether a session was running.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return false
	}
	c.abortLocked(c.session, ErrAborted)
	return true
}

// Wait blocks until the active session ends and returns its outcome. With
// no active session it returns the outcome of the previous one.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		s = c.last
	}
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current session state name.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fsm.Current()
}

// FramesReceived returns the frame count of the active session, or of the
// previous one when idle.
func (c *Controller) FramesReceived() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session.received
	}
	if c.last != nil {
		return c.last.received
	}
	return 0
}

// Target returns the configured frame count per session.
func (c *Controller) Target() int { return c.cfg.TargetFrames }

// Mode returns the acknowledgment detection mode.
func (c *Controller) Mode() ack.Mode { return c.cfg.Mode }

// handleEdgeLocked runs Processing for one frame and reports whether the
// session ended.
func (c *Controller) handleEdgeLocked(s *session, ev ack.Event) bool {
	stopTimer(s)
	c.transition(eventEdge)

	s.received++
	n := s.received
	e := notify.Event{Kind: notify.FrameReceived, Frame: n, Target: s.target}
	if s.hasLast {
		e.Delta = timing.Delta(s.last, ev.Timestamp)
		e.HasDelta = true
		s.stats.Add(e.Delta)
		debug.Frame(n, int64(e.Delta))
	} else {
		debug.Frame(n, -1)
	}
	s.last = ev.Timestamp
	s.hasLast = true
	c.sink.Notify(e)

	if c.indicators != nil {
		fired, err := c.indicators.Apply(n)
		for _, name := range fired {
			c.sink.Notify(notify.Event{Kind: notify.ChannelOn, Frame: n, Target: s.target, Channel: name})
		}
		if err != nil {
			c.abortLocked(s, err)
			return true
		}
	}

	if n >= s.target {
		c.transition(eventComplete)
		c.sink.Notify(notify.Event{Kind: notify.SessionComplete, Frame: n, Target: s.target, Stats: s.stats})
		debug.Session("complete", s.target)
		if s.stats.Count > 0 {
			debug.Info("Δt min/mean/max = %d/%d/%d µs", s.stats.Min, s.stats.Mean(), s.stats.Max)
		}
		c.transition(eventReset)
		c.finishLocked(s, nil)
		return true
	}

	c.transition(eventRearm)
	return false
}

// fireLocked emits the trigger pulse for the next frame and, in interrupt
// mode, arms the frame timeout.
func (c *Controller) fireLocked(s *session) error {
	if err := c.trigger.Fire(); err != nil {
		err = fmt.Errorf("fire trigger: %w", err)
		c.abortLocked(s, err)
		return err
	}
	if c.cfg.Mode == ack.ModeInterrupt && c.cfg.FrameTimeout > 0 {
		stopTimer(s)
		gen := s.timerGen
		s.timer = time.AfterFunc(c.cfg.FrameTimeout, func() { c.expire(s, gen) })
	}
	return nil
}

// expire runs on the timer goroutine. A timer stopped after it fired may
// still get here, so the generation must match the armed one.
func (c *Controller) expire(s *session, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s || s.timerGen != gen {
		return
	}
	c.abortLocked(s, c.timeoutError())
}

func (c *Controller) timeoutError() error {
	return fmt.Errorf("%w: no acknowledgment within %v", ErrFrameTimeout, c.cfg.FrameTimeout)
}

func (c *Controller) abortLocked(s *session, reason error) {
	if c.fsm.Can(eventAbort) {
		c.transition(eventAbort)
	} else if c.fsm.Current() != StateIdle {
		c.fsm.SetState(StateIdle)
	}
	if err := c.trigger.Release(); err != nil {
		debug.Error(fmt.Errorf("release trigger: %w", err))
	}
	close(s.cancel)
	c.sink.Notify(notify.Event{Kind: notify.SessionAborted, Frame: s.received, Target: s.target, Err: reason})
	debug.Error(fmt.Errorf("session aborted after %d/%d frames: %w", s.received, s.target, reason))
	c.finishLocked(s, reason)
}

func (c *Controller) finishLocked(s *session, err error) {
	stopTimer(s)
	s.err = err
	close(s.done)
	if c.session == s {
		c.session = nil
	}
	c.last = s
}

func (c *Controller) transition(event string) {
	if err := c.fsm.Event(context.Background(), event); err != nil {
		debug.Error(fmt.Errorf("session transition %s from %s: %w", event, c.fsm.Current(), err))
	}
}

func stopTimer(s *session) {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
