package framesync

import (
	"context"
	"errors"
	"time"

	"github.com/cjeanneret/FrameSync/internal/hw/ack"
)

// runPolled drives a session from the calling goroutine. Each frame waits
// for the acknowledgment line to be low, fires the trigger, then waits for
// it to go high. Waiting for low first keeps a line still high from the
// previous pulse from being counted again.
func (c *Controller) runPolled(ctx context.Context, s *session) error {
	for {
		deadline := c.deadline()

		if err := c.poller.WaitFalling(ctx, deadline, s.cancel); err != nil {
			return c.pollFailed(s, err)
		}

		c.mu.Lock()
		if c.session != s {
			c.mu.Unlock()
			return s.err
		}
		if err := c.fireLocked(s); err != nil {
			c.mu.Unlock()
			return err
		}
		c.mu.Unlock()

		ev, err := c.poller.WaitRising(ctx, deadline, s.cancel)
		if err != nil {
			return c.pollFailed(s, err)
		}

		c.mu.Lock()
		if c.session != s {
			c.mu.Unlock()
			return s.err
		}
		done := c.handleEdgeLocked(s, ev)
		c.mu.Unlock()
		if done {
			return s.err
		}
	}
}

func (c *Controller) deadline() time.Time {
	if c.cfg.FrameTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.cfg.FrameTimeout)
}

// pollFailed turns a failed wait into the session outcome. A wait cancelled
// by Abort or a restart already has one.
func (c *Controller) pollFailed(s *session, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return s.err
	}

	reason := err
	switch {
	case errors.Is(err, ack.ErrTimeout):
		reason = c.timeoutError()
	case errors.Is(err, ack.ErrCanceled):
		reason = ErrAborted
	}
	c.abortLocked(s, reason)
	return reason
}
