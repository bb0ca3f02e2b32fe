package notify

import (
	"fmt"

	"github.com/cjeanneret/FrameSync/internal/logic/timing"
)

// Kind identifies a session notification.
type Kind int

const (
	SessionStarted Kind = iota
	FrameReceived
	ChannelOn
	SessionComplete
	SessionAborted
	StartRejected
)

func (k Kind) String() string {
	switch k {
	case SessionStarted:
		return "session_started"
	case FrameReceived:
		return "frame_received"
	case ChannelOn:
		return "channel_on"
	case SessionComplete:
		return "session_complete"
	case SessionAborted:
		return "session_aborted"
	case StartRejected:
		return "start_rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one notification emitted by the frame controller.
type Event struct {
	Kind     Kind
	Frame    int          // frames received so far (FrameReceived, ChannelOn, SessionComplete, SessionAborted)
	Target   int          // session target frame count
	Delta    timing.Ticks // microseconds since the previous frame, valid when HasDelta
	HasDelta bool
	Channel  string       // ChannelOn only
	Err      error        // SessionAborted, StartRejected
	Stats    timing.Stats // SessionComplete only
}

// Sink receives notifications in emission order.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Format renders an event as a human-readable line.
func Format(e Event) string {
	switch e.Kind {
	case SessionStarted:
		return fmt.Sprintf("Capturing %d frames...", e.Target)
	case FrameReceived:
		if !e.HasDelta {
			return fmt.Sprintf("Frame %d received.", e.Frame)
		}
		return fmt.Sprintf("Frame %d received. Δt = %d µs", e.Frame, uint32(e.Delta))
	case ChannelOn:
		return fmt.Sprintf("%s ON", e.Channel)
	case SessionComplete:
		return fmt.Sprintf("Captured %d frames. Done.", e.Frame)
	case SessionAborted:
		return fmt.Sprintf("Capture aborted after %d of %d frames: %v", e.Frame, e.Target, e.Err)
	case StartRejected:
		return fmt.Sprintf("Start ignored: %v", e.Err)
	default:
		return e.Kind.String()
	}
}
