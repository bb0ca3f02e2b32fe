package framesync

import (
	"context"

	"github.com/cjeanneret/FrameSync/internal/debug"
	"github.com/looplab/fsm"
)

// Session states.
const (
	StateIdle         = "idle"
	StateArmed        = "armed"
	StateAwaitingEdge = "awaiting_edge"
	StateProcessing   = "processing"
	StateComplete     = "complete"
)

// Transition events.
const (
	eventStart    = "start"
	eventEdge     = "edge"
	eventRearm    = "rearm"
	eventComplete = "complete"
	eventReset    = "reset"
	eventAbort    = "abort"
)

func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateArmed},
			{Name: eventEdge, Src: []string{StateArmed, StateAwaitingEdge}, Dst: StateProcessing},
			{Name: eventRearm, Src: []string{StateProcessing}, Dst: StateAwaitingEdge},
			{Name: eventComplete, Src: []string{StateProcessing}, Dst: StateComplete},
			{Name: eventReset, Src: []string{StateComplete}, Dst: StateIdle},
			{Name: eventAbort, Src: []string{StateArmed, StateAwaitingEdge, StateProcessing}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				debug.Transition(e.Event, e.Src, e.Dst)
			},
		},
	)
}
