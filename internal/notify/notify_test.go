package notify

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/FrameSync/internal/logic/timing"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		e    Event
		want string
	}{
		{Event{Kind: FrameReceived, Frame: 1}, "Frame 1 received."},
		{Event{Kind: FrameReceived, Frame: 2, Delta: 1000, HasDelta: true}, "Frame 2 received. Δt = 1000 µs"},
		{Event{Kind: FrameReceived, Frame: 3, Delta: 0, HasDelta: true}, "Frame 3 received. Δt = 0 µs"},
		{Event{Kind: ChannelOn, Frame: 1, Channel: "LED1"}, "LED1 ON"},
		{Event{Kind: SessionComplete, Frame: 4}, "Captured 4 frames. Done."},
		{Event{Kind: SessionStarted, Target: 3}, "Capturing 3 frames..."},
		{Event{Kind: SessionAborted, Frame: 1, Target: 4, Err: errors.New("timeout")}, "Capture aborted after 1 of 4 frames: timeout"},
		{Event{Kind: StartRejected, Err: errors.New("busy")}, "Start ignored: busy"},
	}
	for _, tc := range cases {
		if got := Format(tc.e); got != tc.want {
			t.Errorf("Format(%v) = %q, want %q", tc.e.Kind, got, tc.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if SessionComplete.String() != "session_complete" {
		t.Errorf("got %q", SessionComplete.String())
	}
	if Kind(42).String() != "kind(42)" {
		t.Errorf("got %q", Kind(42).String())
	}
}

func TestBroadcaster_SubscribeAndReceive(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Notify(Event{Kind: FrameReceived, Frame: 1})

	select {
	case e := <-ch:
		if e.Kind != FrameReceived || e.Frame != 1 {
			t.Errorf("got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Notify(Event{Kind: SessionComplete, Frame: 4})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Kind != SessionComplete {
				t.Errorf("subscriber %d: got %v", i, e.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timeout", i)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	// Notifying after unsubscribe should not panic
	b.Notify(Event{Kind: FrameReceived})
}

func TestBroadcaster_FullChannelDropsEvent(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer; i++ {
		b.Notify(Event{Kind: FrameReceived, Frame: i})
	}
	b.Notify(Event{Kind: SessionComplete}) // dropped, must not block

	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		default:
		}
		break
	}
	if count != subscriberBuffer {
		t.Errorf("expected %d buffered events, got %d", subscriberBuffer, count)
	}
}

func TestPrint(t *testing.T) {
	ch := make(chan Event, 3)
	ch <- Event{Kind: FrameReceived, Frame: 1}
	ch <- Event{Kind: FrameReceived, Frame: 2, Delta: timing.Ticks(1500), HasDelta: true}
	ch <- Event{Kind: SessionComplete, Frame: 2}
	close(ch)

	var buf bytes.Buffer
	Print(&buf, ch)
	want := "Frame 1 received.\nFrame 2 received. Δt = 1500 µs\nCaptured 2 frames. Done.\n"
	if buf.String() != want {
		t.Errorf("Print output = %q, want %q", buf.String(), want)
	}
}

func TestSinkFunc(t *testing.T) {
	var got []Kind
	var s Sink = SinkFunc(func(e Event) { got = append(got, e.Kind) })
	s.Notify(Event{Kind: ChannelOn})
	Discard.Notify(Event{Kind: ChannelOn})
	if len(got) != 1 || got[0] != ChannelOn {
		t.Errorf("got %v", got)
	}
}
