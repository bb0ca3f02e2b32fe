package command

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/FrameSync/internal/notify"
)

// recordingStarter counts Start calls and can block until released.
type recordingStarter struct {
	mu      sync.Mutex
	calls   int
	err     error
	release chan struct{}
}

func (s *recordingStarter) Start(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.release != nil {
		<-s.release
	}
	return s.err
}

func (s *recordingStarter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDispatcher_StartByteCaseInsensitive(t *testing.T) {
	s := &recordingStarter{}
	d := NewDispatcher(s, 'q', false)

	if err := d.Run(context.Background(), strings.NewReader("xqQ\n q")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.count() != 3 {
		t.Errorf("Start calls = %d, want 3", s.count())
	}
}

func TestDispatcher_UpperCaseConfiguredByte(t *testing.T) {
	s := &recordingStarter{}
	d := NewDispatcher(s, 'S', false)
	_ = d.Run(context.Background(), strings.NewReader("sSqx"))
	if s.count() != 2 {
		t.Errorf("Start calls = %d, want 2", s.count())
	}
}

func TestDispatcher_OtherBytesIgnored(t *testing.T) {
	s := &recordingStarter{}
	d := NewDispatcher(s, 'q', false)
	for _, b := range []byte("abc123\r\n\x00\xff") {
		if d.Handle(context.Background(), b) {
			t.Errorf("byte %q treated as start", b)
		}
	}
	if s.count() != 0 {
		t.Errorf("Start calls = %d, want 0", s.count())
	}
}

func TestDispatcher_StartErrorDoesNotStopRun(t *testing.T) {
	s := &recordingStarter{err: errors.New("busy")}
	d := NewDispatcher(s, 'q', false)
	if err := d.Run(context.Background(), strings.NewReader("qq")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.count() != 2 {
		t.Errorf("Start calls = %d, want 2", s.count())
	}
}

func TestDispatcher_AsyncDoesNotBlockReading(t *testing.T) {
	s := &recordingStarter{release: make(chan struct{})}
	d := NewDispatcher(s, 'q', true)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), strings.NewReader("qq")) }()

	deadline := time.Now().Add(time.Second)
	for s.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.count() != 2 {
		t.Fatalf("Start calls = %d, want 2 while the first is still running", s.count())
	}

	// Run waits for in-flight starts.
	select {
	case <-done:
		t.Fatal("Run returned before the running starts finished")
	case <-time.After(10 * time.Millisecond):
	}
	close(s.release)
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestDispatcher_ReadError(t *testing.T) {
	d := NewDispatcher(&recordingStarter{}, 'q', false)
	err := d.Run(context.Background(), errReader{errors.New("device gone")})
	if err == nil || !strings.Contains(err.Error(), "device gone") {
		t.Errorf("Run = %v, want wrapped read error", err)
	}
}

// timeoutReader mimics a serial port with a read timeout: it returns
// (0, nil) when no byte is pending.
type timeoutReader struct{ reads int }

func (r *timeoutReader) Read([]byte) (int, error) {
	r.reads++
	time.Sleep(time.Millisecond)
	return 0, nil
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(&recordingStarter{}, 'q', false)
	r := &timeoutReader{}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, r) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestReplyLine(t *testing.T) {
	cases := []struct {
		e    notify.Event
		want string
		ok   bool
	}{
		{notify.Event{Kind: notify.SessionStarted, Target: 4}, "OK 4", true},
		{notify.Event{Kind: notify.StartRejected, Frame: 2, Target: 4}, "ERR busy", true},
		{notify.Event{Kind: notify.SessionComplete, Frame: 4, Target: 4}, "DONE 4", true},
		{notify.Event{Kind: notify.SessionAborted, Frame: 1, Target: 4}, "ERR abort 1/4", true},
		{notify.Event{Kind: notify.FrameReceived, Frame: 1}, "", false},
		{notify.Event{Kind: notify.ChannelOn, Channel: "A"}, "", false},
	}
	for _, tc := range cases {
		got, ok := ReplyLine(tc.e)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ReplyLine(%v) = %q, %v; want %q, %v", tc.e.Kind, got, ok, tc.want, tc.ok)
		}
	}
}

func TestReply(t *testing.T) {
	ch := make(chan notify.Event, 4)
	ch <- notify.Event{Kind: notify.SessionStarted, Target: 3}
	ch <- notify.Event{Kind: notify.FrameReceived, Frame: 1}
	ch <- notify.Event{Kind: notify.StartRejected}
	ch <- notify.Event{Kind: notify.SessionComplete, Frame: 3}
	close(ch)

	var buf bytes.Buffer
	Reply(&buf, ch)
	if want := "OK 3\r\nERR busy\r\nDONE 3\r\n"; buf.String() != want {
		t.Errorf("Reply wrote %q, want %q", buf.String(), want)
	}
}

func TestResolvePort(t *testing.T) {
	orig := listPorts
	defer func() { listPorts = orig }()

	if got, err := ResolvePort("/dev/ttyUSB0"); err != nil || got != "/dev/ttyUSB0" {
		t.Errorf("explicit port = %q, %v", got, err)
	}

	listPorts = func() ([]string, error) { return []string{"/dev/ttyACM0", "/dev/ttyACM1"}, nil }
	if got, err := ResolvePort(AutoPort); err != nil || got != "/dev/ttyACM0" {
		t.Errorf("auto = %q, %v; want first port", got, err)
	}

	listPorts = func() ([]string, error) { return nil, nil }
	if _, err := ResolvePort(AutoPort); err == nil {
		t.Error("expected error when no port is present")
	}

	listPorts = func() ([]string, error) { return nil, errors.New("permission denied") }
	if _, err := ResolvePort(AutoPort); err == nil {
		t.Error("expected error when listing fails")
	}
}
