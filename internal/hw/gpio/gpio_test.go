package gpio

import (
	"sync"
	"testing"
	"time"
)

func TestMockDriver_ZeroValueUsable(t *testing.T) {
	drv := &MockDriver{}
	if err := drv.WritePin(17, High); err != nil {
		t.Fatalf("WritePin: %v", err)
	}
	lvl, err := drv.ReadPin(17)
	if err != nil {
		t.Fatalf("ReadPin: %v", err)
	}
	if lvl != High {
		t.Errorf("ReadPin = %v, want HIGH", lvl)
	}
	if lvl, _ := drv.ReadPin(99); lvl != Low {
		t.Errorf("unset pin = %v, want LOW", lvl)
	}
}

func TestMockDriver_InjectNotifiesOnChangeOnly(t *testing.T) {
	drv := NewMockDriver()
	var got []EdgeEvent
	stop, err := drv.WatchEdges(4, WatchOptions{}, func(e EdgeEvent) { got = append(got, e) })
	if err != nil {
		t.Fatalf("WatchEdges: %v", err)
	}

	drv.InjectAt(4, High, 10*time.Microsecond)
	drv.InjectAt(4, High, 20*time.Microsecond) // no change
	drv.InjectAt(4, Low, 30*time.Microsecond)
	drv.InjectAt(5, High, 40*time.Microsecond) // other pin

	if len(got) != 2 {
		t.Fatalf("events = %d, want 2: %+v", len(got), got)
	}
	if !got[0].Rising || got[0].Time != 10*time.Microsecond || got[0].Pin != 4 {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Rising {
		t.Errorf("second event should be falling: %+v", got[1])
	}

	_ = stop()
	drv.InjectAt(4, High, 50*time.Microsecond)
	if len(got) != 2 {
		t.Errorf("handler called after stop")
	}
}

func TestMockDriver_Loopback(t *testing.T) {
	drv := NewMockDriver()
	drv.SetLoopback(Loopback{From: 17, To: 4, Delay: time.Millisecond})

	var mu sync.Mutex
	var rising, falling int
	done := make(chan struct{})
	_, _ = drv.WatchEdges(4, WatchOptions{}, func(e EdgeEvent) {
		mu.Lock()
		defer mu.Unlock()
		if e.Rising {
			rising++
		} else {
			falling++
			close(done)
		}
	})

	_ = drv.WritePin(17, High)
	_ = drv.WritePin(17, Low)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for loopback pulse")
	}
	mu.Lock()
	defer mu.Unlock()
	if rising != 1 || falling != 1 {
		t.Errorf("rising=%d falling=%d, want 1/1", rising, falling)
	}
}

func TestMockDriver_LoopbackIgnoresHeldHigh(t *testing.T) {
	drv := NewMockDriver()
	drv.SetLoopback(Loopback{From: 17, To: 4, Delay: 0})

	var mu sync.Mutex
	rising := 0
	_, _ = drv.WatchEdges(4, WatchOptions{}, func(e EdgeEvent) {
		mu.Lock()
		if e.Rising {
			rising++
		}
		mu.Unlock()
	})

	_ = drv.WritePin(17, High)
	_ = drv.WritePin(17, High) // still high: not a new pulse
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if rising != 1 {
		t.Errorf("rising = %d, want 1", rising)
	}
}

func TestMockDriver_LoopbackActiveLowEchoesAssertion(t *testing.T) {
	drv := NewMockDriver()
	drv.SetLoopback(Loopback{From: 17, To: 4, Delay: 0, Width: time.Millisecond, ActiveLow: true})

	rising := make(chan struct{}, 4)
	_, _ = drv.WatchEdges(4, WatchOptions{}, func(e EdgeEvent) {
		if e.Rising {
			rising <- struct{}{}
		}
	})

	// Driving the line HIGH releases an active-low trigger.
	_ = drv.WritePin(17, High)
	select {
	case <-rising:
		t.Fatal("release of an active-low trigger echoed an acknowledgment")
	case <-time.After(20 * time.Millisecond):
	}

	_ = drv.WritePin(17, Low)
	select {
	case <-rising:
	case <-time.After(time.Second):
		t.Fatal("assertion of an active-low trigger was not echoed")
	}
}

func TestMockDriver_LoopbackWidth(t *testing.T) {
	drv := NewMockDriver()
	drv.SetLoopback(Loopback{From: 17, To: 4, Delay: 0, Width: 50 * time.Millisecond})

	var mu sync.Mutex
	var up, down time.Time
	done := make(chan struct{})
	_, _ = drv.WatchEdges(4, WatchOptions{}, func(e EdgeEvent) {
		mu.Lock()
		defer mu.Unlock()
		if e.Rising {
			up = time.Now()
			return
		}
		down = time.Now()
		close(done)
	})

	_ = drv.WritePin(17, High)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for loopback pulse")
	}
	mu.Lock()
	defer mu.Unlock()
	if held := down.Sub(up); held < 50*time.Millisecond {
		t.Errorf("acknowledgment held high for %v, want at least 50ms", held)
	}
}

func TestOutputLine_ActiveHigh(t *testing.T) {
	drv := NewMockDriver()
	l, err := NewOutputLine(drv, 27, false)
	if err != nil {
		t.Fatalf("NewOutputLine: %v", err)
	}
	if lvl, _ := drv.ReadPin(27); lvl != Low {
		t.Errorf("initial = %v, want LOW (off)", lvl)
	}
	_ = l.Set(true)
	if lvl, _ := drv.ReadPin(27); lvl != High {
		t.Errorf("on = %v, want HIGH", lvl)
	}
	if l.Pin() != 27 {
		t.Errorf("Pin = %d", l.Pin())
	}
}

func TestOutputLine_ActiveLow(t *testing.T) {
	drv := NewMockDriver()
	l, err := NewOutputLine(drv, 22, true)
	if err != nil {
		t.Fatalf("NewOutputLine: %v", err)
	}
	if lvl, _ := drv.ReadPin(22); lvl != High {
		t.Errorf("initial = %v, want HIGH (off, active-low)", lvl)
	}
	_ = l.Set(true)
	if lvl, _ := drv.ReadPin(22); lvl != Low {
		t.Errorf("on = %v, want LOW", lvl)
	}
}

func TestNewDriver_Backends(t *testing.T) {
	d, err := NewDriver(BackendMock, "")
	if err != nil {
		t.Fatalf("mock backend: %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("mock backend returned %T", d)
	}
	if _, err := NewDriver("bogus", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestDriversImplementEdgeWatcher(t *testing.T) {
	var _ EdgeWatcher = &MockDriver{}
	var _ EdgeWatcher = &RPiDriver{}
	var _ EdgeWatcher = &CdevDriver{}
}
