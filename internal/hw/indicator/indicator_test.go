package indicator

import (
	"reflect"
	"testing"

	"github.com/cjeanneret/FrameSync/internal/hw/gpio"
)

var defaultTable = []Channel{
	{Name: "A", Pin: 27, Threshold: 1},
	{Name: "B", Pin: 22, Threshold: 3},
	{Name: "C", Pin: 23, Threshold: 4},
}

func levels(t *testing.T, drv *gpio.MockDriver) map[string]gpio.Level {
	t.Helper()
	out := map[string]gpio.Level{}
	for _, c := range defaultTable {
		lvl, err := drv.ReadPin(c.Pin)
		if err != nil {
			t.Fatalf("ReadPin: %v", err)
		}
		out[c.Name] = lvl
	}
	return out
}

func TestApply_FiresOnlyAtThreshold(t *testing.T) {
	cases := []struct {
		count int
		want  []string
	}{
		{0, nil},
		{1, []string{"A"}},
		{2, nil},
		{3, []string{"B"}},
		{4, []string{"C"}},
		{5, nil},
	}
	for _, tc := range cases {
		drv := gpio.NewMockDriver()
		d, err := New(drv, defaultTable)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got, err := d.Apply(tc.count)
		if err != nil {
			t.Fatalf("Apply(%d): %v", tc.count, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Apply(%d) = %v, want %v", tc.count, got, tc.want)
		}
	}
}

func TestApply_Idempotent(t *testing.T) {
	drv := gpio.NewMockDriver()
	d, _ := New(drv, defaultTable)

	first, _ := d.Apply(3)
	s1 := levels(t, drv)
	second, _ := d.Apply(3)
	s2 := levels(t, drv)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("fired differs: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(s1, s2) {
		t.Errorf("output state differs: %v vs %v", s1, s2)
	}
	if s2["B"] != gpio.High || s2["A"] != gpio.Low || s2["C"] != gpio.Low {
		t.Errorf("unexpected levels %v", s2)
	}
}

func TestApply_SharedThreshold(t *testing.T) {
	drv := gpio.NewMockDriver()
	d, _ := New(drv, []Channel{
		{Name: "red", Pin: 5, Threshold: 2},
		{Name: "green", Pin: 6, Threshold: 2},
	})
	got, _ := d.Apply(2)
	if !reflect.DeepEqual(got, []string{"red", "green"}) {
		t.Errorf("got %v", got)
	}
}

func TestReset(t *testing.T) {
	drv := gpio.NewMockDriver()
	d, _ := New(drv, defaultTable)
	for i := 1; i <= 4; i++ {
		_, _ = d.Apply(i)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	for name, lvl := range levels(t, drv) {
		if lvl != gpio.Low {
			t.Errorf("%s = %v after reset, want LOW", name, lvl)
		}
	}
}

func TestActiveLowChannel(t *testing.T) {
	drv := gpio.NewMockDriver()
	d, _ := New(drv, []Channel{{Name: "relay", Pin: 9, Threshold: 1, ActiveLow: true}})
	if lvl, _ := drv.ReadPin(9); lvl != gpio.High {
		t.Errorf("initial = %v, want HIGH (off)", lvl)
	}
	_, _ = d.Apply(1)
	if lvl, _ := drv.ReadPin(9); lvl != gpio.Low {
		t.Errorf("on = %v, want LOW", lvl)
	}
}

func TestNew_RejectsBadThreshold(t *testing.T) {
	if _, err := New(gpio.NewMockDriver(), []Channel{{Name: "x", Pin: 1, Threshold: 0}}); err == nil {
		t.Error("expected error for zero threshold")
	}
}

func TestChannels(t *testing.T) {
	d, _ := New(gpio.NewMockDriver(), defaultTable)
	if !reflect.DeepEqual(d.Channels(), defaultTable) {
		t.Errorf("Channels = %v", d.Channels())
	}
}
