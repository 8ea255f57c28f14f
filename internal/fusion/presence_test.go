package fusion

import (
	"testing"
	"time"
)

type scriptedRanger struct {
	distance float64
	ok       bool
	calls    int
}

func (s *scriptedRanger) MeasureDistanceCm() (float64, bool) {
	s.calls++
	return s.distance, s.ok
}

func newTestPresence() (*Presence, *scriptedRanger, *testClock) {
	clk := &testClock{t: time.Unix(1000, 0)}
	ranger := &scriptedRanger{distance: 80, ok: true}
	p := NewPresence(ranger, 50, 1000, 5, 3*time.Second, 100*time.Millisecond, testLogger())
	p.now = clk.now
	return p, ranger, clk
}

// step runs n sample cycles, advancing the clock by the sample interval each time.
func step(p *Presence, clk *testClock, n int) {
	for i := 0; i < n; i++ {
		p.Update()
		clk.advance(100 * time.Millisecond)
	}
}

// ===== Sampling =====

func TestSampleRateThrottled(t *testing.T) {
	p, ranger, _ := newTestPresence()
	p.Update()
	p.Update() // same instant, must not measure again
	if ranger.calls != 1 {
		t.Errorf("expected 1 measurement, got %d", ranger.calls)
	}
}

func TestEchoTimeoutDiscarded(t *testing.T) {
	p, ranger, clk := newTestPresence()
	ranger.ok = false
	step(p, clk, 10)
	if d := p.FilteredDistance(); d != -1 {
		t.Errorf("timed-out cycles must not fill the filter, got %f", d)
	}
}

func TestMedianRejectsOutlier(t *testing.T) {
	p, ranger, clk := newTestPresence()
	// four good readings, one spike
	for _, d := range []float64{80, 81, 2500, 80, 82} {
		ranger.distance = d
		step(p, clk, 1)
	}
	if med := p.FilteredDistance(); med != 81 {
		t.Errorf("median = %f, want 81", med)
	}
	if !p.InZone() {
		t.Error("expected in-zone despite the outlier sample")
	}
}

// ===== Dwell =====

func TestPresenceConfirmedAfterDwell(t *testing.T) {
	p, _, clk := newTestPresence()
	// filter fills on the 5th sample at t=400ms; dwell completes 3s later
	step(p, clk, 34)
	if p.Confirmed() {
		t.Fatal("confirmed before the dwell period elapsed")
	}
	step(p, clk, 1)
	if !p.Confirmed() {
		t.Fatal("expected confirmation after a stable dwell period")
	}
}

func TestMovementRestartsDwell(t *testing.T) {
	p, ranger, clk := newTestPresence()
	step(p, clk, 20)
	// shift beyond the tolerance; once the median follows, the dwell restarts
	ranger.distance = 95
	step(p, clk, 20)
	if p.Confirmed() {
		t.Fatal("movement inside the zone must restart the dwell")
	}
	step(p, clk, 31)
	if !p.Confirmed() {
		t.Fatal("expected confirmation after a stable dwell at the new distance")
	}
}

func TestDepartureClearsPresence(t *testing.T) {
	p, ranger, clk := newTestPresence()
	step(p, clk, 35)
	if !p.Confirmed() {
		t.Fatal("expected confirmation first")
	}
	// walk away: enough far samples to move the median out of the zone
	ranger.distance = 2500
	step(p, clk, 3)
	if p.Confirmed() || p.InZone() {
		t.Error("presence must clear once the median leaves the zone")
	}
}

func TestResetClearsState(t *testing.T) {
	p, _, clk := newTestPresence()
	step(p, clk, 35)
	p.Reset()
	if p.Confirmed() || p.InZone() {
		t.Error("reset must clear tracking state")
	}
	if p.FilteredDistance() != -1 {
		t.Error("reset must empty the filter")
	}
}
