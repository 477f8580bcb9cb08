package monitor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

const epsilon = 1e-9

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSmoother(t *testing.T, percent float64) (*Smoother, *fakeClock) {
	t.Helper()
	th, err := NewThreshold(percent)
	if err != nil {
		t.Fatalf("NewThreshold() error = %v", err)
	}
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewSmoother(th, WithClock(clock.Now)), clock
}

func TestSmoother_StepInput(t *testing.T) {
	s, clock := newTestSmoother(t, 75)

	var firedAt int
	for n := 1; n <= 5; n++ {
		clock.Advance(200 * time.Millisecond)
		ema, ev := s.Update(1.0)

		want := 1 - math.Pow(0.6, float64(n))
		if math.Abs(ema-want) > epsilon {
			t.Errorf("step %d: ema = %f, want %f", n, ema, want)
		}
		if ev != nil && firedAt == 0 {
			firedAt = n
			if math.Abs(ev.Confidence-0.784) > epsilon {
				t.Errorf("event confidence = %f, want 0.784", ev.Confidence)
			}
			if !ev.Timestamp.Equal(clock.Now()) {
				t.Errorf("event timestamp = %v, want %v", ev.Timestamp, clock.Now())
			}
			if ev.ID == "" {
				t.Error("expected event ID")
			}
		}
	}

	if firedAt != 3 {
		t.Errorf("first event at step %d, want 3", firedAt)
	}
}

func TestSmoother_OneEventPerCooldown(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
	}{
		{"5 fps", 200 * time.Millisecond},
		{"30 fps", 33 * time.Millisecond},
		{"1 fps", time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestSmoother(t, 75)
			start := clock.Now()

			var events []time.Time
			for clock.Now().Sub(start) < 10*time.Second {
				clock.Advance(tt.interval)
				if _, ev := s.Update(0.95); ev != nil {
					events = append(events, ev.Timestamp)
				}
			}

			if len(events) == 0 {
				t.Fatal("expected events")
			}
			for i := 1; i < len(events); i++ {
				if gap := events[i].Sub(events[i-1]); gap < DefaultCooldown {
					t.Errorf("events %d and %d only %v apart", i-1, i, gap)
				}
			}
			// 10 s of qualifying input with a 2 s cooldown.
			if len(events) > 5 {
				t.Errorf("got %d events, want at most 5", len(events))
			}
		})
	}
}

func TestSmoother_Bounded(t *testing.T) {
	s, clock := newTestSmoother(t, 50)
	rng := rand.New(rand.NewSource(1))

	inputs := []float64{0, 1, 1.5, -0.5, 1, 1, 0}
	for i := 0; i < 1000; i++ {
		inputs = append(inputs, rng.Float64()*3-1)
	}

	for i, p := range inputs {
		clock.Advance(100 * time.Millisecond)
		ema, _ := s.Update(p)
		if ema < 0 || ema > 1 {
			t.Fatalf("step %d: ema %f outside [0,1]", i, ema)
		}
	}
}

func TestSmoother_NaNIgnored(t *testing.T) {
	s, _ := newTestSmoother(t, 75)
	s.Update(1)
	before := s.Value()

	ema, ev := s.Update(math.NaN())
	if ema != before || ev != nil {
		t.Errorf("NaN moved ema from %f to %f", before, ema)
	}
}

func TestSmoother_ResetKeepsCooldown(t *testing.T) {
	s, clock := newTestSmoother(t, 75)

	var first *Event
	for first == nil {
		clock.Advance(200 * time.Millisecond)
		_, first = s.Update(1)
	}

	s.Reset()
	if s.Value() != 0 {
		t.Errorf("Value() after Reset = %f, want 0", s.Value())
	}
	if !s.LastEvent().Equal(first.Timestamp) {
		t.Errorf("LastEvent() = %v, want %v", s.LastEvent(), first.Timestamp)
	}

	// Three frames bring the average back over threshold inside the cooldown.
	for i := 0; i < 3; i++ {
		clock.Advance(200 * time.Millisecond)
		if _, ev := s.Update(1); ev != nil {
			t.Fatal("event fired inside cooldown after reset")
		}
	}

	clock.Advance(DefaultCooldown)
	if _, ev := s.Update(1); ev == nil {
		t.Error("expected event once cooldown elapsed")
	}
}

func TestSmoother_ThresholdChange(t *testing.T) {
	s, clock := newTestSmoother(t, 90)

	for i := 0; i < 3; i++ {
		clock.Advance(200 * time.Millisecond)
		if _, ev := s.Update(1); ev != nil {
			t.Fatal("unexpected event below 90%")
		}
	}

	if err := s.threshold.SetPercent(50); err != nil {
		t.Fatal(err)
	}
	clock.Advance(200 * time.Millisecond)
	if _, ev := s.Update(1); ev == nil {
		t.Error("expected event after lowering threshold")
	}
}

func TestThreshold_SetPercent(t *testing.T) {
	tests := []struct {
		percent float64
		wantErr bool
	}{
		{75, false},
		{100, false},
		{0.5, false},
		{0, true},
		{-10, true},
		{100.1, true},
		{math.NaN(), true},
	}

	for _, tt := range tests {
		th := &Threshold{}
		err := th.SetPercent(tt.percent)
		if (err != nil) != tt.wantErr {
			t.Errorf("SetPercent(%v) error = %v, wantErr %v", tt.percent, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidThreshold) {
				t.Errorf("expected ErrInvalidThreshold, got %v", err)
			}
			continue
		}
		if math.Abs(th.Percent()-tt.percent) > epsilon {
			t.Errorf("Percent() = %f, want %f", th.Percent(), tt.percent)
		}
		if math.Abs(th.Fraction()-tt.percent/100) > epsilon {
			t.Errorf("Fraction() = %f, want %f", th.Fraction(), tt.percent/100)
		}
	}
}
