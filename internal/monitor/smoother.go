package monitor

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultAlpha is the weight of the newest probability in the average.
	DefaultAlpha = 0.40

	// DefaultCooldown is the minimum time between two events.
	DefaultCooldown = 2 * time.Second
)

// Event is a single detection.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Smoother keeps the moving average and decides when an event fires.
// It is not safe for concurrent use; the inference worker is its only caller.
type Smoother struct {
	alpha     float64
	cooldown  time.Duration
	threshold *Threshold
	now       func() time.Time

	ema       float64
	lastEvent time.Time
}

// Option configures a Smoother.
type Option func(*Smoother)

// WithAlpha overrides DefaultAlpha.
func WithAlpha(alpha float64) Option {
	return func(s *Smoother) { s.alpha = alpha }
}

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(s *Smoother) { s.cooldown = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Smoother) { s.now = now }
}

// NewSmoother creates a Smoother reading its threshold from th.
func NewSmoother(th *Threshold, opts ...Option) *Smoother {
	s := &Smoother{
		alpha:     DefaultAlpha,
		cooldown:  DefaultCooldown,
		threshold: th,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update folds p into the average and returns the new value, plus an event
// when the average has reached the threshold and the cooldown has elapsed.
func (s *Smoother) Update(p float64) (float64, *Event) {
	if math.IsNaN(p) {
		return s.ema, nil
	}

	s.ema = clamp01((1-s.alpha)*s.ema + s.alpha*p)

	if s.ema < s.threshold.Fraction() {
		return s.ema, nil
	}

	now := s.now()
	if !s.lastEvent.IsZero() && now.Sub(s.lastEvent) < s.cooldown {
		return s.ema, nil
	}

	s.lastEvent = now
	return s.ema, &Event{
		ID:         uuid.New().String(),
		Timestamp:  now,
		Confidence: s.ema,
	}
}

// Value returns the current average.
func (s *Smoother) Value() float64 {
	return s.ema
}

// LastEvent returns when the last event fired, or the zero time.
func (s *Smoother) LastEvent() time.Time {
	return s.lastEvent
}

// Reset zeroes the average. The time of the last event is kept, so the
// cooldown carries across a pause and resume.
func (s *Smoother) Reset() {
	s.ema = 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
