// Package monitor turns a stream of per-frame probabilities into detection
// events: an exponential moving average compared against a threshold, with a
// cooldown between events.
package monitor

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// DefaultThresholdPercent is the alert threshold used when none is configured.
const DefaultThresholdPercent = 75.0

// ErrInvalidThreshold is returned for a threshold outside (0, 100] percent.
var ErrInvalidThreshold = errors.New("threshold must be in (0, 100]")

// Threshold is the confidence level at which an event fires. It is written by
// settings code and read by the inference worker, so it is stored atomically.
type Threshold struct {
	bits atomic.Uint64
}

// NewThreshold returns a threshold set to percent.
func NewThreshold(percent float64) (*Threshold, error) {
	t := &Threshold{}
	if err := t.SetPercent(percent); err != nil {
		return nil, err
	}
	return t, nil
}

// SetPercent updates the threshold.
func (t *Threshold) SetPercent(percent float64) error {
	if math.IsNaN(percent) || percent <= 0 || percent > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, percent)
	}
	t.bits.Store(math.Float64bits(percent / 100))
	return nil
}

// Percent returns the threshold in percent.
func (t *Threshold) Percent() float64 {
	return t.Fraction() * 100
}

// Fraction returns the threshold in [0, 1].
func (t *Threshold) Fraction() float64 {
	return math.Float64frombits(t.bits.Load())
}
