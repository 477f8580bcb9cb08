// Package notify presents detection alerts: a transient overlay that expires
// on its own, plus optional alert hook plugins.
package notify

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTitle is the alert headline.
	DefaultTitle = "Nail-biting detected"

	// DefaultDuration is how long an alert stays visible.
	DefaultDuration = 3 * time.Second

	// DefaultSound is the system sound played for an unmuted alert.
	DefaultSound = "Basso"
)

// Alert is one user-visible detection alert.
type Alert struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
	Sound      bool      `json:"sound"`
}

// NewAlert builds the alert for a detection at confidence in [0,1].
func NewAlert(confidence float64, at time.Time, muted bool) Alert {
	return Alert{
		ID:         uuid.New().String(),
		Title:      DefaultTitle,
		Body:       fmt.Sprintf("Confidence: %d%%", int(math.Round(confidence*100))),
		Confidence: confidence,
		At:         at,
		Sound:      !muted,
	}
}

// Overlay holds the alert currently on screen. Showing an alert replaces the
// previous one and restarts the expiry timer.
type Overlay struct {
	duration time.Duration

	mu        sync.Mutex
	current   *Alert
	timer     *time.Timer
	gen       uint64
	listeners []func(*Alert)
}

// NewOverlay creates an Overlay whose alerts expire after d. A non-positive d
// uses DefaultDuration.
func NewOverlay(d time.Duration) *Overlay {
	if d <= 0 {
		d = DefaultDuration
	}
	return &Overlay{duration: d}
}

// OnChange registers fn to be called with the visible alert, or nil when the
// overlay is cleared. Callbacks run outside the overlay's lock.
func (o *Overlay) OnChange(fn func(*Alert)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Show displays a and schedules its dismissal.
func (o *Overlay) Show(a Alert) {
	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.gen++
	gen := o.gen
	o.current = &a
	o.timer = time.AfterFunc(o.duration, func() { o.expire(gen) })
	listeners := o.snapshotListeners()
	o.mu.Unlock()

	notifyAll(listeners, &a)
}

// Dismiss clears the overlay immediately.
func (o *Overlay) Dismiss() {
	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return
	}
	o.clearLocked()
	listeners := o.snapshotListeners()
	o.mu.Unlock()

	notifyAll(listeners, nil)
}

// Current returns the visible alert.
func (o *Overlay) Current() (Alert, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return Alert{}, false
	}
	return *o.current, true
}

// Duration returns how long alerts stay visible.
func (o *Overlay) Duration() time.Duration {
	return o.duration
}

func (o *Overlay) expire(gen uint64) {
	o.mu.Lock()
	if gen != o.gen || o.current == nil {
		o.mu.Unlock()
		return
	}
	o.clearLocked()
	listeners := o.snapshotListeners()
	o.mu.Unlock()

	notifyAll(listeners, nil)
}

func (o *Overlay) clearLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.gen++
	o.current = nil
}

func (o *Overlay) snapshotListeners() []func(*Alert) {
	return append(([]func(*Alert))(nil), o.listeners...)
}

func notifyAll(listeners []func(*Alert), a *Alert) {
	for _, fn := range listeners {
		if a == nil {
			fn(nil)
			continue
		}
		cp := *a
		fn(&cp)
	}
}
