package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/nailwatch/internal/plugin"
)

// Notifier surfaces a detection to the user.
type Notifier interface {
	Notify(confidence float64, at time.Time) Alert
}

// Hook receives alerts outside the process, such as alert plugins.
type Hook interface {
	Dispatch(ctx context.Context, event string, params any) (int, error)
}

// hookParams is what alert hooks receive as request params.
type hookParams struct {
	Alert
	SoundName string `json:"sound_name,omitempty"`
}

// Alerter shows every detection on the overlay and forwards it to the hook.
// Muting only turns the sound off; the overlay is always shown.
type Alerter struct {
	overlay *Overlay
	hook    Hook
	log     logrus.FieldLogger

	muted atomic.Bool
	wg    sync.WaitGroup
}

// NewAlerter creates an Alerter. hook may be nil.
func NewAlerter(overlay *Overlay, hook Hook, log logrus.FieldLogger) *Alerter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Alerter{
		overlay: overlay,
		hook:    hook,
		log:     log.WithField("component", "notify"),
	}
}

// SetMuted turns alert sounds off or on.
func (a *Alerter) SetMuted(muted bool) {
	a.muted.Store(muted)
}

// Muted reports whether alert sounds are off.
func (a *Alerter) Muted() bool {
	return a.muted.Load()
}

// Overlay returns the overlay alerts are shown on.
func (a *Alerter) Overlay() *Overlay {
	return a.overlay
}

// Notify shows an alert for a detection and returns it. Hooks run in the
// background.
func (a *Alerter) Notify(confidence float64, at time.Time) Alert {
	alert := NewAlert(confidence, at, a.Muted())

	a.overlay.Show(alert)
	a.log.WithFields(logrus.Fields{
		"confidence": alert.Confidence,
		"sound":      alert.Sound,
	}).Info(alert.Title)

	if a.hook != nil {
		a.wg.Add(1)
		go a.dispatch(alert)
	}
	return alert
}

func (a *Alerter) dispatch(alert Alert) {
	defer a.wg.Done()

	// Each plugin run is bounded by the executor's timeout.
	ctx := context.Background()

	params := hookParams{Alert: alert}
	if alert.Sound {
		params.SoundName = DefaultSound
	}

	if _, err := a.hook.Dispatch(ctx, plugin.EventDetection, params); err != nil {
		a.log.WithError(err).Warn("alert hooks failed")
	}
}

// Wait blocks until background hook runs have finished.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

// Close dismisses the overlay and waits for hooks.
func (a *Alerter) Close() {
	a.overlay.Dismiss()
	a.Wait()
}
