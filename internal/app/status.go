package app

import (
	"time"

	"github.com/ayusman/nailwatch/internal/capture"
	"github.com/ayusman/nailwatch/internal/history"
)

// Status is a point-in-time view of the monitor for the tray, the API and
// the live websocket.
type Status struct {
	Running          bool          `json:"running"`
	Confidence       float64       `json:"confidence"`
	ThresholdPercent float64       `json:"threshold_percent"`
	Variant          string        `json:"variant"`
	Muted            bool          `json:"muted"`
	Autostart        bool          `json:"autostart"`
	LastDetection    *time.Time    `json:"last_detection,omitempty"`
	TodayCount       int           `json:"today_count"`
	FPS              float64       `json:"fps"`
	Frames           capture.Stats `json:"frames"`
	Skipped          uint64        `json:"skipped"`
	CameraError      string        `json:"camera_error,omitempty"`
	ModelError       string        `json:"model_error,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Status returns the latest snapshot.
func (a *App) Status() Status {
	if s := a.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

// Subscribe returns a channel that receives every new snapshot. A slow
// reader only misses intermediate snapshots, never the latest one. Call the
// returned func to unsubscribe.
func (a *App) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	ch <- a.Status()

	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.subMu.Unlock()

	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if _, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(ch)
		}
	}
}

func (a *App) publish() {
	s := a.snapshot()
	a.status.Store(&s)

	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- s:
		default:
			// Replace the stale snapshot.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (a *App) snapshot() Status {
	now := a.now()

	a.mu.Lock()
	s := Status{
		Running:          a.source != nil,
		ThresholdPercent: a.threshold.Percent(),
		Muted:            a.prefs.Muted,
		Autostart:        a.prefs.Autostart,
		UpdatedAt:        now,
	}
	if a.source != nil {
		s.Frames = a.source.Stats()
	}
	if a.cameraErr != nil {
		s.CameraError = a.cameraErr.Error()
	}
	if a.modelErr != nil {
		s.ModelError = a.modelErr.Error()
	}
	variant := a.prefs.Variant
	a.mu.Unlock()

	a.modelMu.RLock()
	if a.variant != "" {
		variant = string(a.variant)
	}
	a.modelMu.RUnlock()
	s.Variant = variant

	a.frameMu.Lock()
	s.Confidence = a.confidence
	s.FPS = a.fps
	a.frameMu.Unlock()

	s.Skipped = a.skipped.Load()

	if last, ok := a.cfg.History.Last(); ok {
		s.LastDetection = &last
	}
	s.TodayCount = history.Today(a.cfg.History.All(), now)

	return s
}
