package app

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/nailwatch/internal/capture"
	"github.com/ayusman/nailwatch/internal/monitor"
)

// FPS smoothing weights for the displayed frame rate.
const (
	fpsKeep = 0.85
	fpsNew  = 0.15
)

// handleFrame runs one delivered frame through the pipeline:
//  1. Drop it if monitoring was stopped or restarted since it was captured
//  2. Preprocess to the model's input size
//  3. Classify
//  4. Smooth and maybe emit a detection event
//
// Frames that fail preprocessing or classification are skipped.
func (a *App) handleFrame(gen uint64, f capture.Frame) {
	if a.gen.Load() != gen {
		return
	}

	a.modelMu.RLock()
	model, pre := a.model, a.pre
	if model == nil {
		a.modelMu.RUnlock()
		return
	}

	t, err := pre.Process(f.Mat)
	if err != nil {
		a.modelMu.RUnlock()
		a.skip(f, err)
		return
	}
	p, err := model.Predict(t)
	pre.Release(t)
	a.modelMu.RUnlock()

	if err != nil {
		a.skip(f, err)
		return
	}

	a.commit(gen, f, p)
}

func (a *App) commit(gen uint64, f capture.Frame, p float64) {
	a.frameMu.Lock()
	if a.gen.Load() != gen {
		a.frameMu.Unlock()
		a.log.WithField("seq", f.Seq).Debug("discarding result from previous run")
		return
	}
	ema, ev := a.smoother.Update(p)
	a.confidence = ema
	a.updateFPS(f.CapturedAt)
	a.frameMu.Unlock()

	if ev != nil {
		a.record(ev)
	}
	a.publish()
}

func (a *App) record(ev *monitor.Event) {
	a.detections.Add(1)
	a.cfg.History.Append(ev.Timestamp)

	a.log.WithFields(logrus.Fields{
		"id":         ev.ID,
		"confidence": ev.Confidence,
	}).Info("nail-biting detected")

	if a.cfg.Notifier != nil {
		a.cfg.Notifier.Notify(ev.Confidence, ev.Timestamp)
	}
}

// skip counts a frame that never reached the smoother.
func (a *App) skip(f capture.Frame, err error) {
	a.skipped.Add(1)
	a.log.WithError(err).WithField("seq", f.Seq).Debug("frame skipped")
	a.publish()
}

// updateFPS must be called with frameMu held.
func (a *App) updateFPS(at time.Time) {
	if !a.lastFrame.IsZero() {
		if dt := at.Sub(a.lastFrame).Seconds(); dt > 0 {
			inst := 1 / dt
			if a.fps == 0 {
				a.fps = inst
			} else {
				a.fps = fpsKeep*a.fps + fpsNew*inst
			}
		}
	}
	a.lastFrame = at
}
