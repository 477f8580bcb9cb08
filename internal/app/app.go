// Package app wires the camera, classifier, smoother, detection log and
// notifier into the nail-biting monitor.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/nailwatch/internal/capture"
	"github.com/ayusman/nailwatch/internal/classifier"
	"github.com/ayusman/nailwatch/internal/history"
	"github.com/ayusman/nailwatch/internal/monitor"
	"github.com/ayusman/nailwatch/internal/notify"
	"github.com/ayusman/nailwatch/internal/preprocess"
	"github.com/ayusman/nailwatch/internal/store"
)

// ErrNoModel is returned by Start when no classifier could be loaded.
var ErrNoModel = errors.New("no classifier loaded")

// ModelLoader opens the classifier for a model variant.
type ModelLoader func(v classifier.Variant) (classifier.Classifier, error)

// Notifier surfaces detections and can be muted.
type Notifier interface {
	notify.Notifier
	SetMuted(muted bool)
}

// Config holds the collaborators of an App. Camera, LoadModel and History
// are required.
type Config struct {
	Camera    capture.Camera
	LoadModel ModelLoader
	History   *history.Log
	Store     *store.Store
	Notifier  Notifier
	Defaults  store.Preferences
	Alpha     float64
	Cooldown  time.Duration
	Log       logrus.FieldLogger
	Now       func() time.Time
}

// App is the monitor: it owns the frame source and routes every delivered
// frame through preprocessing, classification and smoothing.
type App struct {
	cfg       Config
	log       logrus.FieldLogger
	now       func() time.Time
	threshold *monitor.Threshold

	// runMu serializes Start and Stop. It is never taken on the frame
	// path, so a lifecycle change may wait for the worker while holding it.
	runMu   sync.Mutex
	session *store.Session

	// mu guards the lifecycle and preference fields.
	mu        sync.Mutex
	source    *capture.Source
	last      *capture.Source
	prefs     store.Preferences
	cameraErr error
	modelErr  error

	// modelMu is held for reading across a frame's inference so a variant
	// switch never closes a runtime that is still in use.
	modelMu sync.RWMutex
	model   classifier.Classifier
	pre     *preprocess.Preprocessor
	variant classifier.Variant

	// gen advances on every Start and Stop; frames tagged with an older
	// generation are discarded.
	gen atomic.Uint64

	// frameMu guards the smoother and the per-frame figures.
	frameMu    sync.Mutex
	smoother   *monitor.Smoother
	confidence float64
	fps        float64
	lastFrame  time.Time

	skipped    atomic.Uint64
	detections atomic.Int64

	status  atomic.Pointer[Status]
	subMu   sync.Mutex
	subs    map[int]chan Status
	nextSub int
}

// New creates an App. Nothing is opened until Open is called.
func New(cfg Config) (*App, error) {
	if cfg.Camera == nil {
		return nil, errors.New("app: camera is required")
	}
	if cfg.LoadModel == nil {
		return nil, errors.New("app: model loader is required")
	}
	if cfg.History == nil {
		return nil, errors.New("app: detection log is required")
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Defaults == (store.Preferences{}) {
		cfg.Defaults = store.DefaultPreferences()
	}

	th, err := monitor.NewThreshold(cfg.Defaults.ThresholdPercent)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	opts := []monitor.Option{monitor.WithClock(cfg.Now)}
	if cfg.Alpha > 0 {
		opts = append(opts, monitor.WithAlpha(cfg.Alpha))
	}
	if cfg.Cooldown > 0 {
		opts = append(opts, monitor.WithCooldown(cfg.Cooldown))
	}

	a := &App{
		cfg:       cfg,
		log:       cfg.Log.WithField("component", "app"),
		now:       cfg.Now,
		threshold: th,
		smoother:  monitor.NewSmoother(th, opts...),
		prefs:     cfg.Defaults,
		subs:      make(map[int]chan Status),
	}
	a.publish()
	return a, nil
}

// Open loads the stored preferences and the classifier they select. A model
// that fails to load is recorded in the status, not returned: the app keeps
// running so the user can pick another variant.
func (a *App) Open() error {
	prefs := a.cfg.Defaults
	if a.cfg.Store != nil {
		p, err := a.cfg.Store.Preferences().WithDefaults(a.cfg.Defaults).Get()
		if err != nil {
			return fmt.Errorf("load preferences: %w", err)
		}
		prefs = p
	}

	variant, err := classifier.ParseVariant(prefs.Variant)
	if err != nil {
		a.log.WithError(err).Warn("stored model variant invalid, using default")
		variant, _ = classifier.ParseVariant(a.cfg.Defaults.Variant)
		prefs.Variant = string(variant)
	}
	if err := a.threshold.SetPercent(prefs.ThresholdPercent); err != nil {
		a.log.WithError(err).Warn("stored threshold invalid, using default")
		prefs.ThresholdPercent = a.cfg.Defaults.ThresholdPercent
		a.threshold.SetPercent(prefs.ThresholdPercent)
	}
	if a.cfg.Notifier != nil {
		a.cfg.Notifier.SetMuted(prefs.Muted)
	}

	a.mu.Lock()
	a.prefs = prefs
	a.mu.Unlock()

	if err := a.loadModel(variant); err != nil {
		a.log.WithError(err).WithField("variant", variant).Error("model unavailable")
	}

	a.publish()
	return nil
}

// Autostart starts monitoring when the preferences ask for it.
func (a *App) Autostart() error {
	if !a.Preferences().Autostart {
		return nil
	}
	return a.Start()
}

// Run autostarts, then blocks until ctx is done and shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Autostart(); err != nil {
		a.log.WithError(err).Warn("autostart failed")
	}
	<-ctx.Done()
	return a.Close()
}

// Start begins monitoring. A device error is returned and recorded in the
// status; it is not retried.
func (a *App) Start() error {
	err := a.start()
	a.publish()
	return err
}

func (a *App) start() error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.mu.Lock()
	running, prev, modelErr := a.source != nil, a.last, a.modelErr
	a.mu.Unlock()
	if running {
		return nil
	}

	// The previous run's worker may still be inside a prediction. Its result
	// is discarded, but it has to finish before a new worker begins.
	if prev != nil {
		prev.Wait()
	}

	a.modelMu.RLock()
	ready, variant := a.model != nil, a.variant
	a.modelMu.RUnlock()
	if !ready {
		if modelErr != nil {
			return fmt.Errorf("%w: %v", ErrNoModel, modelErr)
		}
		return ErrNoModel
	}

	gen := a.gen.Add(1)
	a.resetFrameState()
	a.detections.Store(0)

	src := capture.NewSource(a.cfg.Camera, func(f capture.Frame) {
		a.handleFrame(gen, f)
	}, a.cfg.Log)
	if err := src.Start(); err != nil {
		a.mu.Lock()
		a.cameraErr = err
		a.mu.Unlock()
		a.log.WithError(err).Error("camera unavailable")
		return err
	}

	a.mu.Lock()
	a.source = src
	a.last = src
	a.cameraErr = nil
	a.mu.Unlock()

	if a.cfg.Store != nil {
		sess, err := a.cfg.Store.Sessions().Start(string(variant), a.now())
		if err != nil {
			a.log.WithError(err).Warn("failed to record session start")
		}
		a.session = sess
	}

	a.log.WithFields(logrus.Fields{
		"variant":   variant,
		"threshold": a.threshold.Percent(),
	}).Info("monitoring started")
	return nil
}

// Stop halts monitoring and resets the smoothed confidence. Results of
// inferences still running are discarded.
func (a *App) Stop() error {
	err := a.stop()
	a.publish()
	return err
}

func (a *App) stop() error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.mu.Lock()
	src := a.source
	a.source = nil
	a.mu.Unlock()
	if src == nil {
		return nil
	}
	a.gen.Add(1)

	err := src.Stop()
	a.resetFrameState()

	stats := src.Stats()
	if a.session != nil && a.cfg.Store != nil {
		if serr := a.cfg.Store.Sessions().Stop(a.session.ID, a.now(),
			int(a.detections.Load()), int(stats.Dropped)); serr != nil {
			a.log.WithError(serr).Warn("failed to record session stop")
		}
	}
	a.session = nil

	a.log.WithFields(logrus.Fields{
		"delivered":  stats.Delivered,
		"dropped":    stats.Dropped,
		"detections": a.detections.Load(),
	}).Info("monitoring stopped")
	return err
}

// Toggle starts or stops monitoring and reports whether it is now running.
func (a *App) Toggle() (bool, error) {
	if a.Running() {
		return false, a.Stop()
	}
	if err := a.Start(); err != nil {
		return false, err
	}
	return true, nil
}

// Running reports whether monitoring is active.
func (a *App) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.source != nil
}

// Close stops monitoring, waits for the last frame to finish and releases
// the classifier. Subscriber channels are closed.
func (a *App) Close() error {
	err := a.Stop()

	a.mu.Lock()
	last := a.last
	a.mu.Unlock()
	if last != nil {
		last.Wait()
	}

	a.modelMu.Lock()
	if a.model != nil {
		if cerr := a.model.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.model = nil
	}
	a.modelMu.Unlock()

	a.subMu.Lock()
	for id, ch := range a.subs {
		close(ch)
		delete(a.subs, id)
	}
	a.subMu.Unlock()

	return err
}

// History returns the detection log.
func (a *App) History() *history.Log {
	return a.cfg.History
}

// ClearHistory removes every recorded detection.
func (a *App) ClearHistory() {
	a.cfg.History.Clear()
	a.log.Info("detection history cleared")
	a.publish()
}

// Variant returns the model variant in use.
func (a *App) Variant() classifier.Variant {
	a.modelMu.RLock()
	defer a.modelMu.RUnlock()
	return a.variant
}

func (a *App) loadModel(v classifier.Variant) error {
	model, err := a.cfg.LoadModel(v)

	a.mu.Lock()
	a.modelErr = err
	a.mu.Unlock()
	if err != nil {
		return err
	}

	a.install(v, model)
	return nil
}

// install swaps in model and closes the one it replaces once no frame is
// using it.
func (a *App) install(v classifier.Variant, model classifier.Classifier) {
	a.modelMu.Lock()
	old := a.model
	a.model = model
	a.pre = preprocess.New(v.ImageSize())
	a.variant = v
	a.modelMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close previous model")
		}
	}
}

func (a *App) resetFrameState() {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	a.smoother.Reset()
	a.confidence = 0
	a.fps = 0
	a.lastFrame = time.Time{}
}
