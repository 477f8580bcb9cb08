package app

import (
	"fmt"

	"github.com/ayusman/nailwatch/internal/classifier"
	"github.com/ayusman/nailwatch/internal/monitor"
	"github.com/ayusman/nailwatch/internal/store"
)

// Preferences returns the preferences currently in effect.
func (a *App) Preferences() store.Preferences {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prefs
}

// ApplyPreferences validates p, persists it and then applies it. If the
// requested model fails to load, the previous preferences are written back
// and nothing is applied.
func (a *App) ApplyPreferences(p store.Preferences) error {
	variant, err := classifier.ParseVariant(p.Variant)
	if err != nil {
		return err
	}
	if p.ThresholdPercent <= 0 || p.ThresholdPercent > 100 {
		return monitor.ErrInvalidThreshold
	}
	p.Variant = string(variant)

	prev := a.Preferences()
	if err := a.save(p); err != nil {
		return err
	}

	if variant != a.Variant() {
		if err := a.switchModel(variant); err != nil {
			if rerr := a.save(prev); rerr != nil {
				a.log.WithError(rerr).Error("failed to restore preferences")
			}
			a.publish()
			return err
		}
	}

	a.threshold.SetPercent(p.ThresholdPercent)
	if a.cfg.Notifier != nil {
		a.cfg.Notifier.SetMuted(p.Muted)
	}

	a.mu.Lock()
	a.prefs = p
	a.mu.Unlock()

	a.publish()
	return nil
}

// SetThresholdPercent changes the detection threshold.
func (a *App) SetThresholdPercent(percent float64) error {
	if err := a.threshold.SetPercent(percent); err != nil {
		return err
	}
	return a.update(func(p *store.Preferences) { p.ThresholdPercent = percent })
}

// SetMuted turns alert sounds off or on.
func (a *App) SetMuted(muted bool) error {
	if a.cfg.Notifier != nil {
		a.cfg.Notifier.SetMuted(muted)
	}
	return a.update(func(p *store.Preferences) { p.Muted = muted })
}

// SetAutostart controls whether monitoring starts at launch.
func (a *App) SetAutostart(on bool) error {
	return a.update(func(p *store.Preferences) { p.Autostart = on })
}

// SetVariant switches to another model variant. The new model is loaded
// before the old one is closed; on failure the old model stays in use.
func (a *App) SetVariant(name string) error {
	variant, err := classifier.ParseVariant(name)
	if err != nil {
		return err
	}
	if variant == a.Variant() {
		return nil
	}
	if err := a.switchModel(variant); err != nil {
		a.publish()
		return err
	}
	return a.update(func(p *store.Preferences) { p.Variant = string(variant) })
}

func (a *App) switchModel(v classifier.Variant) error {
	model, err := a.cfg.LoadModel(v)
	if err != nil {
		a.mu.Lock()
		a.modelErr = err
		a.mu.Unlock()
		return fmt.Errorf("load model %s: %w", v, err)
	}

	a.mu.Lock()
	a.modelErr = nil
	a.mu.Unlock()

	a.install(v, model)
	a.resetFrameState()

	a.log.WithField("variant", v).Info("model variant switched")
	return nil
}

func (a *App) update(fn func(p *store.Preferences)) error {
	a.mu.Lock()
	p := a.prefs
	fn(&p)
	a.prefs = p
	a.mu.Unlock()

	err := a.save(p)
	a.publish()
	return err
}

func (a *App) save(p store.Preferences) error {
	if a.cfg.Store == nil {
		return nil
	}
	if err := a.cfg.Store.Preferences().Save(p); err != nil {
		a.log.WithError(err).Warn("failed to save preferences")
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
