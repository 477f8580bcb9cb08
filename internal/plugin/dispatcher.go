package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Dispatcher fans an event out to every subscribed plugin.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	log      logrus.FieldLogger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(m *Manager, e *Executor, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		manager:  m,
		executor: e,
		log:      log.WithField("component", "plugin"),
	}
}

// Dispatch runs each plugin subscribed to event in turn and returns the
// number that succeeded. Failures are logged and do not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, params any) (int, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("marshal params: %w", err)
	}

	ok := 0
	for _, p := range d.manager.ForEvent(event) {
		req := &Request{
			Action: event,
			Event:  event,
			Config: p.Manifest.Config,
			Params: raw,
		}

		log := d.log.WithFields(logrus.Fields{"plugin": p.Manifest.Name, "event": event})

		resp, err := d.executor.Execute(ctx, p, req)
		if err != nil {
			log.WithError(err).Warn("plugin run failed")
			continue
		}
		if !resp.Success {
			log.WithField("error", resp.Error).Warn("plugin reported failure")
			continue
		}
		ok++
	}
	return ok, nil
}
