package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/nailwatch/internal/app"
	"github.com/ayusman/nailwatch/internal/capture"
)

// MonitorHandler serves /api/status and /api/monitor.
type MonitorHandler struct {
	monitor Monitor
}

// NewMonitorHandler creates a MonitorHandler for m.
func NewMonitorHandler(m Monitor) *MonitorHandler {
	return &MonitorHandler{monitor: m}
}

type monitorRequest struct {
	Running *bool `json:"running"`
}

// Status handles GET /api/status.
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

// Control handles POST /api/monitor with {"running": bool}.
func (h *MonitorHandler) Control(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Running == nil {
		writeError(w, http.StatusBadRequest, "running is required")
		return
	}

	var err error
	if *req.Running {
		err = h.monitor.Start()
	} else {
		err = h.monitor.Stop()
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.monitor.Status())
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, app.ErrNoModel):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
