package api

import (
	"encoding/json"
	"net/http"
)

// PreferencesHandler serves /api/preferences.
type PreferencesHandler struct {
	monitor Monitor
}

// NewPreferencesHandler creates a PreferencesHandler for m.
func NewPreferencesHandler(m Monitor) *PreferencesHandler {
	return &PreferencesHandler{monitor: m}
}

// updatePreferencesRequest carries the fields to change; omitted fields keep
// their current value.
type updatePreferencesRequest struct {
	Variant          *string  `json:"variant"`
	ThresholdPercent *float64 `json:"threshold_percent"`
	Muted            *bool    `json:"muted"`
	Autostart        *bool    `json:"autostart"`
}

// ServeHTTP handles GET and PUT.
func (h *PreferencesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.monitor.Preferences())
	case http.MethodPut:
		h.update(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *PreferencesHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	p := h.monitor.Preferences()
	if req.Variant != nil {
		p.Variant = *req.Variant
	}
	if req.ThresholdPercent != nil {
		p.ThresholdPercent = *req.ThresholdPercent
	}
	if req.Muted != nil {
		p.Muted = *req.Muted
	}
	if req.Autostart != nil {
		p.Autostart = *req.Autostart
	}

	if err := h.monitor.ApplyPreferences(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.monitor.Preferences())
}
