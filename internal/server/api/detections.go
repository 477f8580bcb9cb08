package api

import (
	"net/http"
	"time"

	"github.com/ayusman/nailwatch/internal/history"
)

// DetectionHandler serves the detection log and its statistics.
type DetectionHandler struct {
	monitor Monitor
	now     func() time.Time
}

// NewDetectionHandler creates a DetectionHandler for m.
func NewDetectionHandler(m Monitor) *DetectionHandler {
	return &DetectionHandler{monitor: m, now: time.Now}
}

type detectionsResponse struct {
	Count      int         `json:"count"`
	Detections []time.Time `json:"detections"`
}

// ServeHTTP handles GET and DELETE on /api/detections.
func (h *DetectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodDelete:
		h.monitor.ClearHistory()
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// list handles GET /api/detections, optionally filtered by ?since=RFC3339.
func (h *DetectionHandler) list(w http.ResponseWriter, r *http.Request) {
	log := h.monitor.History()

	var entries []time.Time
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 time")
			return
		}
		entries = log.Since(t)
	} else {
		entries = log.All()
	}

	if entries == nil {
		entries = []time.Time{}
	}
	writeJSON(w, http.StatusOK, detectionsResponse{
		Count:      len(entries),
		Detections: entries,
	})
}

// Stats handles GET /api/stats?range=7D|30D|90D|All.
func (h *DetectionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	rng, err := history.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, history.Compute(h.monitor.History().All(), rng, h.now()))
}
