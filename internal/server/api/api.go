// Package api provides the HTTP handlers of the nailwatch dashboard API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/nailwatch/internal/app"
	"github.com/ayusman/nailwatch/internal/history"
	"github.com/ayusman/nailwatch/internal/store"
)

// Monitor is the part of the app the API drives.
type Monitor interface {
	Status() app.Status
	Start() error
	Stop() error
	Preferences() store.Preferences
	ApplyPreferences(p store.Preferences) error
	History() *history.Log
	ClearHistory()
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
