// Package server provides the local HTTP dashboard API for nailwatch.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/nailwatch/internal/app"
	"github.com/ayusman/nailwatch/internal/server/api"
	"github.com/ayusman/nailwatch/internal/store"
)

// ShutdownTimeout bounds how long Run waits for open requests on exit.
const ShutdownTimeout = 5 * time.Second

// Monitor is what the server needs from the app.
type Monitor interface {
	api.Monitor
	Subscribe() (<-chan app.Status, func())
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Monitor   Monitor
	Store     *store.Store
	Log       logrus.FieldLogger
}

// Server represents the HTTP server for the nailwatch dashboard.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    logrus.FieldLogger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	log := config.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    log.WithField("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if m := s.config.Monitor; m != nil {
		monitor := api.NewMonitorHandler(m)
		detections := api.NewDetectionHandler(m)

		s.mux.HandleFunc("/api/status", monitor.Status)
		s.mux.HandleFunc("/api/monitor", monitor.Control)
		s.mux.Handle("/api/detections", detections)
		s.mux.HandleFunc("/api/stats", detections.Stats)
		s.mux.Handle("/api/preferences", api.NewPreferencesHandler(m))
		s.mux.Handle("/api/live", NewLiveHandler(m, s.log))
	}

	if s.config.Store != nil {
		s.mux.Handle("/api/sessions", api.NewSessionHandler(s.config.Store))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.WithField("addr", addr).Info("dashboard listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
