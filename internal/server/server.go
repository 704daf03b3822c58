// Package server provides the HTTP server for bsort.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ayusman/bsort/internal/app"
	"github.com/ayusman/bsort/internal/capture"
	"github.com/ayusman/bsort/internal/server/api"
	"github.com/ayusman/bsort/internal/store"
)

// Workflows is the part of app.App the server exposes.
type Workflows interface {
	api.Classifier
	api.Inferer
	api.Resolver
}

var _ Workflows = (*app.App)(nil)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       Workflows
	Store     *store.Store
	Camera    capture.Camera
	// Feed, when set, is served at /api/events.
	Feed *RunFeed
}

// Server represents the HTTP server for the bsort application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		runs := api.NewRunsHandler(s.config.Store)
		s.mux.Handle("/api/runs", runs)
		s.mux.Handle("/api/runs/", runs)
	}

	if s.config.App != nil {
		s.mux.Handle("/api/classify", api.NewClassifyHandler(s.config.App))
		s.mux.Handle("/api/infer", api.NewInferHandler(s.config.App))
		s.mux.Handle("/api/model", api.NewModelHandler(s.config.App))
	}

	if s.config.Feed != nil {
		s.mux.Handle("/api/events", s.config.Feed)
	}

	// Live preview for positioning caps under the camera
	if s.config.Camera != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Camera))
	}

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

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.App != nil {
		_, response["model_ready"] = s.config.App.Resolve()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
