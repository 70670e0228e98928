// Package api exposes a read-only HTTP status surface for the archiver.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blockedby/channel-archiver/internal/checkpoint"
	"github.com/blockedby/channel-archiver/internal/coordinator"
	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/models"
)

// Config holds server configuration.
type Config struct {
	Port int
}

// Server serves archiver status over HTTP. All endpoints are read-only;
// exports are driven by the scheduler, never by requests.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *Config
	listener   net.Listener
	store      *checkpoint.Store
	log        *logger.Logger

	mu          sync.RWMutex
	lastSession *coordinator.Snapshot
	startedAt   time.Time
}

// NewServer creates the status server. store may be nil, in which case the
// channels endpoint reports an empty list.
func NewServer(cfg *Config, store *checkpoint.Store) *Server {
	srv := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		store:     store,
		log:       logger.Get(),
		startedAt: time.Now(),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok","version":"dev"}`)); err != nil {
			_ = err // Client disconnected
		}
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/channels", s.getChannels)
	})
}

// RecordSession stores the latest finished session's counters; wire it as
// the scheduler's session callback.
func (s *Server) RecordSession(snap coordinator.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSession = &snap
}

// StatusResponse describes the archiver's current state.
type StatusResponse struct {
	Status        string                `json:"status"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	LastSession   *coordinator.Snapshot `json:"last_session,omitempty"`
}

// ChannelsResponse lists per-channel export progress.
type ChannelsResponse struct {
	Channels []models.ChannelCheckpoint `json:"channels"`
	Total    int                        `json:"total"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	last := s.lastSession
	s.mu.RUnlock()

	writeJSON(w, StatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		LastSession:   last,
	})
}

func (s *Server) getChannels(w http.ResponseWriter, _ *http.Request) {
	var checkpoints []models.ChannelCheckpoint
	if s.store != nil {
		var err error
		checkpoints, err = s.store.All()
		if err != nil {
			s.log.Error().Err(err).Msg("api: listing checkpoints failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if checkpoints == nil {
		checkpoints = []models.ChannelCheckpoint{}
	}

	writeJSON(w, ChannelsResponse{Channels: checkpoints, Total: len(checkpoints)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		_ = err // Client disconnected
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s.httpServer.Serve(listener)
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// BaseURL returns the server's base URL.
func (s *Server) BaseURL() string {
	if s.listener != nil {
		return fmt.Sprintf("http://%s", s.listener.Addr().String())
	}
	return fmt.Sprintf("http://localhost:%d", s.config.Port)
}
