// Package api provides the HTTP server of the ChatMaestro coaching service.
//
// Host applications register participants, push data snapshots and feedback contexts, read
// and update per-participant settings, and record how participants reacted. Every response
// uses the models.APIResponse envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/coach"
	"github.com/BTreeMap/ChatMaestro/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server serves the coaching API.
type Server struct {
	st       store.Store
	registry *coach.Registry
	sweeper  *coach.Sweeper
	now      func() time.Time
	srv      *http.Server
}

// NewServer creates a Server. sweeper may be nil, in which case POST /sweep is unavailable.
func NewServer(st store.Store, registry *coach.Registry, sweeper *coach.Sweeper, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{st: st, registry: registry, sweeper: sweeper, now: time.Now}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/sweep", s.sweepHandler)
	mux.HandleFunc("/participants", s.registerParticipantHandler)
	mux.HandleFunc("/participants/{id}", s.getParticipantHandler)
	mux.HandleFunc("/participants/{id}/snapshots", s.snapshotHandler)
	mux.HandleFunc("/participants/{id}/feedback", s.feedbackHandler)
	mux.HandleFunc("/participants/{id}/feedback/settings", s.feedbackSettingsHandler)
	mux.HandleFunc("/participants/{id}/feedback/enabled", s.feedbackEnabledHandler)
	mux.HandleFunc("/participants/{id}/feedback/history", s.feedbackHistoryHandler)
	mux.HandleFunc("/participants/{id}/proactivity/settings", s.proactivitySettingsHandler)
	mux.HandleFunc("/participants/{id}/proactivity/enabled", s.proactivityEnabledHandler)
	mux.HandleFunc("/participants/{id}/proactivity/analytics", s.analyticsHandler)
	mux.HandleFunc("/participants/{id}/interventions", s.interventionsHandler)
	mux.HandleFunc("/participants/{id}/responses", s.responsesHandler)
	return mux
}

// ListenAndServe blocks serving the API until Shutdown is called.
func (s *Server) ListenAndServe() error {
	slog.Info("ChatMaestro API listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server.ListenAndServe: server failed", "error", err)
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
