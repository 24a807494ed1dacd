// Package server wires the HTTP surface: health probes, Prometheus metrics,
// and the two WebSocket session endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/lyra-ai/lyra-gateway/pkg/gateway/config"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/handlers"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/session"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/sessions"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/metrics"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/mw"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/ratelimit"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps     session.Dependencies
	registry *sessions.Registry
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics

	memoryEnabled bool
	draining      atomic.Bool
}

func New(cfg config.Config, deps session.Dependencies, memoryEnabled bool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		deps:     deps,
		registry: sessions.NewRegistry(),
		metrics:  deps.Metrics,
		limiter: ratelimit.New(ratelimit.Config{
			SessionsPerMinute:     cfg.LimitSessionsPerMinute,
			Burst:                 cfg.LimitSessionBurst,
			MaxConcurrentSessions: cfg.LimitMaxSessions,
		}),
		memoryEnabled: memoryEnabled,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:        s.cfg,
		Registry:      s.registry,
		MemoryEnabled: s.memoryEnabled,
		Draining:      s.draining.Load,
	})
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	s.mux.Handle("/v1/live", mw.SessionLimit(s.limiter, handlers.LiveHandler{
		Config:   s.cfg,
		Deps:     s.deps,
		Logger:   s.logger,
		Registry: s.registry,
		Draining: s.draining.Load,
	}))
	s.mux.Handle("/v1/telephony", mw.SessionLimit(s.limiter, handlers.TelephonyHandler{
		Config:   s.cfg,
		Deps:     s.deps,
		Logger:   s.logger,
		Registry: s.registry,
		Draining: s.draining.Load,
	}))
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes session endpoints refuse new work during shutdown.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

// WarnSessions tells every live session the gateway is going away.
func (s *Server) WarnSessions(code, message string) int {
	return s.registry.WarnAll(code, message)
}

// CancelSessions force-closes every live session.
func (s *Server) CancelSessions() int {
	return s.registry.CancelAll()
}

// WaitSessions blocks until all sessions are gone or the context expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.registry.Wait(ctx)
}

// ActiveSessions reports the current session count.
func (s *Server) ActiveSessions() int {
	return s.registry.Count()
}
