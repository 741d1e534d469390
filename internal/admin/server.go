// Package admin is the node's small HTTP side channel: liveness/readiness
// probes, Prometheus scraping, and a peer-table inspection route, kept
// entirely separate from the TCP wire protocol the node manager speaks to
// other nodes.
//
// Styled on the teacher's internal/api/server.go router/middleware
// construction, trimmed from Concord's full chat/friends/voice API surface
// down to the three routes an operator needs to watch one quantump2p node.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/concord-chat/quantump2p/internal/observability"
	"github.com/concord-chat/quantump2p/internal/qp2p/node"
)

// Server is the admin HTTP server for one quantump2p node.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	manager    *node.Manager
	health     *observability.HealthChecker
	logger     zerolog.Logger
	addr       string
}

// New builds the admin router: /healthz, /metrics and /peers, wrapped in
// the same request-id/recoverer/timeout middleware stack the teacher's API
// server uses for every route.
func New(addr string, manager *node.Manager, health *observability.HealthChecker, logger zerolog.Logger) *Server {
	s := &Server{
		manager: manager,
		health:  health,
		logger:  logger.With().Str("component", "admin-server").Logger(),
		addr:    addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/peers", s.handlePeers)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

// Start begins listening for admin HTTP connections. It blocks until the
// server is shut down or fails.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", s.addr).Msg("starting admin HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the admin HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the chi router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	result := s.health.Check(r.Context())
	status := http.StatusOK
	if result.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Peers())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
