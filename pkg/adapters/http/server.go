// Package http exposes an admin API over the session records of a pool.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/hs2pool/internal/logging"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pool is the part of session.Manager the admin API needs.
type Pool interface {
	Store() ports.SessionStore
	Sessions(ctx context.Context, key domain.PoolKey) ([]*domain.Session, error)
	Close(ctx context.Context, s *domain.Session) error
}

// Server serves the admin API.
type Server struct {
	Pool     Pool
	Gatherer prometheus.Gatherer
	Version  string
	Logger   *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithGatherer exposes the metrics of g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.Gatherer = g
	}
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.Version = v
	}
}

// WithLogger configures the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// SessionView is the wire form of a session record. The secret never leaves
// the process.
type SessionView struct {
	ID              string               `json:"id"`
	Owner           string               `json:"owner"`
	Application     string               `json:"application"`
	Coordinator     string               `json:"coordinator,omitempty"`
	ProtocolVersion int32                `json:"protocol_version"`
	Status          domain.SessionStatus `json:"status"`
	InUse           bool                 `json:"in_use"`
	CreatedAt       string               `json:"created_at"`
	LastUsedAt      string               `json:"last_used_at"`
}

// PoolStats summarizes one pool key.
type PoolStats struct {
	Pool   string `json:"pool"`
	Active int    `json:"active"`
	InUse  int    `json:"in_use"`
}

// View converts a session record to its wire form.
func View(s *domain.Session) SessionView {
	return SessionView{
		ID:              s.ID(),
		Owner:           s.Owner,
		Application:     s.Application,
		Coordinator:     s.Coordinator,
		ProtocolVersion: s.ProtocolVersion,
		Status:          s.Status,
		InUse:           s.InUse,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339Nano),
		LastUsedAt:      s.LastUsedAt.UTC().Format(time.RFC3339Nano),
	}
}

// NewHandler creates the admin HTTP handler.
func NewHandler(pool Pool, opts ...Option) http.Handler {
	s := &Server{
		Pool:    pool,
		Version: "unknown",
		Logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/pools/{owner}/{application}", func(r chi.Router) {
		r.Get("/", s.GetPool)
		r.Get("/sessions", s.ListSessions)
		r.Get("/sessions/{id}", s.GetSession)
		r.Delete("/sessions/{id}", s.DeleteSession)
	})
	return r
}

func poolKey(r *http.Request) domain.PoolKey {
	return domain.PoolKey{
		Owner:       chi.URLParam(r, "owner"),
		Application: chi.URLParam(r, "application"),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrSessionNotFound) {
		status = http.StatusNotFound
	} else {
		s.Logger.Error("Admin request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "hs2pool-admin",
		"version": strings.TrimSpace(s.Version),
	})
}

// GetPool handles GET /pools/{owner}/{application}.
func (s *Server) GetPool(w http.ResponseWriter, r *http.Request) {
	key := poolKey(r)
	sessions, err := s.Pool.Sessions(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats := PoolStats{Pool: key.String()}
	for _, sess := range sessions {
		if !sess.IsOpen() {
			continue
		}
		stats.Active++
		if sess.InUse {
			stats.InUse++
		}
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// ListSessions handles GET /pools/{owner}/{application}/sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Pool.Sessions(r.Context(), poolKey(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, View(sess))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// GetSession handles GET /pools/{owner}/{application}/sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Pool.Store().Get(r.Context(), poolKey(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, View(sess))
}

// DeleteSession handles DELETE /pools/{owner}/{application}/sessions/{id}.
// By default only the record is dropped; with ?close=true the remote session
// is closed as well.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	key := poolKey(r)
	id := chi.URLParam(r, "id")
	sess, err := s.Pool.Store().Get(r.Context(), key, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("close") == "true" {
		if err := s.Pool.Close(r.Context(), sess); err != nil {
			// The record is gone either way.
			s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
	} else if err := s.Pool.Store().Delete(r.Context(), sess); err != nil {
		s.writeError(w, r, fmt.Errorf("failed to forget session %s: %w", id, err))
		return
	}
	s.Logger.Info("Session removed by admin", "pool", key.String(), "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}
