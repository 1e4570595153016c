// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package httpapi exposes the daemon's read-only HTTP status surface:
// health, Prometheus metrics, and a small JSON snapshot. It is
// unauthenticated and carries no mutation routes, deliberately short of
// the auditing/administration UI this project does not implement.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/metrics"
)

// Status is the shape returned by GET /status.
type Status struct {
	LedgerSize    int  `json:"ledger_size"`
	ActiveBans    int  `json:"active_bans"`
	PermBans      int  `json:"perm_bans"`
	AllowlistSize int  `json:"allowlist_size"`
	BlocklistSize int  `json:"blocklist_size"`
	Shutdown      bool `json:"shutdown"`
}

// StatusProvider supplies the live values for the /status snapshot. The
// lifecycle package implements this over the shared Runtime.
type StatusProvider interface {
	Status() Status
}

// Server is the read-only HTTP status surface.
type Server struct {
	httpServer *http.Server
	log        *logging.Logger
}

// New builds a Server bound to addr, wiring /healthz, /metrics and /status.
// An empty addr means the surface is disabled; Start becomes a no-op.
func New(addr string, m *metrics.Collector, provider StatusProvider, healthy func() bool) *Server {
	log := logging.WithComponent("httpapi")
	if addr == "" {
		return &Server{log: log}
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if healthy() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(provider.Status())
	}).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r},
		log:        log,
	}
}

// Start serves the status surface until ctx is canceled. A disabled Server
// (empty addr) returns immediately once ctx is done.
func (s *Server) Start(ctx context.Context) {
	if s.httpServer == nil {
		<-ctx.Done()
		return
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("http status surface exited", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http status surface shutdown error", "error", err)
	}
}
