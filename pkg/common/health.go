// Package common provides shared utilities for the system.
package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arl/statsviz"

	"github.com/ahrav/facerec/pkg/common/logger"
)

// ReadinessCheck reports whether the dependencies needed to serve traffic are
// reachable.
type ReadinessCheck func(ctx context.Context) error

const readinessTimeout = 2 * time.Second

// HealthServer serves the liveness and readiness probes plus the statsviz
// runtime dashboard under /debug/statsviz.
type HealthServer struct {
	ready  *atomic.Bool
	check  ReadinessCheck
	server *http.Server
	log    *logger.Logger
}

// NewHealthServer builds the ops server on addr. Readiness answers 503 until
// ready is set and whenever check fails. check may be nil.
func NewHealthServer(addr string, ready *atomic.Bool, check ReadinessCheck, log *logger.Logger) (*HealthServer, error) {
	mux := http.NewServeMux()
	hs := &HealthServer{
		ready: ready,
		check: check,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With("component", "health_server"),
	}

	mux.HandleFunc("/v1/readiness", hs.readinessHandler)
	mux.HandleFunc("/v1/health", hs.healthHandler)
	if err := statsviz.Register(mux); err != nil {
		return nil, fmt.Errorf("registering statsviz: %w", err)
	}

	return hs, nil
}

// Start listens in the background. Listen errors are returned synchronously.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error(context.Background(), "health server error", "error", err)
		}
	}()
	return nil
}

// Handler exposes the routes for tests.
func (h *HealthServer) Handler() http.Handler { return h.server.Handler }

// Shutdown stops the server gracefully.
func (h *HealthServer) Shutdown(ctx context.Context) error { return h.server.Shutdown(ctx) }

func (h *HealthServer) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		http.Error(w, "Not ready", http.StatusServiceUnavailable)
		return
	}
	if h.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := h.check(ctx); err != nil {
			h.log.Warn(ctx, "readiness check failed", "error", err)
			http.Error(w, "Not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// healthHandler answers liveness probes while the process runs.
func (h *HealthServer) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
