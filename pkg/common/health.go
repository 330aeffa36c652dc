package common

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arl/statsviz"
)

// HealthServer serves the liveness and readiness probes plus the statsviz
// runtime debug pages.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer builds the probe mux and starts serving it on addr. The
// returned server runs until Shutdown is called on Server(). Liveness is
// unconditional; readiness follows the ready flag the caller flips once its
// wiring is complete.
func NewHealthServer(addr string, ready *atomic.Bool) *HealthServer {
	hs := &HealthServer{ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", hs.handleHealth)
	mux.HandleFunc("/v1/readiness", hs.handleReadiness)

	// Runtime visualization shares the probe port so it never rides on a
	// service-facing listener.
	if err := statsviz.Register(mux); err != nil {
		log.Printf("failed to register statsviz: %v", err)
	}

	hs.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health server stopped: %v", err)
		}
	}()

	return hs
}

// Server exposes the underlying http.Server so callers can shut it down.
func (hs *HealthServer) Server() *http.Server { return hs.server }

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

func (hs *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !hs.ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
