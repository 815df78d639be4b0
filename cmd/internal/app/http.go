package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes holds what registerHTTP mounts. Nil fields are skipped.
type routes struct {
	log Logger
	cfg Config

	// ping checks the database; nil when running on the memory store.
	ping func(r *http.Request) error

	auth    interface{ Register(*http.ServeMux) }
	ws      http.Handler
	metrics prometheus.Gatherer
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	health := func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	}
	mux.HandleFunc("/healthz", health)
	mux.HandleFunc("/health", health)

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.ReadinessRequireDB && rt.ping == nil {
			writeStatus(w, http.StatusServiceUnavailable, "db not configured")
			return
		}
		if rt.ping != nil {
			if err := rt.ping(r); err != nil {
				rt.log.Info("readyz.db.not_ready", "err", err)
				writeStatus(w, http.StatusServiceUnavailable, "db not ready")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready")
	})

	if rt.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(rt.metrics, promhttp.HandlerOpts{
			Timeout: 5 * time.Second,
		}))
	}
	if rt.auth != nil {
		rt.auth.Register(mux)
	}
	if rt.ws != nil {
		mux.Handle("/ws", rt.ws)
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
