// Package server exposes the status HTTP surface next to the polling engine:
// liveness, a JSON view of the tracked set, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boxothing/TwitchLiveAlert/tracker"
)

// StatusSource is the engine view the handlers read. Implementations must be
// safe for concurrent use.
type StatusSource interface {
	Snapshot() tracker.Snapshot
}

// NewMux returns the HTTP handler with all routes.
func NewMux(src StatusSource) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src.Snapshot()); err != nil {
			slog.Warn("status encode failed", slog.Any("err", err))
		}
	})
	return mux
}

// Start runs the status server until the context is cancelled.
func Start(ctx context.Context, src StatusSource, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(src),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("status server shutdown", slog.Any("err", err))
		}
	}()
	slog.Info("status server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
