package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nightscout-easyview/internal/agent/version"
)

func (a *Agent) statusRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/healthz", a.handleHealthz)
	r.Get("/version", a.handleVersion)
	return r
}

func (a *Agent) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	body := a.health.Snapshot()
	body["state"] = a.scheduler.State()
	code := http.StatusOK
	if !a.health.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (a *Agent) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get(a.cfg))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *Agent) runStatusServer(ctx context.Context) error {
	addr := strings.TrimSpace(a.cfg.Status.Addr)
	if addr == "" {
		a.logger.Info("status server disabled")
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen status endpoint %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           a.statusRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.logger.Info("status server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status server shutdown failed", "error", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status endpoint %s: %w", addr, err)
	}
	return nil
}
