// Package health serves the queue worker's operational endpoints:
// /healthz for liveness plus destination-breaker state, and /metrics for
// Prometheus scraping.
package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// BreakerState reports the destination write breaker ("closed", "open", "half-open").
type BreakerState interface {
	State() string
}

// Status is the /healthz body.
type Status struct {
	Status  string `json:"status"`
	Breaker string `json:"breaker,omitempty"`
	Uptime  string `json:"uptime"`
}

// NewRouter builds the operational router. breaker may be nil.
func NewRouter(gatherer prometheus.Gatherer, breaker BreakerState) http.Handler {
	started := time.Now()

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := Status{Status: "ok", Uptime: time.Since(started).Round(time.Second).String()}
		if breaker != nil {
			st.Breaker = breaker.State()
			// Degraded, not down: restarting does not fix the destination.
			if st.Breaker == "open" {
				st.Status = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(st); err != nil {
			log.Debug().Err(err).Msg("Failed to write health response")
		}
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Operational endpoints listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
