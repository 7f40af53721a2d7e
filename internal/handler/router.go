// Package handler exposes the operational HTTP surface of the bot: health,
// readiness and metrics. Conversations never go through HTTP.
package handler

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// checkTimeout bounds each dependency probe in /healthz.
const checkTimeout = 3 * time.Second

// Check probes one collaborator.
type Check struct {
	Name string
	// Critical failures make the bot unhealthy; others only degrade it.
	Critical bool
	Probe    func(ctx context.Context) error
}

// Readiness flips to ready once the bot has started polling.
type Readiness struct {
	ready atomic.Bool
}

func (r *Readiness) Set(v bool) { r.ready.Store(v) }

func (r *Readiness) Ready() bool { return r.ready.Load() }

// NewRouter creates the ops router.
func NewRouter(checks []Check, ready *Readiness, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/healthz", healthzHandler(checks, logger))
	r.Get("/readyz", readyzHandler(ready))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/bot", botMetricsHandler(metrics))
	})

	return r
}

func healthzHandler(checks []Check, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /healthz")
		defer span.End()

		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{{Name: "fenix-bot", Status: "healthy", LastChecked: now}}
		overall := "healthy"

		for _, c := range checks {
			probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			start := time.Now()
			err := c.Probe(probeCtx)
			cancel()

			sh := domain.ServiceHealth{
				Name:        c.Name,
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				logger.Warn("health check failed", zap.String("service", c.Name), zap.Error(err))
				sh.Error = err.Error()
				sh.Status = "degraded"
				if c.Critical {
					sh.Status = "unhealthy"
				}
			}
			switch {
			case sh.Status == "unhealthy":
				overall = "unhealthy"
			case sh.Status == "degraded" && overall == "healthy":
				overall = "degraded"
			}
			services = append(services, sh)
		}

		status := http.StatusOK
		if overall == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler(ready *Readiness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready == nil || !ready.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func botMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetBotSnapshot())
	}
}
