// Package metrics exposes forecast run metrics for Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/z0rr0/wattcast/forecaster"
)

const (
	statusOK    = "ok"
	statusError = "error"

	shutdownTimeout = 5 * time.Second
)

// Recorder records forecast runs. A nil Recorder discards everything.
type Recorder struct {
	registry  *prometheus.Registry
	runs      *prometheus.CounterVec
	steps     prometheus.Counter
	sanitized prometheus.Counter
	duration  *prometheus.HistogramVec
	nextHour  prometheus.Gauge
	lastRun   prometheus.Gauge
}

// New creates a recorder with its own registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wattcast_forecast_runs_total",
				Help: "Total number of forecast runs",
			},
			[]string{"predictor", "status"},
		),
		steps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wattcast_forecast_steps_total",
				Help: "Total number of predicted hours",
			},
		),
		sanitized: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wattcast_sanitized_features_total",
				Help: "Total number of NaN or infinite feature values replaced with zero",
			},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wattcast_forecast_duration_seconds",
				Help:    "Duration of forecast runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"predictor"},
		),
		nextHour: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wattcast_forecast_next_hour_kw",
				Help: "Predicted global active power for the first forecast hour",
			},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wattcast_forecast_last_success_timestamp_seconds",
				Help: "Unix time of the last successful forecast run",
			},
		),
	}
}

// RecordRun records a forecast run result or its error.
func (r *Recorder) RecordRun(predictor string, result *forecaster.Result, err error) {
	if r == nil {
		return
	}

	if err != nil || result == nil {
		r.runs.WithLabelValues(predictor, statusError).Inc()
		return
	}

	r.runs.WithLabelValues(predictor, statusOK).Inc()
	r.steps.Add(float64(len(result.Steps)))
	r.sanitized.Add(float64(result.Sanitized))
	r.duration.WithLabelValues(predictor).Observe(result.Duration.Seconds())
	r.lastRun.SetToCurrentTime()

	if len(result.Steps) > 0 {
		r.nextHour.Set(result.Steps[0].Value)
	}
}

// Handler returns the HTTP handler of the metrics endpoint.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve serves /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown", "error", err)
		}
	}()

	slog.InfoContext(ctx, "metrics server started", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}

	slog.Info("metrics server stopped")
	return nil
}
