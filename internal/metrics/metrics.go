// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline and the watcher.
//
// All recording methods are safe on a nil *Metrics so components can be built
// without instrumentation in tests and one-shot CLI runs.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"folderwatch/internal/logging"
)

const namespace = "folderwatch"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	files        *prometheus.CounterVec
	records      prometheus.Counter
	fileDuration prometheus.Histogram
	sweeps       prometheus.Counter
	watcherState *prometheus.GaugeVec
}

// Watcher states reported through the state gauge.
var watcherStates = []string{"stopped", "sweeping", "watching"}

// New creates and registers the folderwatch collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files handled by the ingestion pipeline, by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Employee records committed to the database.",
		}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time spent ingesting one file.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed sweeps of the watched directory.",
		}),
		watcherState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_state",
			Help:      "1 for the watcher's current state, 0 otherwise.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(m.files, m.records, m.fileDuration, m.sweeps, m.watcherState)
	m.SetWatcherState("stopped")
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFile records one pipeline outcome.
func (m *Metrics) ObserveFile(outcome string, records int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(outcome).Inc()
	if records > 0 {
		m.records.Add(float64(records))
	}
	m.fileDuration.Observe(elapsed.Seconds())
}

// SweepCompleted counts a finished sweep.
func (m *Metrics) SweepCompleted() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}

// SetWatcherState flips the state gauge to state.
func (m *Metrics) SetWatcherState(state string) {
	if m == nil {
		return
	}
	for _, candidate := range watcherStates {
		value := 0.0
		if candidate == state {
			value = 1
		}
		m.watcherState.WithLabelValues(candidate).Set(value)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on bind until ctx is cancelled. It returns once the
// listener is bound; serving continues in the background.
func (m *Metrics) Serve(ctx context.Context, bind string, logger *slog.Logger) (net.Addr, error) {
	logger = logging.NewComponentLogger(logger, "metrics")
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(logger, "metrics endpoint stopped", "metrics_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "prometheus scrapes will fail"),
			)
		}
	}()

	logger.Info("metrics endpoint listening",
		logging.String(logging.FieldEventType, "metrics_listening"),
		logging.String("addr", listener.Addr().String()),
	)
	return listener.Addr(), nil
}
