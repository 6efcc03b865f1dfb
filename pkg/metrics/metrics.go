// Package metrics exposes run counters and gauges for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eunmann/primegen/pkg/engine"
	"github.com/eunmann/primegen/pkg/logging"
)

const namespace = "primegen"

// Metrics holds the collectors of one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	unitsTotal   prometheus.Gauge
	unitsDone    *prometheus.CounterVec
	primesFound  *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	memUsed      prometheus.Gauge
	progressPct  prometheus.Gauge
	filesWritten prometheus.Counter
	uploads      *prometheus.CounterVec
	runs         *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		unitsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Units planned for the current run (saturated at 2^64-1)",
		}),
		unitsDone: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_done_total",
			Help:      "Units flushed to the output",
		}, []string{"method"}),
		primesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "primes_found_total",
			Help:      "Primes written to the output",
		}, []string{"method"}),
		unitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Time to compute one unit",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"method"}),
		memUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_used_bytes",
			Help:      "Memory in use at the last progress update",
		}),
		progressPct: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_percent",
			Help:      "Percent of units done",
		}),
		filesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_written_total",
			Help:      "Output files committed",
		}),
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Files published to object storage",
		}, []string{"status"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by terminal status",
		}, []string{"status"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// UnitFlushed records one flushed unit.
func (m *Metrics) UnitFlushed(u engine.UnitReport) {
	if m == nil {
		return
	}
	m.unitsDone.WithLabelValues(u.Job).Inc()
	m.primesFound.WithLabelValues(u.Job).Add(float64(u.Primes))
	m.unitDuration.WithLabelValues(u.Job).Observe(u.Duration.Seconds())
}

// Progress records a progress snapshot.
func (m *Metrics) Progress(p engine.Progress) {
	if m == nil {
		return
	}
	m.unitsTotal.Set(float64(p.UnitsTotal))
	m.progressPct.Set(p.Percent)
	m.memUsed.Set(float64(p.MemUsedBytes))
}

// FileWritten records a committed output file.
func (m *Metrics) FileWritten() {
	if m == nil {
		return
	}
	m.filesWritten.Inc()
}

// Upload records a publish attempt.
func (m *Metrics) Upload(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.uploads.WithLabelValues(status).Inc()
}

// RunFinished records a run's terminal status.
func (m *Metrics) RunFinished(status engine.Status) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	logging.L().Info().Str("addr", addr).Msg("serving metrics")

	select {
	case err := <-errc:
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
