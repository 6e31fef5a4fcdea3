// Package telemetry exposes Prometheus metrics for planning runs.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Recorder tracks planning activity in Prometheus metrics.
type Recorder struct {
	runs        prometheus.Counter
	duration    prometheus.Histogram
	recommended prometheus.Counter
	noWindow    prometheus.Counter
	lastSavings prometheus.Gauge
}

// NewRecorder registers the planning metrics on the default registerer.
func NewRecorder() (*Recorder, error) {
	return NewRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewRecorderWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewRecorderWithRegistry(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loadshift_plan_runs_total",
		Help: "Total number of planning runs",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loadshift_plan_duration_seconds",
		Help:    "Time spent ranking the appliance fleet",
		Buckets: prometheus.DefBuckets,
	})
	recommended := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loadshift_recommendations_total",
		Help: "Total number of recommendations produced",
	})
	noWindow := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loadshift_no_window_total",
		Help: "Total number of appliances left without a feasible window",
	})
	lastSavings := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loadshift_last_run_savings_usd",
		Help: "Estimated savings of the most recent planning run",
	})

	if err := reg.Register(runs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			runs = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			duration = are.ExistingCollector.(prometheus.Histogram)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(recommended); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			recommended = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(noWindow); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			noWindow = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(lastSavings); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			lastSavings = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &Recorder{
		runs:        runs,
		duration:    duration,
		recommended: recommended,
		noWindow:    noWindow,
		lastSavings: lastSavings,
	}, nil
}

// RecordPlan records the outcome of one planning run.
func (r *Recorder) RecordPlan(elapsed time.Duration, recommended, noWindow int, totalSavingsUSD float64) {
	r.runs.Inc()
	r.duration.Observe(elapsed.Seconds())
	r.recommended.Add(float64(recommended))
	r.noWindow.Add(float64(noWindow))
	r.lastSavings.Set(totalSavingsUSD)
}

// StartServer exposes /metrics on addr until ctx is canceled. A dedicated
// ServeMux keeps it off the API server's routes.
func StartServer(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown")
		}
		cancel()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
