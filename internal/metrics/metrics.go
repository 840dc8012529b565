// Package metrics exports run and stage metrics for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lucasnoah/contractforge/internal/iterate"
)

// Recorder holds the forge collectors. It implements iterate.Observer.
type Recorder struct {
	registry *prometheus.Registry

	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	attempts      prometheus.Histogram
	iterations    *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	issues        prometheus.Histogram
}

// New registers the forge collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "runs_started_total",
			Help:      "Total validate-and-correct runs started",
		}),
		// Labels: status (accepted, exhausted, stuck, escalated)
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "runs_finished_total",
			Help:      "Total runs finished by terminal status",
		}, []string{"status"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forge",
			Name:      "run_attempts",
			Help:      "Attempts used per finished run",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		}),
		// Labels: action (accept, correct, exhaust, escalate, stuck)
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "iterations_total",
			Help:      "Total recorded iterations by action",
		}, []string{"action"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "stage",
			Name:      "failures_total",
			Help:      "Total failed stage executions",
		}, []string{"stage", "critical"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forge",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Stage execution time in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"stage"}),
		issues: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forge",
			Name:      "feedback_issues",
			Help:      "Feedback issues per failed iteration",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}
	r.registry.MustRegister(
		r.runsStarted, r.runsFinished, r.attempts, r.iterations,
		r.stageFailures, r.stageDuration, r.issues,
	)
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunStarted implements iterate.Observer.
func (r *Recorder) RunStarted(context.Context, iterate.Run) error {
	r.runsStarted.Inc()
	return nil
}

// IterationRecorded implements iterate.Observer.
func (r *Recorder) IterationRecorded(_ context.Context, _ iterate.Run, rec iterate.Record) error {
	r.iterations.WithLabelValues(string(rec.Action)).Inc()
	for _, s := range rec.Result.Stages {
		r.stageDuration.WithLabelValues(s.Stage).Observe(s.Duration.Seconds())
		if !s.Passed {
			crit := "false"
			if s.Critical {
				crit = "true"
			}
			r.stageFailures.WithLabelValues(s.Stage, crit).Inc()
		}
	}
	if n := rec.Feedback.Count(); n > 0 {
		r.issues.Observe(float64(n))
	}
	return nil
}

// RunFinished implements iterate.Observer.
func (r *Recorder) RunFinished(_ context.Context, _ iterate.Run, out *iterate.Outcome) error {
	r.runsFinished.WithLabelValues(string(out.Status)).Inc()
	r.attempts.Observe(float64(len(out.History)))
	return nil
}
