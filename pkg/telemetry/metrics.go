package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratagen/strata/pkg/trace"
)

// Run statuses used as metric labels.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics provides Prometheus metrics for pipeline runs.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepEvents    *prometheus.CounterVec

	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),
		stepEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_events_total",
				Help:      "Total number of verbose step events",
			},
			[]string{"step"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy findings by policy and severity",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.stepsExecuted,
		m.stepDuration,
		m.stepEvents,
		m.policyViolations,
	)

	return m, nil
}

// Registry returns the metrics registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if m.registry == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordStep records one step execution.
func (m *Metrics) RecordStep(stepID, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(stepID, status).Inc()
	if status == StatusOK {
		m.stepDuration.WithLabelValues(stepID).Observe(duration.Seconds())
	}
}

// RecordStepEvent counts a verbose step event.
func (m *Metrics) RecordStepEvent(stepID string) {
	if m.registry == nil {
		return
	}
	m.stepEvents.WithLabelValues(stepID).Inc()
}

// RecordPolicyViolation counts a policy finding.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.registry == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer binds the configured listen address and serves metrics
// until ctx is done. It returns the bound address, which differs from the
// configured one when the port is 0.
func (m *Metrics) StartMetricsServer(ctx context.Context) (string, error) {
	if m.registry == nil || m.config.ListenAddress == "" {
		return "", nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	listener, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			FromContext(ctx).WithError(err).Error("metrics server stopped")
		}
	}()

	return listener.Addr().String(), nil
}

// MetricsSink records run and step metrics from trace events. Durations are
// measured between event timestamps.
type MetricsSink struct {
	metrics *Metrics

	mu   sync.Mutex
	runs map[string]*runClock
}

type runClock struct {
	started time.Time
	steps   map[string]time.Time
}

// NewMetricsSink returns a sink recording into m.
func NewMetricsSink(m *Metrics) *MetricsSink {
	return &MetricsSink{metrics: m, runs: make(map[string]*runClock)}
}

// Emit implements trace.Sink.
func (s *MetricsSink) Emit(e trace.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case trace.KindRunStart:
		s.runs[e.RunID] = &runClock{started: e.Time, steps: make(map[string]time.Time)}
		s.metrics.RecordRunStarted()

	case trace.KindStepStart:
		if r := s.runs[e.RunID]; r != nil {
			r.steps[e.StepID] = e.Time
		}

	case trace.KindStepEvent:
		s.metrics.RecordStepEvent(e.StepID)

	case trace.KindStepFinish:
		r := s.runs[e.RunID]
		if r == nil {
			return
		}
		if started, ok := r.steps[e.StepID]; ok {
			s.metrics.RecordStep(e.StepID, StatusOK, e.Time.Sub(started))
			delete(r.steps, e.StepID)
		}

	case trace.KindRunFinish:
		r := s.runs[e.RunID]
		if r == nil {
			return
		}
		s.metrics.RecordRunCompleted(StatusOK, e.Time.Sub(r.started))
		delete(s.runs, e.RunID)
	}
}

// Abort records the run and its unfinished steps as failed.
func (s *MetricsSink) Abort(runID string, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.runs[runID]
	if r == nil {
		return
	}
	for id := range r.steps {
		s.metrics.RecordStep(id, StatusFailed, 0)
	}
	s.metrics.RecordRunCompleted(StatusFailed, time.Since(r.started))
	delete(s.runs, runID)
}
