package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records setup-run metrics on a private Prometheus registry.
// A zero-value or disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram

	stepAttempts    *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	stepRetries     *prometheus.CounterVec
	stepTransitions *prometheus.CounterVec

	errorsByCategory *prometheus.CounterVec

	preflightFindings *prometheus.CounterVec
	probeDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of setup runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of setup runs in seconds",
				Buckets:   buckets,
			},
		),
		stepAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_attempts_total",
				Help:      "Total number of step execution attempts",
			},
			[]string{"step", "result"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step execution including retries",
				Buckets:   buckets,
			},
			[]string{"step", "status"},
		),
		stepRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_retries_total",
				Help:      "Total number of retries scheduled per step",
			},
			[]string{"step", "category"},
		),
		stepTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_transitions_total",
				Help:      "Total number of step status transitions",
			},
			[]string{"to"},
		),
		errorsByCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of classified failures",
			},
			[]string{"category", "retryable"},
		),
		preflightFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preflight_findings_total",
				Help:      "Pre-flight findings by check and severity",
			},
			[]string{"check", "severity"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of connectivity probes",
				Buckets:   buckets,
			},
			[]string{"endpoint", "healthy"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.stepAttempts,
		m.stepDuration,
		m.stepRetries,
		m.stepTransitions,
		m.errorsByCategory,
		m.preflightFindings,
		m.probeDuration,
	)

	return m
}

// RecordRunCompleted records the outcome and duration of a run.
func (m *Metrics) RecordRunCompleted(outcome string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordAttempt records one adapter invocation for a step.
func (m *Metrics) RecordAttempt(stepID string, ok bool) {
	if m == nil || m.stepAttempts == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.stepAttempts.WithLabelValues(stepID, result).Inc()
}

// RecordStepFinished records the total time spent on a step.
func (m *Metrics) RecordStepFinished(stepID, status string, duration time.Duration) {
	if m == nil || m.stepDuration == nil {
		return
	}
	m.stepDuration.WithLabelValues(stepID, status).Observe(duration.Seconds())
}

// RecordRetry records a scheduled retry.
func (m *Metrics) RecordRetry(stepID, category string) {
	if m == nil || m.stepRetries == nil {
		return
	}
	m.stepRetries.WithLabelValues(stepID, category).Inc()
}

// RecordTransition counts a step status transition.
func (m *Metrics) RecordTransition(to string) {
	if m == nil || m.stepTransitions == nil {
		return
	}
	m.stepTransitions.WithLabelValues(to).Inc()
}

// RecordError records a classified failure.
func (m *Metrics) RecordError(category string, retryable bool) {
	if m == nil || m.errorsByCategory == nil {
		return
	}
	m.errorsByCategory.WithLabelValues(category, fmt.Sprintf("%t", retryable)).Inc()
}

// RecordPreflightFinding records a pre-flight error or warning.
func (m *Metrics) RecordPreflightFinding(check, severity string) {
	if m == nil || m.preflightFindings == nil {
		return
	}
	m.preflightFindings.WithLabelValues(check, severity).Inc()
}

// RecordProbe records a connectivity probe.
func (m *Metrics) RecordProbe(endpoint string, healthy bool, duration time.Duration) {
	if m == nil || m.probeDuration == nil {
		return
	}
	m.probeDuration.WithLabelValues(endpoint, fmt.Sprintf("%t", healthy)).Observe(duration.Seconds())
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes the registry to the configured textfile path.
// It is a no-op when metrics are disabled or no path is configured.
func (m *Metrics) WriteTextfile() error {
	if m == nil || m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
