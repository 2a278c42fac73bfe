package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides the Prometheus metrics rolloutd exposes, either over
// --metrics-addr or to a scrape collected after the fact from a batch run.
type Metrics struct {
	config MetricsConfig

	stepsTotal   *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	cmdDuration  *prometheus.HistogramVec

	errorsByKind *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	activeRuns   prometheus.Gauge

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

		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of steps drained from the queue, by outcome.",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of requests to the step repository, by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a full driver run, from LOCKED to EXIT.",
				Buckets:   buckets,
			},
			[]string{"mode", "outcome"},
		),
		cmdDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of a single command() invocation.",
				Buckets:   buckets,
			},
			[]string{"step"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors, by taxonomy kind.",
			},
			[]string{"kind"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of steps remaining in the queue.",
			},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "1 while a run is in progress, 0 otherwise (rolloutd runs are single-instance per host).",
			},
		),
	}

	registry.MustRegister(
		m.stepsTotal,
		m.httpRequests,
		m.runDuration,
		m.cmdDuration,
		m.errorsByKind,
		m.queueDepth,
		m.activeRuns,
	)

	return m, nil
}

// RecordStep records a step drained from the queue, success or failure.
func (m *Metrics) RecordStep(outcome string) {
	if m.stepsTotal == nil {
		return
	}
	m.stepsTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records a request to the step repository.
func (m *Metrics) RecordHTTPRequest(op, outcome string) {
	if m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(op, outcome).Inc()
}

// RecordRunStarted marks the start of a driver run.
func (m *Metrics) RecordRunStarted() {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(1)
}

// RecordRunCompleted records the end of a driver run with its mode,
// outcome, and total duration.
func (m *Metrics) RecordRunCompleted(mode, outcome string, duration time.Duration) {
	if m.runDuration == nil {
		return
	}
	m.runDuration.WithLabelValues(mode, outcome).Observe(duration.Seconds())
	m.activeRuns.Set(0)
}

// RecordCommand records the duration of a command() invocation for a step.
func (m *Metrics) RecordCommand(step string, duration time.Duration) {
	if m.cmdDuration == nil {
		return
	}
	m.cmdDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordError records an error by its taxonomy kind (http, local_file,
// config, config_validation, safe_mode, etc).
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// SetQueueDepth sets the current number of steps remaining in the queue.
func (m *Metrics) SetQueueDepth(depth int) {
	if m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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

// StartMetricsServer starts an HTTP server to expose metrics, if --metrics-addr
// (ListenAddress) was set.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
