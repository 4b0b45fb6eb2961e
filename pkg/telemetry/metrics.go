package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumaops/provisioner/pkg/engine"
)

// Metrics provides Prometheus metrics for the provisioner on a private
// registry. A disabled instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	duplicates        prometheus.Counter
	claimConflicts    prometheus.Counter
	manifestConflicts prometheus.Counter

	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec

	stuckClients prometheus.Gauge

	mu    sync.Mutex
	stuck map[string]struct{}

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
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
		stuck:    make(map[string]struct{}),

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Provisioning runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of provisioning runs",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_deliveries_total",
			Help:      "Deliveries for clients that were already provisioned",
		}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_conflicts_total",
			Help:      "Runs refused because another run held the client claim",
		}),
		manifestConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_conflicts_total",
			Help:      "Manifest writes rejected by the generation precondition",
		}),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Step executions against external systems",
			},
			[]string{"step"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Failed step executions by error class",
			},
			[]string{"step", "class"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of workflow steps",
				Buckets:   buckets,
			},
			[]string{"step"},
		),
		stuckClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stuck_clients",
			Help:      "Failed clients that reached the stuck threshold",
		}),
	}

	registry.MustRegister(
		m.runs,
		m.runDuration,
		m.duplicates,
		m.claimConflicts,
		m.manifestConflicts,
		m.providerCalls,
		m.providerErrors,
		m.stepDuration,
		m.stuckClients,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(clientID, outcome string, elapsed time.Duration) {
	if !m.enabled() {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())

	switch outcome {
	case engine.OutcomeDuplicate:
		m.duplicates.Inc()
	case engine.OutcomeClaimConflict:
		m.claimConflicts.Inc()
	}
	if outcome == engine.OutcomeCompleted || outcome == engine.OutcomeDuplicate {
		m.clearStuck(clientID)
	}
}

// RecordStepStart counts one step execution.
func (m *Metrics) RecordStepStart(step engine.Step) {
	if !m.enabled() {
		return
	}
	m.providerCalls.WithLabelValues(string(step)).Inc()
}

// RecordStep records a finished step and its error class, if any.
func (m *Metrics) RecordStep(step engine.Step, err error, elapsed time.Duration) {
	if !m.enabled() {
		return
	}
	m.stepDuration.WithLabelValues(string(step)).Observe(elapsed.Seconds())
	if err != nil {
		m.providerErrors.WithLabelValues(string(step), string(engine.ClassOf(err))).Inc()
	}
}

// RecordManifestConflict counts a rejected conditional manifest write.
func (m *Metrics) RecordManifestConflict() {
	if !m.enabled() {
		return
	}
	m.manifestConflicts.Inc()
}

// MarkStuck adds a client to the stuck gauge. Marking twice counts once.
func (m *Metrics) MarkStuck(clientID string) {
	if !m.enabled() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stuck[clientID] = struct{}{}
	m.stuckClients.Set(float64(len(m.stuck)))
}

func (m *Metrics) clearStuck(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stuck[clientID]; !ok {
		return
	}
	delete(m.stuck, clientID)
	m.stuckClients.Set(float64(len(m.stuck)))
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if !m.enabled() {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler serving the registry, or nil when metrics
// are disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
