package notify

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// MetricsSink turns run notifications into Prometheus metrics.
type MetricsSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDurations  *prometheus.HistogramVec
	steps         *prometheus.CounterVec
	stepDurations *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	costUSD       *prometheus.CounterVec
	errors        *prometheus.CounterVec
	controls      *prometheus.CounterVec
}

// NewMetricsSink registers the run metrics with registry.
func NewMetricsSink(registry *prometheus.Registry) (*MetricsSink, error) {
	if registry == nil {
		return nil, errors.New("prometheus registry is nil")
	}

	m := &MetricsSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icee_runs_started_total",
			Help: "Total number of runs started, including forks",
		}, []string{"graph_id"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icee_runs_completed_total",
			Help: "Total number of runs that reached a terminal state",
		}, []string{"state"}),
		runDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icee_run_duration_seconds",
			Help:    "Run wall-clock duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"state"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icee_steps_completed_total",
			Help: "Total number of node executions by node type and outcome",
		}, []string{"node_type", "status"}),
		stepDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icee_step_duration_seconds",
			Help:    "Node execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_type"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icee_tokens_total",
			Help: "Tokens consumed by node type",
		}, []string{"node_type"}),
		costUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icee_cost_usd_total",
			Help: "Cost in USD by node type",
		}, []string{"node_type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icee_run_errors_total",
			Help: "Run failures by error type",
		}, []string{"error_type"}),
		controls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icee_run_controls_total",
			Help: "Pause, resume and fork operations",
		}, []string{"operation"}),
	}

	for _, collector := range []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDurations, m.steps, m.stepDurations,
		m.tokens, m.costUSD, m.errors, m.controls,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, errors.Wrap(err, "register collector")
		}
	}
	return m, nil
}

// Notify implements Sink.
func (m *MetricsSink) Notify(n domain.Notification) {
	switch p := n.Payload.(type) {
	case domain.RunStartedPayload:
		m.runsStarted.WithLabelValues(p.GraphID).Inc()
	case domain.StepCompletedPayload:
		if p.Event == nil {
			return
		}
		nodeType := string(p.NodeType)
		status := "success"
		if p.Event.Error != nil {
			status = "error"
		}
		m.steps.WithLabelValues(nodeType, status).Inc()
		m.stepDurations.WithLabelValues(nodeType).Observe(float64(p.Event.DurationMs) / 1000)
		if p.Event.Tokens > 0 {
			m.tokens.WithLabelValues(nodeType).Add(float64(p.Event.Tokens))
		}
		if p.Event.CostUSD > 0 {
			m.costUSD.WithLabelValues(nodeType).Add(p.Event.CostUSD)
		}
	case domain.ErrorPayload:
		typ := domain.ErrorTypeSystem
		if p.Error != nil {
			typ = p.Error.Type
		}
		m.errors.WithLabelValues(string(typ)).Inc()
	case domain.RunCompletedPayload:
		state := string(p.State)
		m.runsCompleted.WithLabelValues(state).Inc()
		m.runDurations.WithLabelValues(state).Observe(float64(p.DurationMs) / 1000)
	case domain.RunPausedPayload:
		m.controls.WithLabelValues("pause").Inc()
	case domain.RunResumedPayload:
		m.controls.WithLabelValues("resume").Inc()
	case domain.RunForkedPayload:
		m.controls.WithLabelValues("fork").Inc()
	}
}
