// Package metrics exposes Prometheus instruments for the evaluation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "callqa"

// Metrics implements the model-call observer used by the logging middleware,
// the orchestrator's stage observer and the persistence and HTTP hooks.
type Metrics struct {
	modelCalls   *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	evaluations  *prometheus.CounterVec
	scores       prometheus.Histogram
	persistence  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewMetrics registers the instruments with reg, or the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Model calls by provider, result shape and outcome",
		}, []string{"provider", "shape", "outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Latency of single model calls",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		}, []string{"provider", "shape"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by model calls",
		}, []string{"provider", "shape", "kind"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Latency of pipeline stages by outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "evaluations_total",
			Help:      "Completed evaluations by outcome",
		}, []string{"outcome"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "overall_score",
			Help:      "Distribution of overall call scores",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		persistence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Fire-and-forget persistence writes by record and status",
		}, []string{"record", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.modelCalls, m.modelLatency, m.tokens,
		m.stageLatency, m.evaluations, m.scores,
		m.persistence, m.httpRequests, m.httpLatency,
	)
	return m
}

// ObserveModelCall records one model call. An empty outcome means success.
func (m *Metrics) ObserveModelCall(provider, shape string, elapsed time.Duration, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "success"
	}
	m.modelCalls.WithLabelValues(provider, shape, outcome).Inc()
	m.modelLatency.WithLabelValues(provider, shape).Observe(elapsed.Seconds())
}

// ObserveTokens records token usage for one successful call.
func (m *Metrics) ObserveTokens(provider, shape string, prompt, completion int64) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.tokens.WithLabelValues(provider, shape, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.tokens.WithLabelValues(provider, shape, "completion").Add(float64(completion))
	}
}

// ObserveStage records one pipeline stage.
func (m *Metrics) ObserveStage(stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

// ObserveEvaluation records one finished evaluation. Scores are only
// observed for evaluations that produced a report.
func (m *Metrics) ObserveEvaluation(outcome string, score int, _ time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	if score > 0 {
		m.scores.Observe(float64(score))
	}
}

// ObservePersist records a persistence write.
func (m *Metrics) ObservePersist(record string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.persistence.WithLabelValues(record, status).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
	m.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}
