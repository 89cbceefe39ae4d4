package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/go-callqa/internal/llm/cache"
	"github.com/ahrav/go-callqa/internal/llm/circuitbreaker"
	"github.com/ahrav/go-callqa/internal/llm/ratelimit"
	"github.com/ahrav/go-callqa/internal/llm/retry"
	"github.com/ahrav/go-callqa/internal/llm/structured"
)

var (
	breakerStateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "breaker", "state"),
		"Circuit breaker state per dependency (0 closed, 1 open, 2 half-open)",
		[]string{"dependency"}, nil,
	)
	breakerFailuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "breaker", "consecutive_failures"),
		"Consecutive failures recorded by each circuit breaker",
		[]string{"dependency"}, nil,
	)
)

// breakerCollector reads breaker snapshots at scrape time.
type breakerCollector struct {
	breakers *circuitbreaker.Registry
}

func (c breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- breakerStateDesc
	ch <- breakerFailuresDesc
}

func (c breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.breakers.Snapshots() {
		ch <- prometheus.MustNewConstMetric(breakerStateDesc, prometheus.GaugeValue, float64(s.State), s.Dependency)
		ch <- prometheus.MustNewConstMetric(breakerFailuresDesc, prometheus.GaugeValue, float64(s.ConsecutiveFailures), s.Dependency)
	}
}

// RegisterBreakers exports breaker state for every dependency in breakers.
func RegisterBreakers(reg prometheus.Registerer, breakers *circuitbreaker.Registry) error {
	if breakers == nil {
		return nil
	}
	return register(reg, breakerCollector{breakers: breakers})
}

// RegisterLimiter exports the global in-flight model call gauge.
func RegisterLimiter(reg prometheus.Registerer, l *ratelimit.Limiter) error {
	if l == nil {
		return nil
	}
	return register(reg,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "in_flight_calls",
			Help:      "Model calls currently holding a concurrency slot",
		}, func() float64 { return float64(l.Stats().InFlight) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "queued_calls_total",
			Help:      "Model calls that waited for a concurrency slot",
		}, func() float64 { return float64(l.Stats().Waited) }),
	)
}

// RegisterCache exports result cache counters.
func RegisterCache(reg prometheus.Registerer, c *cache.ResultCache) error {
	if c == nil {
		return nil
	}
	counter := func(name, help string, read func(cache.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(c.Stats())) })
	}
	return register(reg,
		counter("hits_total", "Result cache hits", func(s cache.Stats) int64 { return s.Hits }),
		counter("misses_total", "Result cache misses", func(s cache.Stats) int64 { return s.Misses }),
		counter("evictions_total", "Invalid or stale entries evicted", func(s cache.Stats) int64 { return s.Evictions }),
	)
}

// RegisterRetrier exports retry middleware counters.
func RegisterRetrier(reg prometheus.Registerer, r *retry.Retrier) error {
	if r == nil {
		return nil
	}
	counter := func(name, help string, read func(retry.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(r.Stats())) })
	}
	return register(reg,
		counter("attempts_total", "Network attempts made by the retry middleware", func(s retry.Stats) int64 { return s.TotalAttempts }),
		counter("recovered_total", "Calls that succeeded after at least one retry", func(s retry.Stats) int64 { return s.SuccessfulRetries }),
		counter("exhausted_total", "Calls that failed after every attempt", func(s retry.Stats) int64 { return s.FailedRetries }),
		counter("non_retryable_total", "Calls that failed with a non-retryable error", func(s retry.Stats) int64 { return s.NonRetryable }),
	)
}

// RegisterFallbacks exports secondary-provider fallback counters.
func RegisterFallbacks(reg prometheus.Registerer, r *structured.Resilient) error {
	if r == nil {
		return nil
	}
	desc := prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "llm", "completions_total"),
		"Structured completions by route and outcome",
		[]string{"route", "outcome"}, nil,
	)
	return register(reg, fallbackCollector{resilient: r, desc: desc})
}

type fallbackCollector struct {
	resilient *structured.Resilient
	desc      *prometheus.Desc
}

func (c fallbackCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c fallbackCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.resilient.Stats()
	emit := func(route, outcome string, v int64) {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), route, outcome)
	}
	emit("primary", "success", s.PrimarySucceeded)
	emit("primary", "failure", s.NotEligible)
	emit("secondary", "success", s.FallbackSucceeded)
	emit("secondary", "failure", s.Terminal)
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
