package circuitbreaker

import "sync/atomic"

// circuitBreakerMetrics counts breaker decisions.
type circuitBreakerMetrics struct {
	stateTransitions    atomic.Int64
	requestsAllowed     atomic.Int64
	requestsRejected    atomic.Int64
	probeAttempts       atomic.Int64
	probeSuccesses      atomic.Int64
	probeGuardConflicts atomic.Int64
}

// Stats aggregates counters across every breaker in a Registry.
type Stats struct {
	TotalBreakers            int            `json:"total_breakers"`
	StateCount               map[string]int `json:"state_count"`
	TotalStateTransitions    int64          `json:"total_state_transitions"`
	TotalRequestsAllowed     int64          `json:"total_requests_allowed"`
	TotalRequestsRejected    int64          `json:"total_requests_rejected"`
	TotalProbeAttempts       int64          `json:"total_probe_attempts"`
	TotalProbeSuccesses      int64          `json:"total_probe_successes"`
	TotalProbeGuardConflicts int64          `json:"total_probe_guard_conflicts"`
}

// Stats returns aggregated counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	stats := Stats{TotalBreakers: len(breakers), StateCount: make(map[string]int)}
	for _, b := range breakers {
		stats.StateCount[b.State().String()]++
		stats.TotalStateTransitions += b.metrics.stateTransitions.Load()
		stats.TotalRequestsAllowed += b.metrics.requestsAllowed.Load()
		stats.TotalRequestsRejected += b.metrics.requestsRejected.Load()
		stats.TotalProbeAttempts += b.metrics.probeAttempts.Load()
		stats.TotalProbeSuccesses += b.metrics.probeSuccesses.Load()
		stats.TotalProbeGuardConflicts += b.metrics.probeGuardConflicts.Load()
	}
	return stats
}
