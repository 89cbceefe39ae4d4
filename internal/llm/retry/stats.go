package retry

import (
	"sync/atomic"
	"time"
)

// retryStats tracks retry activity with atomics.
type retryStats struct {
	totalAttempts           atomic.Int64
	successfulRetries       atomic.Int64
	failedRetries           atomic.Int64
	successfulFirstAttempts atomic.Int64
	nonRetryable            atomic.Int64
	maxBackoff              atomic.Int64 // nanoseconds
}

// Stats is a snapshot of retry activity.
type Stats struct {
	TotalAttempts     int64         `json:"total_attempts"`
	SuccessfulRetries int64         `json:"successful_retries"`
	FailedRetries     int64         `json:"failed_retries"`
	NonRetryable      int64         `json:"non_retryable"`
	AverageAttempts   float64       `json:"average_attempts"`
	MaxBackoff        time.Duration `json:"max_backoff"`
}

func (r *Retrier) recordBackoffMetrics(backoff time.Duration) {
	backoffNanos := backoff.Nanoseconds()
	for {
		current := r.stats.maxBackoff.Load()
		if backoffNanos <= current {
			return
		}
		if r.stats.maxBackoff.CompareAndSwap(current, backoffNanos) {
			return
		}
	}
}

// Stats returns a snapshot of this retrier's counters.
func (r *Retrier) Stats() Stats {
	totalAttempts := r.stats.totalAttempts.Load()
	successfulRetries := r.stats.successfulRetries.Load()
	failedRetries := r.stats.failedRetries.Load()
	firsts := r.stats.successfulFirstAttempts.Load()
	nonRetryable := r.stats.nonRetryable.Load()

	averageAttempts := 1.0
	if total := firsts + successfulRetries + failedRetries + nonRetryable; total > 0 {
		averageAttempts = float64(totalAttempts) / float64(total)
	}

	return Stats{
		TotalAttempts:     totalAttempts,
		SuccessfulRetries: successfulRetries,
		FailedRetries:     failedRetries,
		NonRetryable:      nonRetryable,
		AverageAttempts:   averageAttempts,
		MaxBackoff:        time.Duration(r.stats.maxBackoff.Load()),
	}
}
