package retry

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
)

// backoff returns the wait before attempt+1. A server Retry-After hint is
// honored but never waits past MaxInterval.
func (r *Retrier) backoff(attempt int, err error) time.Duration {
	if hint := extractRetryAfter(err); hint > 0 {
		return min(hint, r.config.MaxInterval)
	}
	return ExponentialBackoff(attempt, r.config)
}

func extractRetryAfter(err error) time.Duration {
	var provider AfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}
	return 0
}

// ExponentialBackoff computes min(InitialInterval * Multiplier^(attempt-1),
// MaxInterval) and, when jitter is enabled, adds up to JitterFraction of that
// delay. The result never exceeds MaxInterval.
func ExponentialBackoff(attempt int, config configuration.RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := config.InitialInterval
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff >= config.MaxInterval {
			backoff = config.MaxInterval
			break
		}
	}

	if config.UseJitter {
		backoff = CalculateJitter(backoff, config.JitterFraction)
	}

	return min(backoff, config.MaxInterval)
}

// CalculateJitter adds jitter to a base duration using thread-safe rand/v2.
// Factor should be between 0 and 1 for proportional jitter.
func CalculateJitter(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	if factor > 1 {
		factor = 1
	}

	jitterRange := float64(base) * factor
	jitter := rand.Float64() * jitterRange // #nosec G404 -- non-cryptographic jitter

	return base + time.Duration(jitter)
}
