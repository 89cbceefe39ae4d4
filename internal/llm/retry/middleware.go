// Package retry re-issues model calls that failed with a transport failure.
// Schema violations, authentication failures, open circuits and caller
// cancellation are returned on the first occurrence.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

var (
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
	errJitterInvalid          = errors.New("jitterFraction must be within [0, 1]")

	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
)

// AfterProvider is implemented by errors that carry a server backoff hint.
type AfterProvider interface {
	GetRetryAfter() time.Duration
}

// Retrier runs an operation up to MaxAttempts times with capped exponential
// backoff between transport failures. It is safe for concurrent use.
type Retrier struct {
	config configuration.RetryConfig
	logger *slog.Logger
	stats  *retryStats
}

// New validates cfg and returns a Retrier.
func New(cfg configuration.RetryConfig) (*Retrier, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v",
			errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction > 1 {
		return nil, fmt.Errorf("%w, got %f", errJitterInvalid, cfg.JitterFraction)
	}

	return &Retrier{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
		stats:  &retryStats{},
	}, nil
}

// NewRetryMiddlewareWithConfig creates retry middleware with specified configuration.
func NewRetryMiddlewareWithConfig(cfg configuration.RetryConfig) (transport.Middleware, error) {
	r, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return r.Middleware(), nil
}

// Middleware wraps a handler so each request is retried by r.
func (r *Retrier) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			var resp *transport.Response
			err := r.Do(ctx, func(ctx context.Context, attempt int) error {
				var err error
				resp, err = next.Handle(ctx, req)
				if err != nil && attempt > 1 {
					r.logger.Debug("retry attempt failed",
						"attempt", attempt,
						"provider", req.Provider,
						"shape", req.Shape,
						"correlation_id", req.CorrelationID,
						"error", err)
				}
				return err
			})
			if err != nil {
				return nil, err
			}
			return resp, nil
		})
	}
}

// Do calls op until it succeeds, fails with a non-transport error, or the
// attempts run out. Exhaustion wraps both ErrRetriesExhausted and the last
// failure so callers can still classify the cause.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, ctx.Err())
	default:
	}

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := op(ctx, attempt)
		r.stats.totalAttempts.Add(1)

		if err == nil {
			if attempt > 1 {
				r.stats.successfulRetries.Add(1)
				r.logger.Info("request succeeded after retry", "attempt", attempt)
			} else {
				r.stats.successfulFirstAttempts.Add(1)
			}
			return nil
		}

		// The caller's own context ending is never a transport failure, even
		// if the attempt surfaced it as a deadline.
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", err, ctx.Err())
		}

		if !llmerrors.IsTransportFailure(err) {
			r.stats.nonRetryable.Add(1)
			return err
		}

		lastErr = err
		if attempt == r.config.MaxAttempts {
			break
		}

		backoff := r.backoff(attempt, err)
		r.recordBackoffMetrics(backoff)

		r.logger.Debug("retrying after backoff",
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
		}
	}

	r.stats.failedRetries.Add(1)
	return fmt.Errorf("%w after %d attempts: %w",
		llmerrors.ErrRetriesExhausted, r.config.MaxAttempts, lastErr)
}
