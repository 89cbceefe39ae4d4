// Package ratelimit bounds outbound model calls. A weighted semaphore caps
// how many calls are in flight across every request in the process; an
// optional token bucket additionally paces how fast calls start. Callers
// beyond the cap queue in arrival order until a slot frees or their context
// ends.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

// ErrInvalidCapacity is returned for a non-positive in-flight cap.
var ErrInvalidCapacity = errors.New("max in-flight calls must be greater than 0")

// Limiter is the process-wide gate in front of the model providers.
type Limiter struct {
	capacity int64
	sem      *semaphore.Weighted
	pace     *rate.Limiter // nil when pacing is disabled
	logger   *slog.Logger

	inFlight atomic.Int64
	acquired atomic.Int64
	waited   atomic.Int64
	rejected atomic.Int64
	peak     atomic.Int64
}

// New creates a Limiter from cfg.
func New(cfg configuration.ConcurrencyConfig) (*Limiter, error) {
	if cfg.MaxInFlightCalls <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidCapacity, cfg.MaxInFlightCalls)
	}

	l := &Limiter{
		capacity: int64(cfg.MaxInFlightCalls),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlightCalls)),
		logger:   slog.Default().With("component", "ratelimit"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.MaxInFlightCalls
		}
		l.pace = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return l, nil
}

// Acquire blocks until a slot is free and the pacer admits the call. The
// returned release must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if !l.sem.TryAcquire(1) {
		l.waited.Add(1)
		start := time.Now()
		if err := l.sem.Acquire(ctx, 1); err != nil {
			l.rejected.Add(1)
			return nil, fmt.Errorf("waiting for model call slot: %w", err)
		}
		l.logger.Debug("model call slot acquired after wait", "waited", time.Since(start))
	}

	if l.pace != nil {
		if err := l.pace.Wait(ctx); err != nil {
			l.sem.Release(1)
			l.rejected.Add(1)
			return nil, fmt.Errorf("waiting for model call pace: %w", err)
		}
	}

	l.acquired.Add(1)
	n := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			l.inFlight.Add(-1)
			l.sem.Release(1)
		}
	}, nil
}

// Middleware holds a slot for the duration of one network attempt. Placed
// inside the retry middleware, backoff sleeps never occupy a slot.
func (l *Limiter) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			release, err := l.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			defer release()
			return next.Handle(ctx, req)
		})
	}
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	Capacity     int64 `json:"capacity"`
	InFlight     int64 `json:"in_flight"`
	PeakInFlight int64 `json:"peak_in_flight"`
	Acquired     int64 `json:"acquired"`
	Waited       int64 `json:"waited"`
	Rejected     int64 `json:"rejected"`
	Paced        bool  `json:"paced"`
}

// Stats returns current counters.
func (l *Limiter) Stats() Stats {
	return Stats{
		Capacity:     l.capacity,
		InFlight:     l.inFlight.Load(),
		PeakInFlight: l.peak.Load(),
		Acquired:     l.acquired.Load(),
		Waited:       l.waited.Load(),
		Rejected:     l.rejected.Load(),
		Paced:        l.pace != nil,
	}
}
