// Package circuitbreaker keeps one breaker per outbound dependency. After a
// run of consecutive transport failures the breaker opens and calls fail fast
// without touching the network; once the open timeout elapses a single probe
// is admitted and its outcome decides whether the breaker closes or reopens.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
)

// ErrInvalidConfig is returned by New for non-positive thresholds or timeouts.
var ErrInvalidConfig = errors.New("invalid circuit breaker config")

// CircuitState represents the current state of a circuit breaker.
type CircuitState int32

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen admits a single probe.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls a single breaker.
type Config struct {
	FailureThreshold int
	OpenTimeout      time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	// IsFailure decides which errors count against the dependency; nil means
	// DefaultIsFailure.
	IsFailure func(error) bool
	// OnStateChange, when set, is called after every transition with the
	// breaker mutex released.
	OnStateChange func(dependency string, from, to CircuitState)
}

// DefaultIsFailure counts transport failures only. A schema violation or an
// auth rejection proves the dependency answered, and a cancelled caller says
// nothing about the dependency at all.
func DefaultIsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return llmerrors.IsTransportFailure(err) || errors.Is(err, llmerrors.ErrRetriesExhausted)
}

// Breaker is a mutex-guarded three-state circuit breaker for one dependency.
type Breaker struct {
	dependency string
	cfg        Config
	logger     *slog.Logger

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	metrics circuitBreakerMetrics
}

// New creates a closed breaker for dependency.
func New(dependency string, cfg Config) (*Breaker, error) {
	if cfg.FailureThreshold <= 0 {
		return nil, fmt.Errorf("%w: failure threshold %d", ErrInvalidConfig, cfg.FailureThreshold)
	}
	if cfg.OpenTimeout <= 0 {
		return nil, fmt.Errorf("%w: open timeout %v", ErrInvalidConfig, cfg.OpenTimeout)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	return &Breaker{
		dependency: dependency,
		cfg:        cfg,
		logger:     slog.Default().With("component", "circuit_breaker", "dependency", dependency),
	}, nil
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Dependency          string       `json:"dependency"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitzero"`
}

// Snapshot returns the breaker's current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Dependency:          b.dependency,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the breaker admits the call and records its outcome.
// A rejected call returns *llmerrors.CircuitBreakerError without running fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	b.record(outcome(ctx, callErr), probe)
	return callErr
}

// outcome treats any failure that coincides with the caller's context ending
// as a cancellation, so pipeline deadlines never count against a dependency.
func outcome(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return context.Canceled
	}
	return err
}

// allow admits or rejects one call. probe reports whether the admitted call
// is the half-open probe.
func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	var transition func()
	defer func() {
		b.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	switch b.state {
	case StateClosed:
		b.metrics.requestsAllowed.Add(1)
		return false, nil

	case StateOpen:
		resetAt := b.openedAt.Add(b.cfg.OpenTimeout)
		if b.cfg.Now().Before(resetAt) {
			b.metrics.requestsRejected.Add(1)
			return false, &llmerrors.CircuitBreakerError{
				Dependency: b.dependency,
				State:      StateOpen.String(),
				ResetAt:    resetAt.Unix(),
			}
		}
		transition = b.transitionLocked(StateHalfOpen)
		b.probeInFlight = true
		b.metrics.probeAttempts.Add(1)
		b.metrics.requestsAllowed.Add(1)
		return true, nil

	default: // StateHalfOpen
		if b.probeInFlight {
			b.metrics.requestsRejected.Add(1)
			return false, &llmerrors.CircuitBreakerError{
				Dependency: b.dependency,
				State:      StateHalfOpen.String(),
				ResetAt:    b.openedAt.Add(b.cfg.OpenTimeout).Unix(),
			}
		}
		b.probeInFlight = true
		b.metrics.probeAttempts.Add(1)
		b.metrics.requestsAllowed.Add(1)
		return true, nil
	}
}

// record applies the call outcome to the state machine.
func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	var transition func()
	defer func() {
		b.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	if probe {
		b.probeInFlight = false
	}

	failed := b.cfg.IsFailure(err)
	switch {
	case err == nil || (!failed && !errors.Is(err, context.Canceled)):
		// The dependency answered.
		if probe || b.state == StateHalfOpen {
			b.metrics.probeSuccesses.Add(1)
			transition = b.transitionLocked(StateClosed)
		}
		b.consecutiveFailures = 0

	case !failed:
		// Cancelled by the caller: neutral. A cancelled probe frees the slot
		// and leaves the breaker half-open for the next caller.

	default:
		b.consecutiveFailures++
		switch b.state {
		case StateHalfOpen:
			transition = b.transitionLocked(StateOpen)
		case StateClosed:
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				transition = b.transitionLocked(StateOpen)
			}
		case StateOpen:
			// A call admitted before the breaker opened finished late.
		}
	}
}

// transitionLocked moves to state and returns the notification to run once
// the mutex is released.
func (b *Breaker) transitionLocked(to CircuitState) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.cfg.Now()
		b.probeInFlight = false
	case StateClosed:
		b.consecutiveFailures = 0
		b.openedAt = time.Time{}
	case StateHalfOpen:
	}
	b.metrics.stateTransitions.Add(1)

	return func() {
		b.logger.Info("circuit breaker state transition", "from", from.String(), "to", to.String())
		if b.cfg.OnStateChange != nil {
			b.cfg.OnStateChange(b.dependency, from, to)
		}
	}
}
