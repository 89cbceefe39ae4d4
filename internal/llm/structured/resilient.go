package structured

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ahrav/go-callqa/internal/domain"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/templates"
)

// ErrFallbackFailed wraps the secondary provider's error after a primary
// failure. It is terminal for the call.
var ErrFallbackFailed = errors.New("secondary provider failed")

// Resilient sends every completion to the primary client and, when the
// primary fails in a way another provider could fix, makes exactly one call
// to the secondary. Retry and circuit breaking live in the clients' handler
// chains.
type Resilient struct {
	primary   Completer
	secondary Completer
	logger    *slog.Logger

	primaryOK   atomic.Int64
	fallbacks   atomic.Int64
	fallbackOK  atomic.Int64
	terminal    atomic.Int64
	notEligible atomic.Int64
}

// NewResilient returns a Resilient. A nil secondary disables fallback.
func NewResilient(primary, secondary Completer) *Resilient {
	return &Resilient{
		primary:   primary,
		secondary: secondary,
		logger:    slog.Default().With("component", "resilient_completion"),
	}
}

// ShouldFallback reports whether a primary failure may be handed to the
// secondary provider: schema violations, exhausted transport retries and an
// open primary breaker qualify. Credential failures and cancellation never
// do.
func ShouldFallback(err error) bool {
	switch llmerrors.KindOf(err) {
	case llmerrors.KindSchema, llmerrors.KindCircuitOpen, llmerrors.KindTransport:
		return true
	default:
		return false
	}
}

// Complete implements Completer.
func (r *Resilient) Complete(ctx context.Context, tmpl *templates.Template, vars map[string]any, out domain.Result) error {
	err := r.primary.Complete(ctx, tmpl, vars, out)
	if err == nil {
		r.primaryOK.Add(1)
		return nil
	}

	if r.secondary == nil || ctx.Err() != nil || !ShouldFallback(err) {
		r.notEligible.Add(1)
		return err
	}

	r.fallbacks.Add(1)
	r.logger.WarnContext(ctx, "primary provider failed, trying secondary",
		"template", tmpl.Name,
		"shape", tmpl.Shape,
		"failure_kind", llmerrors.KindOf(err),
		"error", err)

	secErr := r.secondary.Complete(ctx, tmpl, vars, out)
	if secErr == nil {
		r.fallbackOK.Add(1)
		return nil
	}
	r.terminal.Add(1)
	return fmt.Errorf("%w: %w (primary: %v)", ErrFallbackFailed, secErr, err)
}

// Stats is a snapshot of fallback activity.
type Stats struct {
	PrimarySucceeded  int64 `json:"primary_succeeded"`
	Fallbacks         int64 `json:"fallbacks"`
	FallbackSucceeded int64 `json:"fallback_succeeded"`
	Terminal          int64 `json:"terminal"`
	NotEligible       int64 `json:"not_eligible"`
}

// Stats returns current counters.
func (r *Resilient) Stats() Stats {
	return Stats{
		PrimarySucceeded:  r.primaryOK.Load(),
		Fallbacks:         r.fallbacks.Load(),
		FallbackSucceeded: r.fallbackOK.Load(),
		Terminal:          r.terminal.Load(),
		NotEligible:       r.notEligible.Load(),
	}
}
