package logging

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const (
	correlationKey ctxKey = iota
	requestKey
)

// CorrelationPrefix starts every generated correlation id.
const CorrelationPrefix = "eval_"

// NewCorrelationID returns a fresh id of the form eval_<12 hex chars>.
func NewCorrelationID() string {
	return CorrelationPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// WithCorrelationID attaches an evaluation correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the id set by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// WithRequestID attaches an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestKey).(string)
	return id
}
