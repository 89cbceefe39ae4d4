// Package events provides the event infrastructure used to publish evaluation
// lifecycle events. It defines the Envelope type for wrapping event payloads
// with consistent metadata and the EventSink interface for storage or
// transmission.
package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the evaluation pipeline.
const (
	TypeEvaluationCompleted = "evaluation.completed"
	TypeEvaluationFailed    = "evaluation.failed"
	TypeStageDegraded       = "evaluation.stage_degraded"
)

// EnvelopeVersion is the current envelope schema version.
const EnvelopeVersion = "1.0.0"

// Envelope wraps an event payload with the metadata needed to route,
// deduplicate and correlate it.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event for routing, e.g. "evaluation.completed".
	Type string `json:"type"`

	// Source identifies the emitting component, e.g. "evaluate-activity".
	Source string `json:"source"`

	// Version enables schema evolution of the payload.
	Version string `json:"version"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is derived from the event's identity so retried
	// emissions collapse to one stored event.
	IdempotencyKey string `json:"idempotency_key"`

	// CallID is the evaluated call.
	CallID string `json:"call_id"`

	// CorrelationID ties the event to the evaluation's log lines.
	CorrelationID string `json:"correlation_id"`

	// WorkflowID and RunID identify the Temporal execution, when there is one.
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`

	// Payload contains the type-specific event data as JSON.
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope for payload. The idempotency key covers the
// type, call, correlation id and discriminator, so emitting the same event
// twice for one evaluation yields the same key.
func NewEnvelope(eventType, source, callID, correlationID, discriminator string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:             uuid.NewString(),
		Type:           eventType,
		Source:         source,
		Version:        EnvelopeVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: IdempotencyKey(eventType, callID, correlationID, discriminator),
		CallID:         callID,
		CorrelationID:  correlationID,
		Payload:        raw,
	}, nil
}

// IdempotencyKey returns the hex SHA-256 of the event identity parts.
func IdempotencyKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EventSink emits events to downstream consumers.
type EventSink interface {
	// Append adds an event with best-effort delivery. Implementations treat a
	// duplicate idempotency key as a no-op. Callers must not fail their
	// primary operation because of a sink error.
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event.
type NoOpEventSink struct{}

// Append implements EventSink.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a sink that discards events.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}
