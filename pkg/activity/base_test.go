package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-callqa/pkg/events"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	appended []events.Envelope
	attempts int
}

func (s *flakySink) Append(_ context.Context, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.appended = append(s.appended, env)
	return nil
}

func envelope(t *testing.T) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(events.TypeEvaluationCompleted, "test", "call-1", "eval_0123456789ab", "wf-1",
		map[string]int{"overall_score": 96})
	require.NoError(t, err)
	return env
}

func TestEmitEventSafeRetriesOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sink := &flakySink{failures: 1}
		base := NewBaseActivities(sink)

		base.EmitEventSafe(context.Background(), envelope(t), "evaluation completed")

		assert.Equal(t, 2, sink.attempts)
		require.Len(t, sink.appended, 1)
		assert.Equal(t, events.TypeEvaluationCompleted, sink.appended[0].Type)
	})
}

func TestEmitEventSafeGivesUp(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sink := &flakySink{failures: 5}
		base := NewBaseActivities(sink)

		base.EmitEventSafe(context.Background(), envelope(t), "evaluation completed")

		assert.Equal(t, emitAttempts, sink.attempts)
		assert.Empty(t, sink.appended)
	})
}

func TestEmitEventSafeStopsOnCancel(t *testing.T) {
	sink := &flakySink{failures: 5}
	base := NewBaseActivities(sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	base.EmitEventSafe(ctx, envelope(t), "evaluation completed")
	assert.Equal(t, 1, sink.attempts)
}

func TestEmitEventSafeWithoutSink(t *testing.T) {
	base := NewBaseActivities(nil)
	assert.NotPanics(t, func() {
		base.EmitEventSafe(context.Background(), envelope(t), "evaluation completed")
	})
}

func TestGetWorkflowContextOutsideActivity(t *testing.T) {
	base := NewBaseActivities(nil)
	wf := base.GetWorkflowContext(context.Background())
	assert.Equal(t, "local", wf.WorkflowID)
	assert.Equal(t, int32(1), wf.Attempt)
	assert.NotEmpty(t, wf.RunID)
}
