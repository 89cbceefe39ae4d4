package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/pkg/events"
)

func sampleResult() *domain.EvaluationResult {
	return &domain.EvaluationResult{
		CallID:        "call-1",
		AgentID:       "agent-7",
		CorrelationID: "eval_0123456789ab",
		Evaluation: domain.Evaluation{
			Classification: domain.Classification{
				SectionsAttempted: []int{1, 2, 3},
				CallOutcome:       domain.OutcomeCompleted,
			},
			Compliance: domain.Compliance{
				Items:   []domain.ComplianceItem{{Name: "Recorded line", Status: domain.ComplianceNoInfraction}},
				Summary: domain.ComplianceSummary{NoInfraction: []string{"Recorded line"}},
			},
		},
		OverallScore:   96,
		Summary:        domain.Summary{Strengths: []string{"Rapport"}, CriticalIssues: []string{}},
		ProcessingTime: 1500 * time.Millisecond,
		EvaluatedAt:    time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
	}
}

func newMockStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newWithDB(mock), mock
}

func TestUpsertEvaluation(t *testing.T) {
	s, mock := newMockStore(t)
	res := sampleResult()

	mock.ExpectExec("INSERT INTO call_evaluations").
		WithArgs(
			"call-1", "agent-7", "eval_0123456789ab", 96, int64(1500), EvaluationVersion, res.EvaluatedAt,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			[]byte(nil), pgxmock.AnyArg(), pgxmock.AnyArg(), []byte("[]"),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertEvaluation(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEvaluationError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO call_evaluations").WillReturnError(errors.New("connection reset"))

	err := s.UpsertEvaluation(context.Background(), sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store: upsert evaluation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEvaluationRequiresCallID(t *testing.T) {
	s, mock := newMockStore(t)

	assert.Error(t, s.UpsertEvaluation(context.Background(), &domain.EvaluationResult{}))
	assert.Error(t, s.UpsertEvaluation(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEvaluation(t *testing.T) {
	s, mock := newMockStore(t)
	want := sampleResult()
	want.Evaluation.DeepDive = &domain.DeepDive{RootCause: "rushed close", CustomerImpact: domain.SeverityLow}
	want.Degraded = []domain.Degradation{{Stage: domain.StageCommunication, Kind: "StageDegraded", Reason: "TransportFailure: timeout"}}

	enc := func(v any) []byte {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		return raw
	}
	rows := pgxmock.NewRows([]string{
		"agent_id", "correlation_id", "overall_score", "processing_time_ms", "evaluated_at",
		"classification_result", "script_deviation_result", "compliance_result",
		"communication_result", "deep_dive_result", "summary", "insights", "degraded_stages",
	}).AddRow(
		want.AgentID, want.CorrelationID, want.OverallScore, int64(1500), want.EvaluatedAt,
		enc(want.Evaluation.Classification), enc(want.Evaluation.ScriptDeviation), enc(want.Evaluation.Compliance),
		enc(want.Evaluation.Communication), enc(want.Evaluation.DeepDive), enc(want.Summary), enc(want.Insights), enc(want.Degraded),
	)
	mock.ExpectQuery("SELECT agent_id").WithArgs("call-1").WillReturnRows(rows)

	got, err := s.GetEvaluation(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEvaluationNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT agent_id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetEvaluation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogRequest(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO api_logs").
		WithArgs("eval_1", pgxmock.AnyArg(), "/api/v1/evaluate-call", "POST", 200, int64(42), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.LogRequest(context.Background(), RequestLog{
		CorrelationID:  "eval_1",
		Endpoint:       "/api/v1/evaluate-call",
		Method:         "POST",
		StatusCode:     200,
		ProcessingTime: 42 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventIsIdempotent(t *testing.T) {
	s, mock := newMockStore(t)

	env, err := events.NewEnvelope(events.TypeEvaluationCompleted, "test", "call-1", "eval_1", "", map[string]int{"overall_score": 96})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO evaluation_events").
		WithArgs(env.ID, env.Type, env.Source, env.Version, env.IdempotencyKey, "call-1", "eval_1",
			pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(env.Payload), env.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO evaluation_events").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, s.Append(context.Background(), env))
	require.NoError(t, s.Append(context.Background(), env))
	assert.NoError(t, mock.ExpectationsWereMet())

	var _ events.EventSink = s
}

func TestPing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	require.NoError(t, s.Ping(context.Background()))
	assert.Error(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFiles()
	require.NoError(t, err)
	assert.Contains(t, entries, "000001_create_call_evaluations.up.sql")
	assert.Contains(t, entries, "000003_create_evaluation_events.down.sql")
}
