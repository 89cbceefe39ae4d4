// Package store persists evaluation reports, API audit rows and lifecycle
// events in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/pkg/events"
)

// EvaluationVersion tags stored reports with the pipeline revision that
// produced them.
const EvaluationVersion = "v1"

// ErrNotFound is returned when no evaluation exists for a call.
var ErrNotFound = errors.New("store: evaluation not found")

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Postgres implements persistence over a pgx pool.
type Postgres struct {
	db DB
}

// NewPostgres wraps pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return &Postgres{db: pool}
}

func newWithDB(db DB) *Postgres {
	if db == nil {
		panic("store: db required")
	}
	return &Postgres{db: db}
}

// Open connects a pool to databaseURL and verifies it answers.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// Ping checks connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

const upsertEvaluationSQL = `
	INSERT INTO call_evaluations (
		call_id, agent_id, correlation_id, overall_score, processing_time_ms,
		evaluation_version, evaluated_at,
		classification_result, script_deviation_result, compliance_result,
		communication_result, deep_dive_result, summary, insights, degraded_stages
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (call_id) DO UPDATE SET
		agent_id = EXCLUDED.agent_id,
		correlation_id = EXCLUDED.correlation_id,
		overall_score = EXCLUDED.overall_score,
		processing_time_ms = EXCLUDED.processing_time_ms,
		evaluation_version = EXCLUDED.evaluation_version,
		evaluated_at = EXCLUDED.evaluated_at,
		classification_result = EXCLUDED.classification_result,
		script_deviation_result = EXCLUDED.script_deviation_result,
		compliance_result = EXCLUDED.compliance_result,
		communication_result = EXCLUDED.communication_result,
		deep_dive_result = EXCLUDED.deep_dive_result,
		summary = EXCLUDED.summary,
		insights = EXCLUDED.insights,
		degraded_stages = EXCLUDED.degraded_stages,
		updated_at = now()
`

// UpsertEvaluation stores res keyed by call id, replacing any earlier report.
func (s *Postgres) UpsertEvaluation(ctx context.Context, res *domain.EvaluationResult) error {
	if res == nil || res.CallID == "" {
		return errors.New("store: evaluation without call id")
	}

	var (
		cols [7][]byte
		err  error
	)
	for i, v := range []any{
		res.Evaluation.Classification,
		res.Evaluation.ScriptDeviation,
		res.Evaluation.Compliance,
		res.Evaluation.Communication,
		res.Summary,
		res.Insights,
		nonNil(res.Degraded),
	} {
		if cols[i], err = json.Marshal(v); err != nil {
			return fmt.Errorf("store: encode evaluation column %d: %w", i, err)
		}
	}
	var deepDive []byte
	if res.Evaluation.DeepDive != nil {
		if deepDive, err = json.Marshal(res.Evaluation.DeepDive); err != nil {
			return fmt.Errorf("store: encode deep dive: %w", err)
		}
	}

	evaluatedAt := res.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx, upsertEvaluationSQL,
		res.CallID, res.AgentID, res.CorrelationID, res.OverallScore, res.ProcessingTime.Milliseconds(),
		EvaluationVersion, evaluatedAt,
		cols[0], cols[1], cols[2], cols[3], deepDive, cols[4], cols[5], cols[6],
	)
	if err != nil {
		return fmt.Errorf("store: upsert evaluation: %w", err)
	}
	return nil
}

const getEvaluationSQL = `
	SELECT agent_id, correlation_id, overall_score, processing_time_ms, evaluated_at,
		classification_result, script_deviation_result, compliance_result,
		communication_result, deep_dive_result, summary, insights, degraded_stages
	FROM call_evaluations
	WHERE call_id = $1
`

// GetEvaluation loads the stored report for callID.
func (s *Postgres) GetEvaluation(ctx context.Context, callID string) (*domain.EvaluationResult, error) {
	res := &domain.EvaluationResult{CallID: callID}
	var (
		processingMS                                 int64
		classification, script, compliance, comm, dd []byte
		summary, insights, degraded                  []byte
	)
	err := s.db.QueryRow(ctx, getEvaluationSQL, callID).Scan(
		&res.AgentID, &res.CorrelationID, &res.OverallScore, &processingMS, &res.EvaluatedAt,
		&classification, &script, &compliance, &comm, &dd, &summary, &insights, &degraded,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get evaluation: %w", err)
	}
	res.ProcessingTime = time.Duration(processingMS) * time.Millisecond

	cols := []struct {
		raw []byte
		dst any
	}{
		{classification, &res.Evaluation.Classification},
		{script, &res.Evaluation.ScriptDeviation},
		{compliance, &res.Evaluation.Compliance},
		{comm, &res.Evaluation.Communication},
		{summary, &res.Summary},
		{insights, &res.Insights},
		{degraded, &res.Degraded},
	}
	for _, c := range cols {
		if err := json.Unmarshal(c.raw, c.dst); err != nil {
			return nil, fmt.Errorf("store: decode evaluation %s: %w", callID, err)
		}
	}
	if len(dd) > 0 {
		res.Evaluation.DeepDive = new(domain.DeepDive)
		if err := json.Unmarshal(dd, res.Evaluation.DeepDive); err != nil {
			return nil, fmt.Errorf("store: decode deep dive %s: %w", callID, err)
		}
	}
	return res, nil
}

// RequestLog is one API audit row.
type RequestLog struct {
	CorrelationID  string
	RequestID      string
	Endpoint       string
	Method         string
	StatusCode     int
	ProcessingTime time.Duration
	ErrorMessage   string
}

const logRequestSQL = `
	INSERT INTO api_logs (
		correlation_id, request_id, endpoint, http_method, http_status_code,
		processing_time_ms, error_message
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// LogRequest appends an audit row.
func (s *Postgres) LogRequest(ctx context.Context, entry RequestLog) error {
	_, err := s.db.Exec(ctx, logRequestSQL,
		entry.CorrelationID, nullable(entry.RequestID), entry.Endpoint, entry.Method, entry.StatusCode,
		entry.ProcessingTime.Milliseconds(), nullable(entry.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("store: log request: %w", err)
	}
	return nil
}

const appendEventSQL = `
	INSERT INTO evaluation_events (
		id, type, source, version, idempotency_key, call_id, correlation_id,
		workflow_id, run_id, payload, occurred_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (idempotency_key) DO NOTHING
`

// Append implements events.EventSink. A duplicate idempotency key is a no-op.
func (s *Postgres) Append(ctx context.Context, env events.Envelope) error {
	_, err := s.db.Exec(ctx, appendEventSQL,
		env.ID, env.Type, env.Source, env.Version, env.IdempotencyKey, env.CallID, env.CorrelationID,
		nullable(env.WorkflowID), nullable(env.RunID), []byte(env.Payload), env.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("store: append event %s: %w", env.Type, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(d []domain.Degradation) []domain.Degradation {
	if d == nil {
		return []domain.Degradation{}
	}
	return d
}
