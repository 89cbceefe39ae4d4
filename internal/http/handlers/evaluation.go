package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-callqa/internal/domain"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/orchestrator"
	"github.com/ahrav/go-callqa/internal/store"
	"github.com/ahrav/go-callqa/pkg/logging"
)

// DefaultMaxBatchSize bounds /evaluate-batch when no limit is configured.
const DefaultMaxBatchSize = 5

// maxBodyBytes bounds request bodies; transcripts are long but not unbounded.
const maxBodyBytes = 8 << 20

// Evaluator runs one evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, req *domain.EvaluationRequest) (*domain.EvaluationResult, error)
}

// ResultRecorder persists computed reports without blocking the response.
type ResultRecorder interface {
	RecordEvaluation(ctx context.Context, res *domain.EvaluationResult)
}

// EvaluationReader loads stored reports.
type EvaluationReader interface {
	GetEvaluation(ctx context.Context, callID string) (*domain.EvaluationResult, error)
}

// Submitter starts an asynchronous evaluation and returns its execution ids.
type Submitter interface {
	Submit(ctx context.Context, req *domain.EvaluationRequest) (workflowID, runID string, err error)
}

// EvaluateCallResponse is the body of a completed evaluation.
type EvaluateCallResponse struct {
	CallID           string               `json:"call_id"`
	CorrelationID    string               `json:"correlation_id"`
	Timestamp        time.Time            `json:"timestamp"`
	ProcessingTimeMS int64                `json:"processing_time_ms"`
	Evaluation       domain.Evaluation    `json:"evaluation"`
	OverallScore     int                  `json:"overall_score"`
	Summary          domain.Summary       `json:"summary"`
	Insights         domain.Insights      `json:"insights"`
	Degraded         []domain.Degradation `json:"degraded,omitempty"`
}

// SkippedCallResponse is returned for calls too short to evaluate.
type SkippedCallResponse struct {
	CallID           string         `json:"call_id"`
	CorrelationID    string         `json:"correlation_id"`
	Timestamp        time.Time      `json:"timestamp"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	Status           string         `json:"status"`
	Reason           string         `json:"reason"`
	Details          SkippedDetails `json:"details"`
}

// SkippedDetails explains a skip.
type SkippedDetails struct {
	TalkTime        int    `json:"talk_time"`
	MinimumRequired int    `json:"minimum_required"`
	Message         string `json:"message"`
}

// BatchItem is one call's outcome inside a batch.
type BatchItem struct {
	CallID   string         `json:"call_id"`
	Success  bool           `json:"success"`
	Skipped  bool           `json:"skipped,omitempty"`
	Response any            `json:"response,omitempty"`
	Error    *ErrorResponse `json:"error,omitempty"`
}

// BatchSummary counts batch outcomes.
type BatchSummary struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// BatchResponse is the body of /evaluate-batch.
type BatchResponse struct {
	BatchCorrelationID    string       `json:"batch_correlation_id"`
	Timestamp             time.Time    `json:"timestamp"`
	TotalProcessingTimeMS int64        `json:"total_processing_time_ms"`
	Results               []BatchItem  `json:"results"`
	Summary               BatchSummary `json:"summary"`
}

// SubmitResponse acknowledges an asynchronous evaluation.
type SubmitResponse struct {
	CallID        string `json:"call_id"`
	CorrelationID string `json:"correlation_id"`
	WorkflowID    string `json:"workflow_id"`
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
}

// EvaluationHandler serves the evaluation endpoints.
type EvaluationHandler struct {
	evaluator Evaluator
	recorder  ResultRecorder
	reader    EvaluationReader
	submitter Submitter
	maxBatch  int
	logger    *slog.Logger
}

// EvaluationOption configures an EvaluationHandler.
type EvaluationOption func(*EvaluationHandler)

// WithRecorder persists successful reports.
func WithRecorder(r ResultRecorder) EvaluationOption {
	return func(h *EvaluationHandler) { h.recorder = r }
}

// WithReader enables GET /evaluations/{callID}.
func WithReader(r EvaluationReader) EvaluationOption {
	return func(h *EvaluationHandler) { h.reader = r }
}

// WithSubmitter enables asynchronous submission.
func WithSubmitter(s Submitter) EvaluationOption {
	return func(h *EvaluationHandler) { h.submitter = s }
}

// WithMaxBatchSize overrides DefaultMaxBatchSize.
func WithMaxBatchSize(n int) EvaluationOption {
	return func(h *EvaluationHandler) {
		if n > 0 {
			h.maxBatch = n
		}
	}
}

// NewEvaluationHandler returns a handler evaluating through ev.
func NewEvaluationHandler(ev Evaluator, opts ...EvaluationOption) *EvaluationHandler {
	h := &EvaluationHandler{
		evaluator: ev,
		maxBatch:  DefaultMaxBatchSize,
		logger:    slog.Default().With("component", "http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CanRead reports whether stored reports can be served.
func (h *EvaluationHandler) CanRead() bool { return h.reader != nil }

// CanSubmit reports whether asynchronous submission is available.
func (h *EvaluationHandler) CanSubmit() bool { return h.submitter != nil }

// EvaluateCall handles POST /api/v1/evaluate-call.
func (h *EvaluationHandler) EvaluateCall(w http.ResponseWriter, r *http.Request) {
	var req domain.EvaluationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	body, status, errResp := h.evaluateOne(r.Context(), &req)
	if errResp != nil {
		writeError(w, r, status, errResp.Error, errResp.Message)
		return
	}
	writeJSON(w, status, body)
}

// evaluateOne runs or skips one validated request. It returns the success
// body, or the status and error body to send.
func (h *EvaluationHandler) evaluateOne(ctx context.Context, req *domain.EvaluationRequest) (any, int, *ErrorResponse) {
	start := time.Now()
	correlationID := logging.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
		ctx = logging.WithCorrelationID(ctx, correlationID)
	}

	h.logger.InfoContext(ctx, "starting evaluation",
		"call_id", req.CallID,
		"agent_id", req.AgentID,
		"call_context", req.CallContext)

	if skip, talkTime := req.ShouldSkip(); skip {
		h.logger.InfoContext(ctx, "call skipped, talk time below threshold",
			"call_id", req.CallID,
			"talk_time", talkTime,
			"threshold", domain.MinTalkTimeSeconds)
		return SkippedCallResponse{
			CallID:           req.CallID,
			CorrelationID:    correlationID,
			Timestamp:        time.Now().UTC(),
			ProcessingTimeMS: time.Since(start).Milliseconds(),
			Status:           "skipped",
			Reason:           "talk_time_too_short",
			Details: SkippedDetails{
				TalkTime:        talkTime,
				MinimumRequired: domain.MinTalkTimeSeconds,
				Message: fmt.Sprintf("Call was not evaluated because talk_time (%ds) is below minimum threshold of %d seconds",
					talkTime, domain.MinTalkTimeSeconds),
			},
		}, http.StatusOK, nil
	}

	res, err := h.evaluator.Evaluate(ctx, req)
	if err != nil {
		status, code := statusFor(err)
		h.logger.ErrorContext(ctx, "evaluation failed",
			"call_id", req.CallID,
			"status", status,
			"error", err)
		return nil, status, &ErrorResponse{
			Error:         code,
			Message:       err.Error(),
			CorrelationID: correlationID,
			Timestamp:     time.Now().UTC(),
		}
	}

	if h.recorder != nil {
		h.recorder.RecordEvaluation(ctx, res)
	}
	return responseFor(res, time.Since(start)), http.StatusOK, nil
}

func responseFor(res *domain.EvaluationResult, elapsed time.Duration) EvaluateCallResponse {
	ts := res.EvaluatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return EvaluateCallResponse{
		CallID:           res.CallID,
		CorrelationID:    res.CorrelationID,
		Timestamp:        ts,
		ProcessingTimeMS: elapsed.Milliseconds(),
		Evaluation:       res.Evaluation,
		OverallScore:     res.OverallScore,
		Summary:          res.Summary,
		Insights:         res.Insights,
		Degraded:         res.Degraded,
	}
}

// statusFor maps pipeline failures onto HTTP statuses. Only the failures
// that leave no report reach here.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrPipelineTimeout):
		return http.StatusGatewayTimeout, CodePipelineTimeout
	case errors.Is(err, llmerrors.ErrClassificationFailed):
		return http.StatusBadGateway, CodeClassificationFailed
	case errors.Is(err, orchestrator.ErrNotReady):
		return http.StatusServiceUnavailable, CodeNotReady
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	default:
		return http.StatusInternalServerError, CodeEvaluationFailed
	}
}

// EvaluateBatch handles POST /api/v1/evaluate-batch. Calls are evaluated
// concurrently and independently; one call's failure never fails another.
func (h *EvaluationHandler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	batchID := "batch_" + strings.TrimPrefix(logging.NewCorrelationID(), logging.CorrelationPrefix)

	var calls []json.RawMessage
	if err := decodeBody(w, r, &calls); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	switch {
	case len(calls) == 0:
		writeError(w, r, http.StatusBadRequest, CodeEmptyBatch, "Batch request cannot be empty")
		return
	case len(calls) > h.maxBatch:
		writeError(w, r, http.StatusBadRequest, CodeBatchSizeExceeded,
			fmt.Sprintf("Batch size %d exceeds maximum allowed %d", len(calls), h.maxBatch))
		return
	}

	h.logger.InfoContext(r.Context(), "starting batch evaluation",
		"batch_correlation_id", batchID,
		"call_count", len(calls))

	results := make([]BatchItem, len(calls))
	var g errgroup.Group
	for i, raw := range calls {
		g.Go(func() error {
			results[i] = h.batchItem(r.Context(), batchID, raw)
			return nil
		})
	}
	_ = g.Wait()

	summary := BatchSummary{Total: len(results)}
	for _, it := range results {
		if it.Success {
			summary.Successful++
		}
	}
	summary.Failed = summary.Total - summary.Successful
	summary.SuccessRate = float64(summary.Successful) / float64(summary.Total)

	elapsed := time.Since(start)
	h.logger.InfoContext(r.Context(), "batch evaluation completed",
		"batch_correlation_id", batchID,
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"total_processing_time_ms", elapsed.Milliseconds())

	writeJSON(w, http.StatusOK, BatchResponse{
		BatchCorrelationID:    batchID,
		Timestamp:             time.Now().UTC(),
		TotalProcessingTimeMS: elapsed.Milliseconds(),
		Results:               results,
		Summary:               summary,
	})
}

func (h *EvaluationHandler) batchItem(parent context.Context, batchID string, raw json.RawMessage) BatchItem {
	ctx := logging.WithCorrelationID(parent, logging.NewCorrelationID())
	fail := func(callID, code, msg string) BatchItem {
		return BatchItem{CallID: callID, Error: &ErrorResponse{
			Error:         code,
			Message:       msg,
			CorrelationID: logging.CorrelationID(ctx),
			Timestamp:     time.Now().UTC(),
		}}
	}

	var req domain.EvaluationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail("", CodeInvalidRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return fail(req.CallID, CodeInvalidRequest, err.Error())
	}

	h.logger.DebugContext(ctx, "evaluating call in batch", "call_id", req.CallID, "batch_correlation_id", batchID)
	body, _, errResp := h.evaluateOne(ctx, &req)
	if errResp != nil {
		return BatchItem{CallID: req.CallID, Error: errResp}
	}
	_, skipped := body.(SkippedCallResponse)
	return BatchItem{CallID: req.CallID, Success: true, Skipped: skipped, Response: body}
}

// GetEvaluation handles GET /api/v1/evaluations/{callID}.
func (h *EvaluationHandler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	res, err := h.reader.GetEvaluation(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, CodeNotFound, fmt.Sprintf("no evaluation for call %q", callID))
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "loading evaluation failed", "call_id", callID, "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeEvaluationFailed, "failed to load evaluation")
		return
	}
	writeJSON(w, http.StatusOK, responseFor(res, res.ProcessingTime))
}

// SubmitEvaluation handles POST /api/v1/evaluations by starting a durable
// evaluation and answering 202 with its ids.
func (h *EvaluationHandler) SubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	var req domain.EvaluationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	workflowID, runID, err := h.submitter.Submit(r.Context(), &req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "submitting evaluation failed", "call_id", req.CallID, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, CodeSubmitFailed, "failed to submit evaluation")
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		CallID:        req.CallID,
		CorrelationID: logging.CorrelationID(r.Context()),
		WorkflowID:    workflowID,
		RunID:         runID,
		Status:        "accepted",
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}
