// Package handlers implements the evaluation HTTP API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahrav/go-callqa/internal/http/middleware"
	"github.com/ahrav/go-callqa/pkg/logging"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeEmptyBatch           = "EMPTY_BATCH"
	CodeBatchSizeExceeded    = "BATCH_SIZE_EXCEEDED"
	CodeClassificationFailed = "CLASSIFICATION_FAILED"
	CodePipelineTimeout      = "PIPELINE_TIMEOUT"
	CodeNotReady             = "SERVICE_NOT_READY"
	CodeEvaluationFailed     = "EVALUATION_FAILED"
	CodeNotFound             = "NOT_FOUND"
	CodeSubmitFailed         = "SUBMIT_FAILED"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error         string    `json:"error"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	middleware.NoteError(r.Context(), code+": "+msg)
	writeJSON(w, status, ErrorResponse{
		Error:         code,
		Message:       msg,
		CorrelationID: logging.CorrelationID(r.Context()),
		Timestamp:     time.Now().UTC(),
	})
}
