package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ahrav/go-callqa/internal/store"
	"github.com/ahrav/go-callqa/pkg/logging"
)

// AuditRecorder accepts API audit rows.
type AuditRecorder interface {
	RecordRequest(ctx context.Context, entry store.RequestLog)
}

type auditNoteKey struct{}

type auditNote struct{ msg string }

// NoteError attaches an error message to the audit row of the current
// request. It is a no-op outside the Audit middleware.
func NoteError(ctx context.Context, msg string) {
	if n, ok := ctx.Value(auditNoteKey{}).(*auditNote); ok {
		n.msg = msg
	}
}

// Audit writes one audit row per request through rec. The write happens in
// the background and never affects the response.
func Audit(rec AuditRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rec == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			note := &auditNote{}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := context.WithValue(r.Context(), auditNoteKey{}, note)

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			rec.RecordRequest(ctx, store.RequestLog{
				CorrelationID:  logging.CorrelationID(ctx),
				RequestID:      logging.RequestID(ctx),
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				StatusCode:     status,
				ProcessingTime: time.Since(start),
				ErrorMessage:   note.msg,
			})
		})
	}
}
