package middleware

import (
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ahrav/go-callqa/pkg/logging"
)

// Header names for request and evaluation correlation.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// RequestContext puts the request id and an evaluation correlation id on the
// request context and echoes both as response headers. It expects chi's
// RequestID middleware to have run first. A caller-supplied correlation id
// is kept only when it carries the eval_ prefix.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		reqID := chimw.GetReqID(ctx)
		if reqID == "" {
			reqID = r.Header.Get(HeaderRequestID)
		}
		correlationID := strings.TrimSpace(r.Header.Get(HeaderCorrelationID))
		if !strings.HasPrefix(correlationID, logging.CorrelationPrefix) {
			correlationID = logging.NewCorrelationID()
		}

		ctx = logging.WithRequestID(ctx, reqID)
		ctx = logging.WithCorrelationID(ctx, correlationID)
		if reqID != "" {
			w.Header().Set(HeaderRequestID, reqID)
		}
		w.Header().Set(HeaderCorrelationID, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
