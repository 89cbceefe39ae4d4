// Package router assembles the HTTP API.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ahrav/go-callqa/internal/http/handlers"
	httpmiddleware "github.com/ahrav/go-callqa/internal/http/middleware"
	"github.com/ahrav/go-callqa/pkg/logging"
)

// Config holds router dependencies. Optional handlers are mounted only when
// set.
type Config struct {
	Logger         *logging.Logger
	Evaluations    *handlers.EvaluationHandler
	Health         *handlers.HealthHandler
	MetricsHandler http.Handler
	HTTPObserver   httpmiddleware.HTTPObserver
	Auditor        httpmiddleware.AuditRecorder
	APIKey         string
	// RequestTimeout bounds a whole API request; it must exceed the
	// evaluation pipeline deadline.
	RequestTimeout time.Duration
}

// New creates the chi router with every route configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestContext)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.HTTPObserver))
	r.Use(middleware.Recoverer)

	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Method(http.MethodGet, "/health", cfg.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Evaluations != nil {
		r.Route("/api/v1", func(api chi.Router) {
			api.Use(httpmiddleware.APIKey(cfg.APIKey))
			api.Use(httpmiddleware.Audit(cfg.Auditor))
			if cfg.RequestTimeout > 0 {
				api.Use(middleware.Timeout(cfg.RequestTimeout))
			}

			api.Post("/evaluate-call", cfg.Evaluations.EvaluateCall)
			api.Post("/evaluate-batch", cfg.Evaluations.EvaluateBatch)
			if cfg.Evaluations.CanSubmit() {
				api.Post("/evaluations", cfg.Evaluations.SubmitEvaluation)
			}
			if cfg.Evaluations.CanRead() {
				api.Get("/evaluations/{callID}", cfg.Evaluations.GetEvaluation)
			}
		})
	}

	return r
}
