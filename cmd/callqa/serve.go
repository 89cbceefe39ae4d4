package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-callqa/internal/api/router"
	"github.com/ahrav/go-callqa/internal/http/handlers"
	"github.com/ahrav/go-callqa/internal/worker"
	"github.com/ahrav/go-callqa/pkg/logging"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(runCtx, cfg, appOptions{withStore: true})
			if err != nil {
				return err
			}
			defer a.close()

			evalOpts := []handlers.EvaluationOption{
				handlers.WithRecorder(a.recorder),
				handlers.WithMaxBatchSize(cfg.MaxBatchSize),
			}
			if a.store != nil {
				evalOpts = append(evalOpts, handlers.WithReader(a.store))
			}
			if cfg.TemporalEnabled() {
				tc, err := worker.Dial(cfg.TemporalHostPort, cfg.TemporalNamespace)
				if err != nil {
					return err
				}
				defer tc.Close()
				evalOpts = append(evalOpts, handlers.WithSubmitter(worker.NewSubmitter(tc, cfg.TemporalTaskQueue)))
			}

			var pinger handlers.Pinger
			if a.store != nil {
				pinger = a.store
			}
			rcfg := &router.Config{
				Logger:         logging.New(cfg.LogLevel, cfg.LogFormat),
				Evaluations:    handlers.NewEvaluationHandler(a.orchestrator, evalOpts...),
				Health:         handlers.NewHealthHandler(pinger, a.orchestrator.Ready, cfg.Version, cfg.Env),
				Auditor:        a.recorder,
				APIKey:         cfg.InternalAPIKey,
				RequestTimeout: cfg.RequestTimeout,
			}
			if a.metrics != nil {
				rcfg.MetricsHandler = promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{})
				rcfg.HTTPObserver = a.metrics
			}

			srv := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           router.New(rcfg),
				ReadHeaderTimeout: readHeaderTimeout,
			}
			return runServer(runCtx, srv)
		},
	}
}

// runServer serves until ctx is cancelled, then drains in-flight requests.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
