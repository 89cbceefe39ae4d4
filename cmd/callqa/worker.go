package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-callqa/internal/activity"
	"github.com/ahrav/go-callqa/internal/worker"
	pkgactivity "github.com/ahrav/go-callqa/pkg/activity"
	"github.com/ahrav/go-callqa/pkg/events"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker for durable evaluations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.TemporalEnabled() {
				return errors.New("TEMPORAL_HOST_PORT is required for the worker")
			}
			if err := cfg.LLM.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(runCtx, cfg, appOptions{withStore: true})
			if err != nil {
				return err
			}
			defer a.close()

			tc, err := worker.Dial(cfg.TemporalHostPort, cfg.TemporalNamespace)
			if err != nil {
				return err
			}
			defer tc.Close()

			var (
				sink   events.EventSink = events.NewNoOpEventSink()
				writer activity.EvaluationWriter
			)
			if a.store != nil {
				sink = a.store
				writer = a.store
			}
			acts := activity.NewActivities(pkgactivity.NewBaseActivities(sink), a.orchestrator, writer)

			w := sdkworker.New(tc, cfg.TemporalTaskQueue, sdkworker.Options{
				MaxConcurrentActivityExecutionSize: cfg.LLM.Concurrency.MaxInFlightCalls,
			})
			worker.RegisterAll(w, acts)

			interrupt := make(chan any)
			go func() {
				<-runCtx.Done()
				close(interrupt)
			}()
			if err := w.Run(interrupt); err != nil {
				return fmt.Errorf("temporal worker: %w", err)
			}
			return nil
		},
	}
}
