package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-callqa/internal/domain"
)

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var (
		file         string
		templatesDir string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one call request from a JSON file and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// Local templates stand in for the registry.
			if templatesDir != "" && cfg.LLM.Registry.BaseURL == "" {
				cfg.LLM.Registry.BaseURL = "file://" + templatesDir
			}
			if err := cfg.LLM.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			var req domain.EvaluationRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("decode request: %w", err)
			}
			if err := req.Validate(); err != nil {
				return err
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			if skip, talkTime := req.ShouldSkip(); skip {
				return out.Encode(map[string]any{
					"call_id":   req.CallID,
					"status":    "skipped",
					"reason":    "talk_time_too_short",
					"talk_time": talkTime,
				})
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(runCtx, cfg, appOptions{templatesDir: templatesDir})
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.orchestrator.Evaluate(runCtx, &req)
			if err != nil {
				return err
			}
			return out.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to an evaluation request JSON file")
	cmd.Flags().StringVar(&templatesDir, "templates", "", "Directory of <name>.json templates to use instead of the registry")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
