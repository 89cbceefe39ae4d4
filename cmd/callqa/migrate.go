package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-callqa/internal/store"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}
