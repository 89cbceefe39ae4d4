package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-callqa/internal/config"
	"github.com/ahrav/go-callqa/pkg/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type commandContext struct {
	envFiles []string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if err := config.LoadDotEnv(c.envFiles...); err != nil {
			c.configErr = err
			return
		}
		cfg := config.Load()
		if cfg.Version == "" || version != "dev" {
			cfg.Version = version
		}
		logging.New(cfg.LogLevel, cfg.LogFormat).Install()
		c.config = cfg
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "callqa",
		Short:         "Call QA evaluation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringSliceVar(&ctx.envFiles, "env-file", nil, "Environment files to load (default .env)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWorkerCommand(ctx))
	rootCmd.AddCommand(newEvaluateCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	return rootCmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
