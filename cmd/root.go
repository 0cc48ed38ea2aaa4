package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/app"
	"github.com/JakeFAU/practice-vendor-crawler/internal/config"
	"github.com/JakeFAU/practice-vendor-crawler/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what PersistentPreRunE resolves for subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// Runner is the part of the application a command drives. It lets tests
// substitute a fake for the real crawl pipeline.
type Runner interface {
	Run(ctx context.Context) (app.Summary, error)
	Close()
}

// buildApp is the application factory. It's a variable so tests can
// replace it.
var buildApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates the root command with its own Viper instance so flag
// bindings never leak between invocations.
func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "vendorcrawl",
		Short: "Profiles medical practice websites for the software vendors they use.",
		Long: `vendorcrawl reads a roster of practices, visits each practice website
politely, and records which scheduling, booking, payment, intake form and
phone vendors the site reveals.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadViper(v, cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				File:        cfg.Logging.File,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e.logger != nil {
				// Sync on a console writer fails with EINVAL; nothing to do about it.
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-file", "", "also write logs to this file")
	_ = v.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.file", cmd.PersistentFlags().Lookup("log-file"))

	cmd.AddCommand(newCrawlCmd(v))
	cmd.AddCommand(newSignaturesCmd(v))
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
