// Package cmd defines the scholar-badge command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-badge/internal/app"
	"github.com/JakeFAU/scholar-badge/internal/config"
	"github.com/JakeFAU/scholar-badge/internal/logging"
)

// newApp is the service factory. It's a variable so tests can swap it.
var newApp = app.New

// newRootCmd creates and configures the root command. The root command is the
// whole program: it takes no arguments and performs one update.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "scholar-badge",
		Short: "Refresh a Google Scholar citation badge.",
		Long: `scholar-badge fetches the citation total from the Google Scholar profile named
by SCHOLAR_ID and writes it to a shields.io endpoint document (data.json by
default). A failed fetch still writes the document, with "error" as the message.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional config file (yaml, json or toml)")
	return cmd
}

// run loads configuration, builds services and performs one update. A missing
// SCHOLAR_ID is reported and ends the run without writing anything; only
// failures to write the document are returned.
func run(ctx context.Context, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	id, err := cfg.RequireScholarID()
	if errors.Is(err, config.ErrMissingScholarID) {
		logger.Error("missing scholar id; nothing written", zap.String("env", config.ScholarIDEnv))
		return nil
	}
	if err != nil {
		return err
	}

	services, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer services.Close()

	logger.Info("starting badge update", zap.String("scholar_id", string(id)))
	if _, err := services.Updater.Run(ctx, id); err != nil {
		logger.Error("badge update failed", zap.Error(err))
		return err
	}
	return nil
}

// Execute is the main entry point. It exits non-zero only when the badge
// document could not be produced.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scholar-badge: %v\n", err)
		stop()
		os.Exit(1)
	}
}
