package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/app"
	"github.com/foxzi/hookdesk/internal/config"
	"github.com/foxzi/hookdesk/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and admin API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	application, err := app.New(ctx, cfg, version, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return err
	}

	return application.Run(ctx)
}
