package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/container"
	httpserver "github.com/garyjia/taxcredit-docflow/internal/interfaces/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, status poller and retry worker",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting docflow",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("engine", cfg.Engine.Provider))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to start container: %w", err)
	}

	deps := httpserver.ServerDeps{
		Documents:      c.Services().Documents,
		Workflows:      c.Services().Workflows,
		Admin:          c.Services().Admin,
		Metrics:        c.Metrics(),
		MetricsHandler: c.Metrics().Handler(),
		Health:         c,
		Logger:         container.NewServiceLogger(logger.Named("http")),
	}
	// Only the local store serves bytes itself; cloud stores hand out provider URLs
	if local := c.LocalStore(); local != nil {
		deps.Files = local
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, deps)

	serveErr := server.Start(ctx)
	if serveErr != nil {
		logger.Error("HTTP server stopped with error", zap.Error(serveErr))
	}

	logger.Info("Shutting down")
	done := make(chan error, 1)
	go func() { done <- c.Close() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Container shutdown error", zap.Error(err))
		}
	case <-time.After(30 * time.Second):
		logger.Error("Container shutdown timed out")
	}

	logger.Info("Docflow stopped")
	return serveErr
}
