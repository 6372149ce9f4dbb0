package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miradorstack/agentic-reviewer/internal/app"
	"github.com/miradorstack/agentic-reviewer/internal/config"
	"github.com/miradorstack/agentic-reviewer/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting agentic-reviewer",
		slog.String("grpc", cfg.Server.Address),
		slog.String("http", cfg.Server.HTTPAddress),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reviewer, err := app.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to assemble reviewer", slog.Any("error", err))
		os.Exit(1)
	}

	exitCode := 0
	if err := reviewer.Serve(ctx); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		exitCode = 1
	}
	logger.Info("shutdown complete, releasing resources")

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := reviewer.Close(closeCtx); err != nil {
		logger.Warn("close", slog.Any("error", err))
	}
	cancel()

	logger.Info("agentic-reviewer stopped")
	os.Exit(exitCode)
}
