package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"msgcenter/internal/app"
	"msgcenter/internal/config"
	"msgcenter/internal/logging"
	"msgcenter/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("service", "worker").Logger()

	if cfg.StorageBackend != config.BackendRedis {
		logger.Fatal().Str("storage", cfg.StorageBackend).Msg("worker requires STORAGE_BACKEND=redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	defer a.Close()

	scanner := worker.NewScanner(a.Storage, worker.NewQueueSink(a.Queue), cfg.ScanInterval, logger)
	scanner.Start(ctx)
	defer scanner.Stop()

	processor := worker.NewProcessor(a.Scheduler, a.Queue, cfg.Workers, logger)
	if err := processor.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start processor")
	}

	logger.Info().Int("workers", cfg.Workers).Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("shutting down worker")
}
