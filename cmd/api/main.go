package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"msgcenter/internal/app"
	"msgcenter/internal/config"
	"msgcenter/internal/handlers"
	"msgcenter/internal/logging"
	"msgcenter/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("service", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	defer a.Close()

	// Without a broker there is no worker process, so due schedules are
	// fired from here.
	if a.Queue == nil {
		scanner := worker.NewScanner(a.Storage, worker.NewDirectSink(a.Scheduler, logger), cfg.ScanInterval, logger)
		scanner.Start(ctx)
		defer scanner.Stop()
	}

	h := handlers.New(handlers.Deps{
		Messaging:   a.Messaging,
		Templates:   a.Templates,
		Records:     a.Records,
		Users:       a.Users,
		Scheduler:   a.Scheduler,
		MaxPageSize: cfg.MaxPageSize,
		Health:      a.Health,
		Log:         logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("storage", cfg.StorageBackend).
			Str("delivery", cfg.DeliveryMode).
			Msg("API server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
