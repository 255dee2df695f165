package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crm-api-gateway/internal/auth"
	"github.com/crm-api-gateway/internal/config"
	"github.com/crm-api-gateway/internal/oauth"
	"github.com/crm-api-gateway/internal/ratelimit"
	"github.com/crm-api-gateway/internal/server"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
	"github.com/crm-api-gateway/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg.LogLevel)

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("ping database")
	}
	cancel()
	defer pool.Close()

	st := store.NewPostgres(pool)

	dispatcher := webhook.NewDispatcher(st, webhook.Config{
		Timeout:     cfg.WebhookTimeout,
		Workers:     cfg.WebhookWorkers,
		QueueSize:   cfg.WebhookQueueSize,
		MaxAttempts: cfg.WebhookMaxAttempts,
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	retrier := webhook.NewRetrier(st, dispatcher, cfg.WebhookRetryInterval, cfg.WebhookMaxAttempts)
	go retrier.Run(bgCtx)

	janitor := service.NewRetentionJanitor(st, st, cfg.UsageRetentionDays, cfg.UsageCleanupInterval)
	go janitor.Run(bgCtx)

	router := server.NewRouter(server.Deps{
		Store:            st,
		Authenticator:    auth.NewAuthenticator(st, cfg.DefaultRateLimitPerMinute, cfg.DefaultRateLimitPerDay),
		Limiter:          ratelimit.New(st, cfg.RateLimitFailOpen),
		Dispatcher:       dispatcher,
		OAuth:            oauth.NewService(st),
		CORSOrigins:      cfg.CORSOrigins,
		BulkAtomic:       cfg.BulkAtomic,
		DefaultPerMinute: cfg.DefaultRateLimitPerMinute,
		DefaultPerDay:    cfg.DefaultRateLimitPerDay,
	})

	srv := server.New(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
