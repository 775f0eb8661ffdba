package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/ngdi-portal/portal/internal/accounts"
	"github.com/ngdi-portal/portal/internal/auth"
	"github.com/ngdi-portal/portal/internal/config"
	"github.com/ngdi-portal/portal/internal/database"
	"github.com/ngdi-portal/portal/internal/logger"
	"github.com/ngdi-portal/portal/internal/tasks"
	"github.com/ngdi-portal/portal/internal/workers"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	log.Info().Str("version", version).Msg("Starting NGDI Asynq worker")

	if cfg.Redis.Address == "" {
		log.Fatal().Msg("REDIS_ADDRESS is required for the worker")
	}

	db, err := database.Open(cfg.Database.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer database.Close(db)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if secret, err = accounts.LoadOrCreateSecret(db); err != nil {
			log.Fatal().Err(err).Msg("Failed to load JWT secret")
		}
	}
	svc := accounts.NewService(db, auth.NewTokenIssuer(secret, cfg.Auth.SessionTTL), log)

	redis := asynq.RedisClientOpt{Addr: cfg.Redis.Address}

	// Initialize Asynq client (for scheduled enqueues)
	asynqClient := asynq.NewClient(redis)
	defer asynqClient.Close()

	// Initialize Asynq server
	asynqServer := asynq.NewServer(redis, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"default": 3,
			"low":     1,
		},
		Logger: &asynqLogger{log: log},
	})

	// Register task handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypePurgeExpiredSessions, func(ctx context.Context, t *asynq.Task) error {
		return workers.HandlePurgeExpiredSessions(ctx, t, svc, log)
	})

	scheduler, err := workers.NewPurgeScheduler(asynqClient, cfg.Worker.PurgeSchedule, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid SESSION_PURGE_SCHEDULE")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		log.Info().Str("schedule", cfg.Worker.PurgeSchedule).Msg("Starting Asynq worker server...")
		if err := asynqServer.Run(mux); err != nil {
			log.Fatal().Err(err).Msg("Asynq worker server failed")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("Received shutdown signal, shutting down gracefully...")

	cancel()
	asynqServer.Shutdown()

	log.Info().Msg("Worker shutdown complete")
}

// asynqLogger is a wrapper to make zerolog compatible with Asynq's logger interface
type asynqLogger struct {
	log zerolog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.log.Info().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.log.Fatal().Msg(fmt.Sprint(args...))
}
