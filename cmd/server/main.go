package main

import (
	"fmt"
	"os"

	"github.com/hibiken/asynq"

	"github.com/ngdi-portal/portal/internal/config"
	"github.com/ngdi-portal/portal/internal/logger"
	"github.com/ngdi-portal/portal/internal/server"
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

	var opts []server.Option
	if cfg.Redis.Address != "" {
		// background work goes through the queue; without Redis it runs inline
		opts = append(opts, server.WithEnqueuer(asynq.NewClient(asynq.RedisClientOpt{
			Addr: cfg.Redis.Address,
		})))
	}

	// Create server
	srv, err := server.New(cfg, log, version, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	log.Info().Str("version", version).Str("environment", cfg.Environment).Msg("Starting NGDI portal...")

	// Start HTTP server (this blocks)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
}
