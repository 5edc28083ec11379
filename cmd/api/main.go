package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ingest/internal/blob"
	"ingest/internal/config"
	"ingest/internal/controller"
	"ingest/internal/database"
	"ingest/internal/pipeline"
	"ingest/internal/queue"
	"ingest/internal/server"
	"ingest/internal/ws"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Set up logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	configPath := "config/config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	// Durable record keeper
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	// Temporary blob store
	blobs, err := newBlobStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob store")
	}

	// Queue transport
	rabbit, err := queue.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}

	// Progress fanout
	hub := ws.NewHub()
	go hub.Run()

	// Processing pipeline and job queue
	coordinator := pipeline.NewCoordinator(db, blobs, hub, cfg.Ingest)
	jobs := queue.New(db, rabbit, blobs, cfg.RabbitMQ, cfg.Ingest, coordinator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobs.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job processing")
	}

	sc := controller.NewServerController(db, blobs, rabbit)
	tc := controller.NewTaskController(db, blobs, jobs)

	httpServer := server.New(*cfg, sc, tc, hub)

	go func() {
		log.Info().Int("port", cfg.Port).Str("app", cfg.AppName).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	cancel()
	jobs.Stop()

	if err := rabbit.Close(); err != nil {
		log.Error().Err(err).Msg("RabbitMQ close error")
	}
	if err := blobs.Close(); err != nil {
		log.Error().Err(err).Msg("Blob store close error")
	}
	if err := db.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("MongoDB disconnect error")
	}

	log.Info().Msg("Shutdown complete")
}

// newBlobStore selects the configured blob store driver
func newBlobStore(cfg *config.Config) (blob.Store, error) {
	ttl := time.Duration(cfg.Storage.TTLSecs) * time.Second

	switch cfg.Storage.Driver {
	case "s3":
		return blob.NewS3Store(cfg.S3)
	default:
		return blob.NewRedisStore(cfg.Redis, ttl)
	}
}
