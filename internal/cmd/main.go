// The relay daemon migrates the schema and runs the outbox worker,
// delivering committed draft events to NATS JetStream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soras/labdraft/internal/outbox"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var cfg *Config
	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		loaded, err := loadConfig(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("load config")
		}
		cfg = loaded
	}

	db, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	if err := runMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	jsCfg := cfg.jetStreamConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		jsCfg.URL = url
	}
	publisher, err := outbox.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create JetStream publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("close publisher")
		}
	}()

	worker := outbox.NewWorker(db, publisher, cfg.workerConfig(), log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start outbox worker")
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	done := make(chan struct{})
	go func() {
		if err := worker.Stop(); err != nil {
			log.Error().Err(err).Msg("stop outbox worker")
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("graceful shutdown complete")
	case <-time.After(10 * time.Second):
		log.Error().Msg("shutdown timed out")
	}
}
