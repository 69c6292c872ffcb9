// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bashkirian/event-pipeline/internal/config"
	"github.com/bashkirian/event-pipeline/internal/storage"
	"github.com/bashkirian/event-pipeline/pkg/server"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "stats-api").Logger()

	// Загружаем конфигурацию
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := buildStorage(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	srv := server.NewServer(cfg.Server.Port, store, log)

	// Start server
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server shutdown complete")
}

func buildStorage(cfg *config.Config, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		log.Info().Msg("using postgres storage")
		return storage.NewPostgresStorage(cfg.Postgres.DSN)
	case "memory":
		log.Info().Msg("using in-memory storage")
		return storage.NewInMemoryStorage(), nil
	default:
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis storage")
		return storage.NewRedisStorage(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB), nil
	}
}
