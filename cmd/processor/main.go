// cmd/processor/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bashkirian/event-pipeline/internal/backoff"
	"github.com/bashkirian/event-pipeline/internal/config"
	"github.com/bashkirian/event-pipeline/internal/metrics"
	"github.com/bashkirian/event-pipeline/internal/processor"
	"github.com/bashkirian/event-pipeline/internal/queue"
	"github.com/bashkirian/event-pipeline/internal/storage"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "processor").Logger()

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := queue.NewSQSGateway(ctx, queue.SQSConfig{
		QueueName:         cfg.Queue.Name,
		DeadLetterName:    cfg.Queue.DeadLetterName,
		Region:            cfg.Queue.Region,
		Endpoint:          cfg.Queue.Endpoint,
		AccessKey:         cfg.Queue.AccessKey,
		SecretKey:         cfg.Queue.SecretKey,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout(),
		MaxReceiveCount:   cfg.Queue.MaxReceiveCount,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize queue gateway")
	}
	defer gateway.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	proc := processor.New(gateway, store, processor.Config{
		BatchSize:         cfg.Queue.BatchSize,
		WaitTime:          cfg.Queue.WaitTime(),
		VisibilityTimeout: cfg.Queue.VisibilityTimeout(),
		MaxReceiveCount:   cfg.Queue.MaxReceiveCount,
		ConnectRetries:    cfg.Processor.ConnectRetries,
		IdleSleep:         cfg.Processor.IdleSleep,
		Backoff: backoff.Policy{
			Base: cfg.Processor.BackoffBase,
			Max:  cfg.Processor.BackoffMax,
		},
	}, m, log)

	// Служебный HTTP: здоровье обработчика и метрики
	health := healthServer(cfg.Processor.HealthPort, proc, store, registry)
	go func() {
		if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	log.Info().
		Str("queue", cfg.Queue.Name).
		Str("dlq", cfg.Queue.DeadLetterName).
		Int("visibility_timeout_seconds", cfg.Queue.VisibilityTimeoutSeconds).
		Int("max_receive_count", cfg.Queue.MaxReceiveCount).
		Msg("starting message processor")

	err = proc.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health.Shutdown(shutdownCtx)

	if err != nil {
		log.Error().Err(err).Msg("processor failed")
		os.Exit(1)
	}
	log.Info().Msg("processor shutdown complete")
}

func healthServer(port string, proc *processor.Processor, store storage.Storage, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		state := proc.State()
		status := map[string]string{
			"status": "healthy",
			"state":  state.String(),
		}
		if err := store.Ping(r.Context()); err != nil {
			status["status"] = "unhealthy"
			status["store"] = "unhealthy"
		} else {
			status["store"] = "healthy"
		}
		w.Header().Set("Content-Type", "application/json")
		if status["status"] != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
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
