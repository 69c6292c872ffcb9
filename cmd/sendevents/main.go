// cmd/sendevents/main.go
//
// Генератор нагрузки: публикует тестовые события в исходную очередь.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/bashkirian/event-pipeline/internal/config"
	"github.com/bashkirian/event-pipeline/internal/queue"
	"github.com/bashkirian/event-pipeline/pkg/models"
)

func main() {
	var (
		count     = flag.Int("count", 10, "number of events to send")
		eventType = flag.String("type", "purchase", "event type")
		value     = flag.Float64("value", 100.0, "event value")
	)
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "sendevents").Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

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

	for i := 0; i < *count; i++ {
		body, err := json.Marshal(models.Event{
			Type:       *eventType,
			Value:      *value,
			OccurredAt: time.Now(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to marshal event")
		}
		if err := gateway.Send(ctx, body); err != nil {
			log.Fatal().Err(err).Int("sent", i).Msg("failed to send event")
		}
	}

	log.Info().Int("count", *count).Str("type", *eventType).Msg("events sent")
}
