// Package processor реализует цикл обработки сообщений: выборка из
// очереди, валидация, атомарное обновление агрегатов и подтверждение
// или перенос в dead-letter очередь.
package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bashkirian/event-pipeline/internal/backoff"
	"github.com/bashkirian/event-pipeline/internal/metrics"
	"github.com/bashkirian/event-pipeline/internal/queue"
	"github.com/bashkirian/event-pipeline/internal/storage"
	"github.com/bashkirian/event-pipeline/pkg/models"
)

// State состояние цикла обработки
type State int32

const (
	StateStarting State = iota
	StateConnecting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome итог обработки одного сообщения
type Outcome int

const (
	// OutcomeDelivered событие агрегировано, сообщение удалено
	OutcomeDelivered Outcome = iota
	// OutcomeValidationFailed тело невалидно, сообщение удалено без повтора
	OutcomeValidationFailed
	// OutcomeStoreUnavailable хранилище недоступно, сообщение оставлено
	// для повторной доставки
	OutcomeStoreUnavailable
	// OutcomeExceededRetries превышен лимит доставок, сообщение отправлено
	// в dead-letter очередь
	OutcomeExceededRetries
)

// Config параметры цикла обработки
type Config struct {
	BatchSize         int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	MaxReceiveCount   int
	ConnectRetries    int
	Backoff           backoff.Policy
	// IdleSleep верхняя граница паузы после пустой выборки; сама пауза
	// растёт по той же экспоненциальной политике
	IdleSleep time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.WaitTime <= 0 {
		c.WaitTime = 20 * time.Second
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = 3
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 30
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = backoff.Default()
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = time.Second
	}
}

func (c Config) idlePolicy() backoff.Policy {
	return backoff.Policy{Base: c.Backoff.Base, Max: c.IdleSleep}
}

// Processor цикл обработки сообщений. Несколько экземпляров работают
// независимо над одной очередью и одним общим хранилищем агрегатов;
// локального агрегатного состояния между партиями нет.
type Processor struct {
	queue   queue.Gateway
	store   storage.Storage
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger

	state atomic.Int32
}

// New создаёт обработчик; metrics может быть nil
func New(q queue.Gateway, store storage.Storage, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Processor {
	cfg.applyDefaults()
	p := &Processor{
		queue:   q,
		store:   store,
		cfg:     cfg,
		metrics: m,
		log:     log,
	}
	p.state.Store(int32(StateStarting))
	return p
}

// State возвращает текущее состояние цикла
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
	if p.metrics != nil {
		p.metrics.ProcessorState.Set(float64(s))
	}
}

// Run выполняет цикл до отмены контекста. Сообщения уже полученной партии
// дорабатываются до конца и после сигнала остановки; новые выборки при
// этом не выполняются. Ошибка возвращается, только если подключение к
// хранилищу исчерпало попытки или очередь сообщила о неустранимой ошибке.
func (p *Processor) Run(ctx context.Context) error {
	p.setState(StateConnecting)
	if err := p.connect(ctx); err != nil {
		p.setState(StateStopped)
		return err
	}

	p.setState(StateRunning)
	p.log.Info().
		Int("batch_size", p.cfg.BatchSize).
		Dur("wait_time", p.cfg.WaitTime).
		Int("max_receive_count", p.cfg.MaxReceiveCount).
		Msg("processor started")

	var idleAttempt, recvAttempt int
	for ctx.Err() == nil {
		msgs, err := p.queue.ReceiveBatch(ctx, p.cfg.BatchSize, p.cfg.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if queue.IsPermanent(err) {
				p.setState(StateStopped)
				return err
			}
			p.log.Error().Err(err).Msg("failed to receive messages")
			p.cfg.Backoff.Wait(ctx, recvAttempt)
			recvAttempt++
			continue
		}
		recvAttempt = 0

		if len(msgs) == 0 {
			if p.metrics != nil {
				p.metrics.EmptyBatches.Inc()
			}
			p.cfg.idlePolicy().Wait(ctx, idleAttempt)
			idleAttempt++
			continue
		}
		idleAttempt = 0

		p.log.Debug().Int("count", len(msgs)).Msg("received batch")
		storeErrs := p.processBatch(ctx, msgs)
		if storeErrs > 0 && ctx.Err() == nil {
			// Хранилище недоступно: пауза перед следующей выборкой,
			// непроставленные сообщения вернутся по таймауту видимости
			p.cfg.Backoff.Wait(ctx, 0)
		}
	}

	p.setState(StateStopped)
	p.log.Info().Msg("processor stopped")
	return nil
}

func (p *Processor) connect(ctx context.Context) error {
	for attempt := 0; attempt < p.cfg.ConnectRetries; attempt++ {
		err := p.store.Ping(ctx)
		if err == nil {
			p.log.Info().Msg("connected to aggregate store")
			return nil
		}
		p.log.Warn().Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", p.cfg.ConnectRetries).
			Msg("aggregate store connection failed")
		if err := p.cfg.Backoff.Wait(ctx, attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("processor: could not connect to aggregate store after %d attempts", p.cfg.ConnectRetries)
}

// processBatch обрабатывает партию до конца независимо от сигнала
// остановки и возвращает число отказов хранилища
func (p *Processor) processBatch(ctx context.Context, msgs []queue.Message) int {
	dctx := context.WithoutCancel(ctx)
	storeErrs := 0
	for _, msg := range msgs {
		if ctx.Err() != nil && p.State() == StateRunning {
			p.setState(StateDraining)
			p.log.Info().Msg("shutdown requested, draining in-flight batch")
		}

		switch outcome := p.handleMessage(dctx, msg); outcome {
		case OutcomeDelivered:
			// счётчик обновляется в handleMessage, где известен тип события
		case OutcomeValidationFailed:
			if p.metrics != nil {
				p.metrics.ValidationErrors.Inc()
			}
		case OutcomeStoreUnavailable:
			storeErrs++
			if p.metrics != nil {
				p.metrics.StoreErrors.Inc()
			}
		case OutcomeExceededRetries:
			if p.metrics != nil {
				p.metrics.DeadLettered.Inc()
			}
		default:
			p.log.Error().Int("outcome", int(outcome)).Msg("unhandled message outcome")
		}
	}
	return storeErrs
}

func (p *Processor) handleMessage(ctx context.Context, msg queue.Message) Outcome {
	if msg.ReceiveCount > p.cfg.MaxReceiveCount {
		if err := p.queue.MoveToDeadLetter(ctx, msg); err != nil {
			// Публикация в DLQ не удалась: сообщение остаётся в исходной
			// очереди и будет доставлено снова
			p.log.Error().Err(err).
				Str("message_id", msg.ID).
				Msg("failed to move poison message to dead-letter queue")
		} else {
			p.log.Warn().
				Str("message_id", msg.ID).
				Int("receive_count", msg.ReceiveCount).
				Msg("moved poison message to dead-letter queue")
		}
		return OutcomeExceededRetries
	}

	if msg.ReceiveCount > 1 {
		p.log.Warn().
			Str("message_id", msg.ID).
			Int("receive_count", msg.ReceiveCount).
			Msg("message redelivered")
		if err := p.queue.ExtendVisibility(ctx, msg, p.cfg.VisibilityTimeout); err != nil {
			p.log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to extend message visibility")
		}
	}

	event, err := models.Validate(msg.Body)
	if err != nil {
		p.log.Warn().Err(err).
			Str("message_id", msg.ID).
			Msg("invalid message body, deleting")
		p.deleteMessage(ctx, msg)
		return OutcomeValidationFailed
	}

	if _, err := p.store.Increment(ctx, event.Type, event.Value); err != nil {
		p.log.Error().Err(err).
			Str("message_id", msg.ID).
			Str("event_type", event.Type).
			Msg("aggregate store update failed, leaving message for redelivery")
		return OutcomeStoreUnavailable
	}

	p.deleteMessage(ctx, msg)
	if p.metrics != nil {
		p.metrics.Processed.WithLabelValues(event.Type).Inc()
	}
	p.log.Debug().
		Str("event_type", event.Type).
		Float64("value", event.Value).
		Msg("event aggregated")
	return OutcomeDelivered
}

func (p *Processor) deleteMessage(ctx context.Context, msg queue.Message) {
	if err := p.queue.Delete(ctx, msg); err != nil {
		// Агрегат уже обновлён; при повторной доставке событие будет
		// посчитано дважды - принятое ограничение at-least-once
		p.log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to delete message")
	}
}
