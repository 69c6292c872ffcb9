package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSendFailed возвращается InMemoryQueue при включённой инъекции отказа
// публикации (для тестов dead-letter пути)
var ErrSendFailed = errors.New("queue: send failed")

type memoryMessage struct {
	msg       Message
	visibleAt time.Time
	deleted   bool
}

// InMemoryQueue реализация Gateway в памяти с настоящей семантикой окна
// видимости и счётчика доставок. Используется в тестах и для локального
// запуска без SQS.
type InMemoryQueue struct {
	mu         sync.Mutex
	messages   []*memoryMessage
	deadLetter [][]byte
	visibility time.Duration

	// failDeadLetterSend инъекция отказа публикации в DLQ
	failDeadLetterSend bool

	now func() time.Time
}

func NewInMemoryQueue(visibility time.Duration) *InMemoryQueue {
	return &InMemoryQueue{
		visibility: visibility,
		now:        time.Now,
	}
}

func (q *InMemoryQueue) Send(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := make([]byte, len(body))
	copy(b, body)
	q.messages = append(q.messages, &memoryMessage{
		msg: Message{
			ID:     uuid.New().String(),
			Body:   b,
			SentAt: q.now(),
		},
	})
	return nil
}

func (q *InMemoryQueue) ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	deadline := q.now().Add(wait)
	for {
		batch := q.claim(max)
		if len(batch) > 0 {
			return batch, nil
		}
		if !q.now().Before(deadline) {
			return nil, nil // таймаут long poll, пустая выборка
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *InMemoryQueue) claim(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var batch []Message
	for _, m := range q.messages {
		if len(batch) >= max {
			break
		}
		if m.deleted || m.visibleAt.After(now) {
			continue
		}
		m.msg.ReceiveCount++
		m.msg.ReceiptHandle = uuid.New().String()
		m.visibleAt = now.Add(q.visibility)
		batch = append(batch, m.msg)
	}
	return batch
}

func (q *InMemoryQueue) Delete(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if m.msg.ID == msg.ID {
			m.deleted = true
			return nil
		}
	}
	return nil // уже удалено - no-op
}

func (q *InMemoryQueue) ExtendVisibility(_ context.Context, msg Message, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if m.msg.ID == msg.ID && !m.deleted {
			m.visibleAt = q.now().Add(timeout)
			return nil
		}
	}
	return nil
}

func (q *InMemoryQueue) MoveToDeadLetter(ctx context.Context, msg Message) error {
	q.mu.Lock()
	if q.failDeadLetterSend {
		q.mu.Unlock()
		return &TransientError{Op: "dead-letter send", Err: ErrSendFailed}
	}
	q.deadLetter = append(q.deadLetter, msg.Body)
	q.mu.Unlock()

	return q.Delete(ctx, msg)
}

func (q *InMemoryQueue) Close() error { return nil }

// FailDeadLetterSend включает или выключает инъекцию отказа публикации в DLQ
func (q *InMemoryQueue) FailDeadLetterSend(fail bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failDeadLetterSend = fail
}

// DeadLetters возвращает тела сообщений, перенесённых в DLQ
func (q *InMemoryQueue) DeadLetters() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([][]byte, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

// Pending возвращает число неудалённых сообщений в исходной очереди
func (q *InMemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, m := range q.messages {
		if !m.deleted {
			n++
		}
	}
	return n
}

// MakeVisible немедленно возвращает все недоставленные сообщения в
// видимое состояние (в тестах заменяет ожидание окна видимости)
func (q *InMemoryQueue) MakeVisible() {
	q.mu.Lock()
	defer q.mu.Unlock()

	past := q.now().Add(-time.Second)
	for _, m := range q.messages {
		if !m.deleted {
			m.visibleAt = past
		}
	}
}
