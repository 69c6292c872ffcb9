// Package queue абстрагирует операции очереди сообщений, необходимые
// конвейеру: выборка с long poll, идемпотентное удаление, продление
// видимости и перенос в dead-letter очередь.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message сообщение очереди вместе с метаданными доставки
type Message struct {
	// ID идентификатор сообщения, присвоенный очередью
	ID string
	// Body сырое тело сообщения
	Body []byte
	// ReceiptHandle непрозрачный токен для delete/extend/redirect
	ReceiptHandle string
	// ReceiveCount сколько раз сообщение было доставлено без удаления
	ReceiveCount int
	// SentAt приблизительное время постановки в очередь
	SentAt time.Time
}

// TransientError временная ошибка очереди (сеть, недоступность сервиса);
// операция повторяется с backoff
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("queue: transient error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError неустранимая ошибка конфигурации (например, очередь не
// существует); фатальна на старте
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("queue: permanent error in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Gateway операции над очередью сообщений. Видимостью сообщений управляет
// сама очередь; шлюз только транслирует команды.
type Gateway interface {
	// ReceiveBatch ожидает до wait и возвращает до max сообщений.
	// Пустая выборка по таймауту - не ошибка.
	ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Delete идемпотентно удаляет сообщение; повторное удаление - no-op
	Delete(ctx context.Context, msg Message) error

	// ExtendVisibility продлевает окно невидимости сообщения
	ExtendVisibility(ctx context.Context, msg Message, timeout time.Duration) error

	// MoveToDeadLetter публикует тело сообщения в dead-letter очередь и
	// затем удаляет его из исходной. Если публикация не удалась, удаление
	// не выполняется: сообщение остаётся доступным для повтора.
	MoveToDeadLetter(ctx context.Context, msg Message) error

	// Send публикует тело в исходную очередь (сторона производителя)
	Send(ctx context.Context, body []byte) error

	Close() error
}
