package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bashkirian/event-pipeline/pkg/models"
)

// ErrNotFound тип события отсутствует в хранилище
var ErrNotFound = errors.New("storage: event type not found")

// UnavailableError хранилище временно недоступно; обработчик оставляет
// сообщение в очереди для повторной доставки
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable проверяет, является ли ошибка временной недоступностью
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Storage хранилище агрегатов, общее для всех экземпляров обработчика.
// Increment обязан быть атомарным при любом числе конкурентных вызовов:
// никакого read-modify-write на стороне обработчика.
type Storage interface {
	// Increment атомарно выполняет count += 1; sum += amount и
	// возвращает снимок записи после обновления
	Increment(ctx context.Context, eventType string, amount float64) (models.AggregateRecord, error)

	// Get возвращает агрегат для типа события или ErrNotFound
	Get(ctx context.Context, eventType string) (models.AggregateRecord, error)

	// GetAll возвращает агрегаты для всех известных типов событий
	GetAll(ctx context.Context) (map[string]models.AggregateRecord, error)

	// Reset атомарно очищает все записи
	Reset(ctx context.Context) error

	// Ping проверяет доступность хранилища
	Ping(ctx context.Context) error

	Close() error
}
