// Package backoff реализует общую политику экспоненциальной задержки.
// Используется и при установке соединения с хранилищем, и при ожидании
// после пустой выборки из очереди.
package backoff

import (
	"context"
	"time"
)

const (
	DefaultBase = 100 * time.Millisecond
	DefaultMax  = 5 * time.Second
)

// Policy детерминированная политика: Delay(attempt) = min(base*2^attempt, max)
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax}
}

// Delay возвращает задержку для попытки attempt (нумерация с нуля)
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	max := p.Max
	if max <= 0 {
		max = DefaultMax
	}
	if attempt < 0 {
		attempt = 0
	}
	// Защита от переполнения при сдвиге
	if attempt > 62 || base > max>>attempt {
		return max
	}
	d := base << attempt
	if d > max {
		return max
	}
	return d
}

// Wait приостанавливает выполнение на Delay(attempt), прерываясь при
// отмене контекста. Возвращает ctx.Err(), если ожидание было прервано.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
