package storage

import (
	"context"
	"sync"

	"github.com/bashkirian/event-pipeline/pkg/models"
)

// InMemoryStorage хранилище в памяти процесса. Подходит для тестов и
// локального запуска одного экземпляра; при горизонтальном масштабировании
// используется Redis или Postgres.
type InMemoryStorage struct {
	mu      sync.RWMutex
	records map[string]*models.AggregateRecord
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		records: make(map[string]*models.AggregateRecord),
	}
}

func (s *InMemoryStorage) Increment(_ context.Context, eventType string, amount float64) (models.AggregateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[eventType]
	if !ok {
		rec = &models.AggregateRecord{Type: eventType}
		s.records[eventType] = rec
	}
	rec.Count++
	rec.Sum += amount
	return *rec, nil
}

func (s *InMemoryStorage) Get(_ context.Context, eventType string) (models.AggregateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[eventType]
	if !ok {
		return models.AggregateRecord{}, ErrNotFound
	}
	return *rec, nil
}

func (s *InMemoryStorage) GetAll(_ context.Context) (map[string]models.AggregateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]models.AggregateRecord, len(s.records))
	for eventType, rec := range s.records {
		result[eventType] = *rec
	}
	return result, nil
}

func (s *InMemoryStorage) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*models.AggregateRecord)
	return nil
}

func (s *InMemoryStorage) Ping(_ context.Context) error { return nil }

func (s *InMemoryStorage) Close() error { return nil }
