package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/bashkirian/event-pipeline/pkg/models"
)

const createStatsTable = `
create table if not exists event_stats (
	event_type text primary key,
	count      bigint not null default 0,
	sum        double precision not null default 0
)`

// PostgresStorage хранилище агрегатов в Postgres. Инкремент выполняется
// одним оператором INSERT ... ON CONFLICT DO UPDATE ... RETURNING, поэтому
// атомарность обеспечивает сама база.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(createStatsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stats table: %w", err)
	}
	return &PostgresStorage{db: db}, nil
}

func (s *PostgresStorage) Increment(ctx context.Context, eventType string, amount float64) (models.AggregateRecord, error) {
	query := `
		insert into event_stats (event_type, count, sum) values ($1, 1, $2)
		on conflict (event_type) do update
			set count = event_stats.count + 1,
			    sum   = event_stats.sum + excluded.sum
		returning count, sum`

	rec := models.AggregateRecord{Type: eventType}
	if err := s.db.QueryRowContext(ctx, query, eventType, amount).Scan(&rec.Count, &rec.Sum); err != nil {
		return models.AggregateRecord{}, &UnavailableError{Err: err}
	}
	return rec, nil
}

func (s *PostgresStorage) Get(ctx context.Context, eventType string) (models.AggregateRecord, error) {
	rec := models.AggregateRecord{Type: eventType}
	err := s.db.QueryRowContext(ctx,
		`select count, sum from event_stats where event_type = $1`, eventType,
	).Scan(&rec.Count, &rec.Sum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AggregateRecord{}, ErrNotFound
		}
		return models.AggregateRecord{}, &UnavailableError{Err: err}
	}
	return rec, nil
}

func (s *PostgresStorage) GetAll(ctx context.Context) (map[string]models.AggregateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `select event_type, count, sum from event_stats`)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	defer rows.Close()

	result := make(map[string]models.AggregateRecord)
	for rows.Next() {
		var rec models.AggregateRecord
		if err := rows.Scan(&rec.Type, &rec.Count, &rec.Sum); err != nil {
			return nil, &UnavailableError{Err: err}
		}
		result[rec.Type] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, &UnavailableError{Err: err}
	}
	return result, nil
}

func (s *PostgresStorage) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `truncate table event_stats`); err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
