package storage

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/bashkirian/event-pipeline/pkg/models"
)

// Схема ключей в Redis
const (
	redisCountPrefix = "stats:count:"
	redisSumPrefix   = "stats:sum:"
	redisTypesSet    = "stats:event_types"
)

// RedisStorage хранилище агрегатов в Redis. Инкремент выполняется в
// MULTI/EXEC-конвейере: count, sum и множество типов обновляются как одна
// неделимая операция, поэтому конкурентные обработчики не теряют обновления.
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(addr, password string, db int) *RedisStorage {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStorage{client: client}
}

func (s *RedisStorage) Increment(ctx context.Context, eventType string, amount float64) (models.AggregateRecord, error) {
	pipe := s.client.TxPipeline()
	countCmd := pipe.Incr(ctx, redisCountPrefix+eventType)
	sumCmd := pipe.IncrByFloat(ctx, redisSumPrefix+eventType, amount)
	pipe.SAdd(ctx, redisTypesSet, eventType)

	if _, err := pipe.Exec(ctx); err != nil {
		return models.AggregateRecord{}, &UnavailableError{Err: err}
	}

	return models.AggregateRecord{
		Type:  eventType,
		Count: countCmd.Val(),
		Sum:   sumCmd.Val(),
	}, nil
}

func (s *RedisStorage) Get(ctx context.Context, eventType string) (models.AggregateRecord, error) {
	vals, err := s.client.MGet(ctx, redisCountPrefix+eventType, redisSumPrefix+eventType).Result()
	if err != nil {
		return models.AggregateRecord{}, &UnavailableError{Err: err}
	}
	if vals[0] == nil || vals[1] == nil {
		return models.AggregateRecord{}, ErrNotFound
	}
	return parseRecord(eventType, vals[0], vals[1])
}

func (s *RedisStorage) GetAll(ctx context.Context) (map[string]models.AggregateRecord, error) {
	types, err := s.client.SMembers(ctx, redisTypesSet).Result()
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	result := make(map[string]models.AggregateRecord, len(types))
	if len(types) == 0 {
		return result, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(types)*2)
	for _, eventType := range types {
		cmds = append(cmds,
			pipe.Get(ctx, redisCountPrefix+eventType),
			pipe.Get(ctx, redisSumPrefix+eventType),
		)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, &UnavailableError{Err: err}
	}

	for i, eventType := range types {
		countStr, err := cmds[i*2].Result()
		if err != nil {
			continue // тип есть в множестве, но счётчики уже удалены
		}
		sumStr, err := cmds[i*2+1].Result()
		if err != nil {
			continue
		}
		rec, err := parseRecord(eventType, countStr, sumStr)
		if err != nil {
			return nil, err
		}
		result[eventType] = rec
	}
	return result, nil
}

func (s *RedisStorage) Reset(ctx context.Context) error {
	types, err := s.client.SMembers(ctx, redisTypesSet).Result()
	if err != nil {
		return &UnavailableError{Err: err}
	}

	keys := make([]string, 0, len(types)*2+1)
	for _, eventType := range types {
		keys = append(keys, redisCountPrefix+eventType, redisSumPrefix+eventType)
	}
	keys = append(keys, redisTypesSet)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}

func (s *RedisStorage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func parseRecord(eventType string, countVal, sumVal interface{}) (models.AggregateRecord, error) {
	countStr, ok := countVal.(string)
	if !ok {
		return models.AggregateRecord{}, errors.New("storage: unexpected count value type")
	}
	sumStr, ok := sumVal.(string)
	if !ok {
		return models.AggregateRecord{}, errors.New("storage: unexpected sum value type")
	}
	count, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return models.AggregateRecord{}, err
	}
	sum, err := strconv.ParseFloat(sumStr, 64)
	if err != nil {
		return models.AggregateRecord{}, err
	}
	return models.AggregateRecord{Type: eventType, Count: count, Sum: sum}, nil
}
