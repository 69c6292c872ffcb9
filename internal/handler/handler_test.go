package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bashkirian/event-pipeline/internal/storage"
	"github.com/bashkirian/event-pipeline/pkg/models"
)

func TestHandleStats_EmptyMapping(t *testing.T) {
	h := New(storage.NewInMemoryStorage(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.HandleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	// Пустая статистика - пустой объект, а не null
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestHandleStats_ReturnsAggregates(t *testing.T) {
	store := storage.NewInMemoryStorage()
	ctx := context.Background()
	store.Increment(ctx, "purchase", 100.0)
	store.Increment(ctx, "purchase", 50.0)
	store.Increment(ctx, "click", 1.0)

	h := New(store, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.HandleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]models.AggregateRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got["purchase"].Count)
	assert.Equal(t, 150.0, got["purchase"].Sum)
	assert.Equal(t, int64(1), got["click"].Count)
}

func TestHandleStats_ResetClearsAggregates(t *testing.T) {
	store := storage.NewInMemoryStorage()
	store.Increment(context.Background(), "purchase", 100.0)

	h := New(store, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.HandleStats(rec, httptest.NewRequest(http.MethodDelete, "/stats", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestHandleStats_MethodNotAllowed(t *testing.T) {
	h := New(storage.NewInMemoryStorage(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.HandleStats(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleStatsByType(t *testing.T) {
	store := storage.NewInMemoryStorage()
	store.Increment(context.Background(), "purchase", 650.0)

	h := New(store, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.HandleStatsByType(rec, httptest.NewRequest(http.MethodGet, "/stats/purchase", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got models.AggregateRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "purchase", got.Type)
	assert.Equal(t, int64(1), got.Count)
	assert.Equal(t, 650.0, got.Sum)
}

func TestHandleStatsByType_NotFound(t *testing.T) {
	h := New(storage.NewInMemoryStorage(), zerolog.Nop())

	for _, path := range []string{"/stats/unknown", "/stats/", "/stats/a/b"} {
		rec := httptest.NewRecorder()
		h.HandleStatsByType(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "path %s", path)
	}
}

func TestHandleHealth(t *testing.T) {
	h := New(storage.NewInMemoryStorage(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status["status"])
	assert.Equal(t, "healthy", status["store"])
	assert.NotContains(t, status, "queue")
}

func TestHandleHealth_QueueProbeFailure(t *testing.T) {
	h := New(storage.NewInMemoryStorage(), zerolog.Nop()).
		WithQueueProbe(func(context.Context) error {
			return errors.New("queue unreachable")
		})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status["status"])
	assert.Equal(t, "healthy", status["store"])
	assert.Equal(t, "unhealthy", status["queue"])
}
