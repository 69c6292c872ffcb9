package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bashkirian/event-pipeline/internal/storage"
)

// Probe проверка доступности внешней зависимости
type Probe func(ctx context.Context) error

type Handler struct {
	store      storage.Storage
	queueProbe Probe // nil, если сервис не работает с очередью
	log        zerolog.Logger
}

func New(store storage.Storage, log zerolog.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// WithQueueProbe добавляет проверку очереди в /health
func (h *Handler) WithQueueProbe(p Probe) *Handler {
	h.queueProbe = p
	return h
}

// HandleStats GET /stats - все агрегаты, DELETE /stats - сброс
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records, err := h.store.GetAll(r.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("failed to read aggregates")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)

	case http.MethodDelete:
		if err := h.store.Reset(r.Context()); err != nil {
			h.log.Error().Err(err).Msg("failed to reset aggregates")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		h.log.Info().Msg("statistics reset")
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStatsByType GET /stats/{type} - агрегат одного типа события
func (h *Handler) HandleStatsByType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eventType := strings.TrimPrefix(r.URL.Path, "/stats/")
	if eventType == "" || strings.Contains(eventType, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	record, err := h.store.Get(r.Context(), eventType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("event_type", eventType).Msg("failed to read aggregate")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// HandleHealth GET /health - проверка доступности хранилища и очереди
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "healthy"}
	healthy := true

	if err := h.store.Ping(r.Context()); err != nil {
		status["store"] = "unhealthy"
		healthy = false
	} else {
		status["store"] = "healthy"
	}

	if h.queueProbe != nil {
		if err := h.queueProbe(r.Context()); err != nil {
			status["queue"] = "unhealthy"
			healthy = false
		} else {
			status["queue"] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		status["status"] = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
