// pkg/server/server.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bashkirian/event-pipeline/internal/handler"
	"github.com/bashkirian/event-pipeline/internal/storage"
)

type Server struct {
	httpServer *http.Server
	store      storage.Storage
	log        zerolog.Logger
}

// NewServer собирает HTTP-сервер статистики поверх хранилища агрегатов.
// Сервер только читает и сбрасывает агрегаты; очереди он не касается.
func NewServer(port string, store storage.Storage, log zerolog.Logger) *Server {
	h := handler.New(store, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/stats/", h.HandleStatsByType)
	mux.HandleFunc("/health", h.HandleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      loggingMiddleware(mux, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		store:      store,
		log:        log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("server starting")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func loggingMiddleware(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}
