// Package metrics содержит Prometheus-метрики конвейера.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics счётчики обработки сообщений
type Metrics struct {
	Processed        *prometheus.CounterVec
	ValidationErrors prometheus.Counter
	StoreErrors      prometheus.Counter
	DeadLettered     prometheus.Counter
	EmptyBatches     prometheus.Counter
	ProcessorState   prometheus.Gauge
}

// New регистрирует метрики в reg и возвращает их
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_messages_processed_total",
			Help: "Messages aggregated and deleted, by event type",
		}, []string{"event_type"}),

		ValidationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_validation_errors_total",
			Help: "Messages discarded due to malformed or incomplete bodies",
		}),

		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_store_errors_total",
			Help: "Aggregate store failures; affected messages are left for redelivery",
		}),

		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_dead_lettered_total",
			Help: "Messages moved to the dead-letter queue",
		}),

		EmptyBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_empty_batches_total",
			Help: "Receive calls that returned no messages",
		}),

		ProcessorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_processor_state",
			Help: "Current processor state (0=starting 1=connecting 2=running 3=draining 4=stopped)",
		}),
	}

	reg.MustRegister(
		m.Processed,
		m.ValidationErrors,
		m.StoreErrors,
		m.DeadLettered,
		m.EmptyBatches,
		m.ProcessorState,
	)
	return m
}
