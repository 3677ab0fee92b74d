// Package observability exposes Prometheus metrics for the protocol engines.
// Collectors are created lazily and registered once on the default registry.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"collar/core/events"
)

const namespace = "collar"

type engineMetrics struct {
	events *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		metrics = &engineMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_events_total",
				Help:      "Number of events emitted by the protocol engines.",
			}, []string{"event"}),
		}
		prometheus.MustRegister(metrics.events)
	})
	return metrics
}

// CountEvent increments the engine event counter for the given event type.
func CountEvent(eventType string) {
	if eventType == "" {
		return
	}
	getMetrics().events.WithLabelValues(eventType).Inc()
}

// MetricsEmitter counts every emitted event and forwards it to the wrapped
// emitter. A nil next emitter only counts.
type MetricsEmitter struct {
	next events.Emitter
}

// NewMetricsEmitter wraps next with event counting.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	return &MetricsEmitter{next: next}
}

// Emit implements the events.Emitter interface.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	CountEvent(evt.EventType())
	if m.next != nil {
		m.next.Emit(evt)
	}
}
