// Package metrics - счётчики Prometheus для хранилища, ленты изменений и
// оптимистичных мутаций.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fine_comments"

// Metrics хранит все метрики сервиса. nil *Metrics допустим, вызовы становятся no-op.
type Metrics struct {
	StoreOps          *prometheus.CounterVec
	StoreLatency      *prometheus.HistogramVec
	RealtimeEvents    *prometheus.CounterVec
	OptimisticResults *prometheus.CounterVec
	Subscriptions     prometheus.Gauge
}

// New регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Comment store operations by operation and outcome kind.",
		}, []string{"op", "outcome"}),
		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Comment store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		RealtimeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Change feed events by type and result (applied, dropped).",
		}, []string{"type", "result"}),
		OptimisticResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimistic",
			Name:      "mutations_total",
			Help:      "Optimistic mutations by kind and result (confirmed, rejected).",
		}, []string{"kind", "result"}),
		Subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscriptions",
			Help:      "Open change feed subscriptions.",
		}),
	}
}

// StoreOp учитывает вызов хранилища.
func (m *Metrics) StoreOp(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.StoreOps.WithLabelValues(op, outcome).Inc()
	m.StoreLatency.WithLabelValues(op).Observe(seconds)
}

// RealtimeEvent учитывает событие ленты.
func (m *Metrics) RealtimeEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.RealtimeEvents.WithLabelValues(eventType, result).Inc()
}

// Optimistic учитывает исход оптимистичной мутации.
func (m *Metrics) Optimistic(kind, result string) {
	if m == nil {
		return
	}
	m.OptimisticResults.WithLabelValues(kind, result).Inc()
}

// SubscriptionOpened / SubscriptionClosed ведут gauge открытых подписок.
func (m *Metrics) SubscriptionOpened() {
	if m != nil {
		m.Subscriptions.Inc()
	}
}

func (m *Metrics) SubscriptionClosed() {
	if m != nil {
		m.Subscriptions.Dec()
	}
}
