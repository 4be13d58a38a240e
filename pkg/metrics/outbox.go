package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts what the publisher did with each outbox row.
type OutboxMetrics struct {
	published    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	pending      prometheus.Gauge
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox events published, by event type.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Retryable publish failures, by event type.",
	}, []string{"event_type"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dead_lettered_total",
		Help: "Outbox events moved to the DLQ, by reason.",
	}, []string{"reason"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_events",
		Help: "Outbox rows still waiting to be published after the last drain.",
	})
	reg.MustRegister(published, failed, deadLettered, pending)
	return &OutboxMetrics{published: published, failed: failed, deadLettered: deadLettered, pending: pending}
}

func (m *OutboxMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncDeadLettered(reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(reason)).Inc()
}

// SetPending records the backlog seen by the publisher.
func (m *OutboxMetrics) SetPending(n int64) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}
