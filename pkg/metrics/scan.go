package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ScanMetrics counts scan attempts by outcome and times the full attempt,
// retries included.
type ScanMetrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewScanMetrics registers the scan metrics on the provided registerer.
func NewScanMetrics(reg prometheus.Registerer) *ScanMetrics {
	if reg == nil {
		return &ScanMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_attempts_total",
		Help: "Scan attempts partitioned by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scan_duration_seconds",
		Help:    "Duration of scan attempts in seconds.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"outcome"})
	reg.MustRegister(attempts, duration)
	return &ScanMetrics{attempts: attempts, duration: duration}
}

// Observe records one finished scan attempt.
func (m *ScanMetrics) Observe(outcome string, elapsed time.Duration) {
	if m == nil || m.attempts == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.attempts.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// InventoryMetrics tracks stock movement written through the ledger.
type InventoryMetrics struct {
	adjustments *prometheus.CounterVec
	units       *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

// NewInventoryMetrics registers the inventory metrics on the provided registerer.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_adjustments_total",
		Help: "Committed inventory adjustments by direction, including scans and initial stock.",
	}, []string{"direction"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_units_moved_total",
		Help: "Absolute units moved by committed adjustments.",
	}, []string{"direction"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_adjustment_rejections_total",
		Help: "Adjustments rejected before commit, by error code.",
	}, []string{"code"})
	reg.MustRegister(adjustments, units, rejections)
	return &InventoryMetrics{adjustments: adjustments, units: units, rejections: rejections}
}

// ObserveAdjustment records a committed delta.
func (m *InventoryMetrics) ObserveAdjustment(delta int) {
	if m == nil || m.adjustments == nil || delta == 0 {
		return
	}
	direction := "in"
	amount := delta
	if delta < 0 {
		direction = "out"
		amount = -delta
	}
	m.adjustments.WithLabelValues(direction).Inc()
	m.units.WithLabelValues(direction).Add(float64(amount))
}

// IncRejection records an adjustment refused with the given error code.
func (m *InventoryMetrics) IncRejection(code string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(code)).Inc()
}
