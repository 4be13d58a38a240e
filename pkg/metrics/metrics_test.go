package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// histogramSum gathers reg and returns the sample sum of the series with the
// given label, or -1 when absent.
func histogramSum(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if hasLabel(m, label, value) {
				return m.GetHistogram().GetSampleSum()
			}
		}
	}
	return -1
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == name && pair.GetValue() == value {
			return true
		}
	}
	return false
}

func TestCronJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	before := float64(time.Now().Unix())
	m.ObserveRun("retention", 250*time.Millisecond, nil)
	m.ObserveRun("retention", time.Second, errors.New("db down"))
	m.ObserveRun("", time.Millisecond, errors.New("boom"))
	m.AddProcessed("retention", 3)
	m.AddProcessed("retention", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("retention", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("retention", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("unknown", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.processed.WithLabelValues("retention")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("retention")), before)
	assert.Equal(t, 1, testutil.CollectAndCount(m.lastSuccess), "failures leave the success time alone")
	assert.InDelta(t, 1.25, histogramSum(t, reg, "cron_job_duration_seconds", "job", "retention"), 1e-9)
}

func TestScanMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewScanMetrics(reg)

	m.Observe("accepted", 10*time.Millisecond)
	m.Observe("accepted", 5*time.Millisecond)
	m.Observe("insufficient_stock", time.Millisecond)
	m.Observe("", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("unknown")))
	assert.InDelta(t, 0.015, histogramSum(t, reg, "scan_duration_seconds", "outcome", "accepted"), 1e-4)
}

func TestInventoryMetricsDirections(t *testing.T) {
	m := NewInventoryMetrics(prometheus.NewRegistry())

	m.ObserveAdjustment(5)
	m.ObserveAdjustment(-1)
	m.ObserveAdjustment(-1)
	m.ObserveAdjustment(0)
	m.IncRejection("INSUFFICIENT_STOCK")

	assert.Equal(t, 5.0, testutil.ToFloat64(m.units.WithLabelValues("in")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.units.WithLabelValues("out")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.adjustments.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("INSUFFICIENT_STOCK")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.adjustments)+testutil.CollectAndCount(m.rejections))
}

func TestOutboxMetrics(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())

	m.IncPublished("scan_accepted")
	m.IncPublished("scan_accepted")
	m.IncFailed("stock_depleted")
	m.IncDeadLettered("max_attempts")
	m.SetPending(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("scan_accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed.WithLabelValues("stock_depleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadLettered.WithLabelValues("max_attempts")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.pending))
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.Observe("POST", "/api/v1/requests/{requestId}/scans", "200", 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("POST", "/api/v1/requests/{requestId}/scans", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requests))
	assert.InDelta(t, 0.02, histogramSum(t, reg, "http_request_duration_seconds", "route", "/api/v1/requests/{requestId}/scans"), 1e-9)
}

func TestNilMetricsAreNoops(t *testing.T) {
	assert.NotPanics(t, func() {
		NewScanMetrics(nil).Observe("accepted", time.Millisecond)
		NewInventoryMetrics(nil).ObserveAdjustment(3)
		NewCronJobMetrics(nil).ObserveRun("job", time.Second, nil)
		NewOutboxMetrics(nil).SetPending(1)

		var scan *ScanMetrics
		scan.Observe("accepted", time.Millisecond)
		var outbox *OutboxMetrics
		outbox.IncPublished("scan_accepted")
		var cron *CronJobMetrics
		cron.AddProcessed("job", 2)
	})
}
