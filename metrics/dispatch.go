// Package metrics exports dispatch outcomes to Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
)

// DispatchMetrics implements dispatch.Observer on Prometheus collectors.
// A nil or unregistered DispatchMetrics is a no-op.
type DispatchMetrics struct {
	claims        *prometheus.CounterVec
	sendFailures  *prometheus.CounterVec
	batchOutcomes *prometheus.CounterVec
	batchSize     *prometheus.HistogramVec
	alertsCreated *prometheus.CounterVec
	alertsDeleted prometheus.Counter
}

var _ dispatch.Observer = (*DispatchMetrics)(nil)

// NewDispatchMetrics registers the dispatch metrics on the provided registerer.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_claims_total",
		Help: "Claim attempts by trigger and outcome.",
	}, []string{"trigger", "outcome"})
	sendFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_send_failures_total",
		Help: "Notifier failures after a successful claim.",
	}, []string{"trigger"})
	batchOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_batch_outcomes_total",
		Help: "Candidate outcomes summed over dispatch batches.",
	}, []string{"trigger", "outcome"})
	batchSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_batch_candidates",
		Help:    "Candidates per dispatch batch.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"trigger"})
	alertsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_alerts_created_total",
		Help: "Alerts created by subject type.",
	}, []string{"subject"})
	alertsDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_alerts_deleted_total",
		Help: "Alerts deleted or unsubscribed.",
	})
	reg.MustRegister(claims, sendFailures, batchOutcomes, batchSize, alertsCreated, alertsDeleted)
	return &DispatchMetrics{
		claims:        claims,
		sendFailures:  sendFailures,
		batchOutcomes: batchOutcomes,
		batchSize:     batchSize,
		alertsCreated: alertsCreated,
		alertsDeleted: alertsDeleted,
	}
}

// AlertCreated counts a new alert.
func (m *DispatchMetrics) AlertCreated(_ context.Context, alert model.Alert) error {
	if m == nil || m.alertsCreated == nil {
		return nil
	}
	m.alertsCreated.WithLabelValues(normalizeLabel(string(alert.SubjectType))).Inc()
	return nil
}

// AlertDeleted counts a removed alert.
func (m *DispatchMetrics) AlertDeleted(_ context.Context, _ int64) error {
	if m == nil || m.alertsDeleted == nil {
		return nil
	}
	m.alertsDeleted.Inc()
	return nil
}

// ClaimResolved counts a claim outcome.
func (m *DispatchMetrics) ClaimResolved(_ context.Context, trigger string, result model.ClaimResult) error {
	if m == nil || m.claims == nil {
		return nil
	}
	m.claims.WithLabelValues(normalizeLabel(trigger), result.String()).Inc()
	return nil
}

// SendFailed counts a transport failure.
func (m *DispatchMetrics) SendFailed(_ context.Context, trigger, _ string, _ error) error {
	if m == nil || m.sendFailures == nil {
		return nil
	}
	m.sendFailures.WithLabelValues(normalizeLabel(trigger)).Inc()
	return nil
}

// BatchCompleted adds the batch counters and records the batch size.
func (m *DispatchMetrics) BatchCompleted(_ context.Context, trigger string, result dispatch.BatchResult) error {
	if m == nil || m.batchOutcomes == nil {
		return nil
	}
	trigger = normalizeLabel(trigger)
	m.batchSize.WithLabelValues(trigger).Observe(float64(result.Candidates))

	for outcome, n := range map[string]int{
		"sent":              result.Sent,
		"skipped_raced":     result.SkippedRaced,
		"skipped_stale":     result.SkippedStale,
		"failed_transport":  result.FailedTransport,
		"failed_validation": result.FailedValidation,
		"failed_storage":    result.FailedStorage,
		"cancelled":         result.Cancelled,
		"deferred":          result.Deferred,
	} {
		if n > 0 {
			m.batchOutcomes.WithLabelValues(trigger, outcome).Add(float64(n))
		}
	}
	return nil
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
