package sink

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
)

// Metrics counts committed lifecycle events.
type Metrics struct {
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	batchItems  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifecycle_events_total",
			Help: "Committed lifecycle events by audit action",
		}, []string{"action"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_transitions_total",
			Help: "Committed report status transitions",
		}, []string{"from", "to"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_items_total",
			Help: "Items processed by bulk operations by outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.events, m.transitions, m.batchItems)
	return m
}

func (m *Metrics) Emit(_ context.Context, evs []lifecycle.Event) {
	for _, ev := range evs {
		m.events.WithLabelValues(string(ev.Audit.Action)).Inc()
		if ev.ToStatus != "" && ev.FromStatus != ev.ToStatus {
			m.transitions.WithLabelValues(string(ev.FromStatus), string(ev.ToStatus)).Inc()
		}
		if ev.Audit.Action == models.ActionBulkOperation {
			m.batchItems.WithLabelValues("successful").Add(metaCount(ev.Audit.Metadata, "successful"))
			m.batchItems.WithLabelValues("failed").Add(metaCount(ev.Audit.Metadata, "failed"))
		}
	}
}

func metaCount(meta models.Metadata, key string) float64 {
	switch v := meta[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
