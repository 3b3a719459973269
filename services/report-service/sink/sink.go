// Package sink delivers committed lifecycle events to the systems outside
// the entity store: the message broker, the audit archive, metrics and logs.
package sink

import (
	"context"

	"github.com/google/uuid"

	"civic-issue-tracker/pkg/events"
	"civic-issue-tracker/services/report-service/lifecycle"
)

// Multi fans every batch out to each sink in order.
type Multi []lifecycle.Sink

func (m Multi) Emit(ctx context.Context, evs []lifecycle.Event) {
	for _, s := range m {
		s.Emit(ctx, evs)
	}
}

// ToWire converts an engine event into the published wire form.
func ToWire(ev lifecycle.Event) events.LifecycleEvent {
	a := ev.Audit
	return events.LifecycleEvent{
		ID:           uuid.NewString(),
		Action:       string(a.Action),
		ResourceType: a.ResourceType,
		ResourceID:   a.ResourceID,
		ReportID:     a.ReportID,
		ReportNumber: ev.ReportNumber,
		ReporterID:   ev.ReporterID,
		OfficerID:    ev.OfficerID,
		DepartmentID: ev.DepartmentID,
		Category:     ev.Category,
		FromStatus:   string(ev.FromStatus),
		ToStatus:     string(ev.ToStatus),
		ActorID:      a.ActorID,
		Metadata:     a.Metadata,
		OccurredAt:   a.CreatedAt,
	}
}
