// Package events defines the lifecycle event published on the reports
// exchange and read by the dispatcher and notification services.
package events

import (
	"strings"
	"time"
)

// Exchange is the topic exchange every lifecycle event is published on.
const Exchange = "reports"

// Routing keys the consumers bind to. Every audit action is also its own
// routing key, so "report.#" matches all report-level events.
const (
	KeyReportCreated = "report.created"
	KeyAllReports    = "report.#"
	KeyAllAppeals    = "appeal.#"
	KeyAllEscalation = "escalation.#"
)

type LifecycleEvent struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   int64          `json:"resource_id"`
	ReportID     *int64         `json:"report_id,omitempty"`
	ReportNumber string         `json:"report_number,omitempty"`
	ReporterID   int64          `json:"reporter_id,omitempty"`
	OfficerID    *int64         `json:"officer_id,omitempty"`
	DepartmentID *int64         `json:"department_id,omitempty"`
	Category     string         `json:"category,omitempty"`
	FromStatus   string         `json:"from_status,omitempty"`
	ToStatus     string         `json:"to_status,omitempty"`
	ActorID      *int64         `json:"actor_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// RoutingKey is the key the event is published under.
func (e LifecycleEvent) RoutingKey() string {
	return e.Action
}

// StatusChanged reports whether the event moved the report to a new status.
func (e LifecycleEvent) StatusChanged() bool {
	return e.ToStatus != "" && e.FromStatus != e.ToStatus
}

// Domain returns the resource family of the action ("report", "appeal",
// "escalation").
func (e LifecycleEvent) Domain() string {
	domain, _, _ := strings.Cut(e.Action, ".")
	return domain
}
