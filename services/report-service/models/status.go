package models

import "time"

// Status is the lifecycle state of a Report.
type Status string

const (
	StatusReceived              Status = "RECEIVED"
	StatusPendingClassification Status = "PENDING_CLASSIFICATION"
	StatusClassified            Status = "CLASSIFIED"
	StatusAssignedToDepartment  Status = "ASSIGNED_TO_DEPARTMENT"
	StatusAssignedToOfficer     Status = "ASSIGNED_TO_OFFICER"
	StatusAcknowledged          Status = "ACKNOWLEDGED"
	StatusInProgress            Status = "IN_PROGRESS"
	StatusPendingVerification   Status = "PENDING_VERIFICATION"
	StatusResolved              Status = "RESOLVED"
	StatusReopened              Status = "REOPENED"
	StatusClosed                Status = "CLOSED"
	StatusRejected              Status = "REJECTED"
	StatusOnHold                Status = "ON_HOLD"
	StatusDuplicate             Status = "DUPLICATE"
)

var allStatuses = []Status{
	StatusReceived,
	StatusPendingClassification,
	StatusClassified,
	StatusAssignedToDepartment,
	StatusAssignedToOfficer,
	StatusAcknowledged,
	StatusInProgress,
	StatusPendingVerification,
	StatusResolved,
	StatusReopened,
	StatusClosed,
	StatusRejected,
	StatusOnHold,
	StatusDuplicate,
}

// AllStatuses returns every report status in declaration order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) IsValid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether ordinary operator transitions out of s are closed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusResolved, StatusClosed, StatusRejected, StatusDuplicate:
		return true
	}
	return false
}

// Severity drives SLA targets and task priority. It is not a lifecycle state.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SLATarget is the resolution window granted to a report of this severity.
func (s Severity) SLATarget() time.Duration {
	switch s {
	case SeverityCritical:
		return 24 * time.Hour
	case SeverityHigh:
		return 72 * time.Hour
	case SeverityMedium:
		return 7 * 24 * time.Hour
	default:
		return 14 * 24 * time.Hour
	}
}

// Priority maps severity onto the task priority scale (1 lowest).
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
