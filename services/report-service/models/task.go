package models

import "time"

// TaskStatus tracks the officer-side view of the work, independent of Report.Status.
type TaskStatus string

const (
	TaskAssigned     TaskStatus = "assigned"
	TaskAcknowledged TaskStatus = "acknowledged"
	TaskInProgress   TaskStatus = "in_progress"
	TaskResolved     TaskStatus = "resolved"
)

// Task is field-officer work attached to a Report. It is created on the first
// officer assignment and never recreated for the same report.
type Task struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportID   int64      `gorm:"uniqueIndex;not null" json:"report_id"`
	OfficerID  *int64     `gorm:"index" json:"officer_id,omitempty"`
	AssignedBy *int64     `json:"assigned_by,omitempty"`
	Priority   int        `gorm:"not null;default:1" json:"priority"`
	Status     TaskStatus `gorm:"type:varchar(16);not null" json:"status"`
	Notes      string     `gorm:"type:text" json:"notes,omitempty"`

	AssignedAt     time.Time  `json:"assigned_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (t *Task) HasOfficer() bool {
	return t != nil && t.OfficerID != nil
}

// AssignedTo reports whether officerID is the task's current assignee.
func (t *Task) AssignedTo(officerID int64) bool {
	return t.HasOfficer() && *t.OfficerID == officerID
}
