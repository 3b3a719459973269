package models

import (
	"fmt"
	"time"
)

// EscalationLevel is an ordered tier; it only rises through an explicit action.
type EscalationLevel int

const (
	EscalationLevel1 EscalationLevel = 1
	EscalationLevel2 EscalationLevel = 2
	EscalationLevel3 EscalationLevel = 3

	MaxEscalationLevel = EscalationLevel3
)

func (l EscalationLevel) IsValid() bool {
	return l >= EscalationLevel1 && l <= MaxEscalationLevel
}

func (l EscalationLevel) String() string {
	return fmt.Sprintf("level_%d", int(l))
}

// SLAWindow is the default response window granted at each level.
func (l EscalationLevel) SLAWindow() time.Duration {
	switch l {
	case EscalationLevel1:
		return 48 * time.Hour
	case EscalationLevel2:
		return 24 * time.Hour
	default:
		return 8 * time.Hour
	}
}

type EscalationStatus string

const (
	EscalationEscalated    EscalationStatus = "escalated"
	EscalationAcknowledged EscalationStatus = "acknowledged"
	EscalationUnderReview  EscalationStatus = "under_review"
	EscalationActionTaken  EscalationStatus = "action_taken"
	EscalationResolved     EscalationStatus = "resolved"
	EscalationDeEscalated  EscalationStatus = "de_escalated"
)

func (s EscalationStatus) IsValid() bool {
	switch s {
	case EscalationEscalated, EscalationAcknowledged, EscalationUnderReview,
		EscalationActionTaken, EscalationResolved, EscalationDeEscalated:
		return true
	}
	return false
}

func (s EscalationStatus) IsTerminal() bool {
	return s == EscalationResolved || s == EscalationDeEscalated
}

// ActiveEscalationStatuses are the non-terminal escalation states.
var ActiveEscalationStatuses = []EscalationStatus{
	EscalationEscalated, EscalationAcknowledged, EscalationUnderReview, EscalationActionTaken,
}

type Escalation struct {
	ID              int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportID        int64            `gorm:"index;not null" json:"report_id"`
	Level           EscalationLevel  `gorm:"not null" json:"level"`
	Status          EscalationStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Reason          string           `gorm:"type:text" json:"reason"`
	RaisedBy        *int64           `json:"raised_by"`
	SLADeadline     time.Time        `gorm:"column:sla_deadline;not null" json:"sla_deadline"`
	ResolutionNotes string           `gorm:"type:text" json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt       time.Time        `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime:false" json:"updated_at"`

	IsOverdue bool `gorm:"-" json:"is_overdue"`
}

// Overdue is computed from the stored deadline; it is never persisted.
func (e *Escalation) Overdue(now time.Time) bool {
	return !e.Status.IsTerminal() && now.After(e.SLADeadline)
}

type EscalationHistoryEntry struct {
	ID           int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	EscalationID int64             `gorm:"index;not null" json:"escalation_id"`
	OldStatus    *EscalationStatus `gorm:"type:varchar(16)" json:"old_status"`
	NewStatus    EscalationStatus  `gorm:"type:varchar(16);not null" json:"new_status"`
	OldLevel     EscalationLevel   `json:"old_level"`
	NewLevel     EscalationLevel   `json:"new_level"`
	ChangedBy    *int64            `json:"changed_by"`
	Notes        string            `gorm:"type:text" json:"notes,omitempty"`
	ChangedAt    time.Time         `gorm:"not null" json:"changed_at"`
}

func (EscalationHistoryEntry) TableName() string {
	return "escalation_status_history"
}
