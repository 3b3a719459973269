package models

import "time"

// StatusHistoryEntry is an append-only record of one report status change.
// OldStatus is nil only for the creation entry.
type StatusHistoryEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportID  int64     `gorm:"index:idx_history_report_changed,priority:1;not null" json:"report_id"`
	OldStatus *Status   `gorm:"type:varchar(32)" json:"old_status"`
	NewStatus Status    `gorm:"type:varchar(32);not null" json:"new_status"`
	ChangedBy *int64    `json:"changed_by"`
	Notes     string    `gorm:"type:text" json:"notes,omitempty"`
	ChangedAt time.Time `gorm:"index:idx_history_report_changed,priority:2;not null" json:"changed_at"`
}

func (StatusHistoryEntry) TableName() string {
	return "report_status_history"
}

type AuditAction string

const (
	ActionReportCreated          AuditAction = "report.created"
	ActionReportClassified       AuditAction = "report.classified"
	ActionDepartmentAssigned     AuditAction = "report.department_assigned"
	ActionOfficerAssigned        AuditAction = "report.officer_assigned"
	ActionStatusChanged          AuditAction = "report.status_changed"
	ActionReportAcknowledged     AuditAction = "report.acknowledged"
	ActionWorkStarted            AuditAction = "report.work_started"
	ActionSeverityChanged        AuditAction = "report.severity_changed"
	ActionMarkedDuplicate        AuditAction = "report.marked_duplicate"
	ActionBulkOperation          AuditAction = "report.bulk_operation"
	ActionAppealSubmitted        AuditAction = "appeal.submitted"
	ActionAppealReviewed         AuditAction = "appeal.reviewed"
	ActionAppealWithdrawn        AuditAction = "appeal.withdrawn"
	ActionEscalationCreated      AuditAction = "escalation.created"
	ActionEscalationUpdated      AuditAction = "escalation.updated"
	ActionEscalationRaised       AuditAction = "escalation.raised"
	ActionEscalationAcknowledged AuditAction = "escalation.acknowledged"
)

const (
	ResourceReport      = "report"
	ResourceReportBatch = "report_batch"
	ResourceAppeal      = "appeal"
	ResourceEscalation  = "escalation"
)

// Metadata is operation-specific structured audit detail.
type Metadata map[string]any

// AuditEntry is append-only and covers every engine mutation. Bulk operations
// produce one entry per batch.
type AuditEntry struct {
	ID           int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	Action       AuditAction `gorm:"type:varchar(64);index;not null" json:"action"`
	ActorID      *int64      `json:"actor_id"`
	ResourceType string      `gorm:"type:varchar(32);not null" json:"resource_type"`
	ResourceID   int64       `json:"resource_id"`
	ReportID     *int64      `gorm:"index" json:"report_id,omitempty"`
	Metadata     Metadata    `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
	CreatedAt    time.Time   `gorm:"autoCreateTime:false;index;not null" json:"created_at"`
}

func (AuditEntry) TableName() string {
	return "audit_entries"
}
