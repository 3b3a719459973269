package models

import "time"

type AppealStatus string

const (
	AppealSubmitted   AppealStatus = "submitted"
	AppealUnderReview AppealStatus = "under_review"
	AppealApproved    AppealStatus = "approved"
	AppealRejected    AppealStatus = "rejected"
	AppealWithdrawn   AppealStatus = "withdrawn"
)

func (s AppealStatus) IsValid() bool {
	switch s {
	case AppealSubmitted, AppealUnderReview, AppealApproved, AppealRejected, AppealWithdrawn:
		return true
	}
	return false
}

func (s AppealStatus) IsTerminal() bool {
	return s == AppealApproved || s == AppealRejected || s == AppealWithdrawn
}

// OpenAppealStatuses are the non-terminal appeal states.
var OpenAppealStatuses = []AppealStatus{AppealSubmitted, AppealUnderReview}

// AppealKind is what the appeal objects to.
type AppealKind string

const (
	AppealClassification AppealKind = "classification"
	AppealAssignment     AppealKind = "assignment"
	AppealResolution     AppealKind = "resolution"
)

func (k AppealKind) IsValid() bool {
	return k == AppealClassification || k == AppealAssignment || k == AppealResolution
}

type Appeal struct {
	ID             int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportID       int64        `gorm:"index;not null" json:"report_id"`
	Kind           AppealKind   `gorm:"type:varchar(32);not null" json:"kind"`
	Reason         string       `gorm:"type:text;not null" json:"reason"`
	RequiresRework bool         `gorm:"not null;default:false" json:"requires_rework"`
	Status         AppealStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	SubmittedBy    int64        `gorm:"not null" json:"submitted_by"`
	ReviewedBy     *int64       `json:"reviewed_by,omitempty"`
	ReviewNotes    string       `gorm:"type:text" json:"review_notes,omitempty"`
	EvidenceURLs   []string     `gorm:"column:evidence_urls;type:jsonb;serializer:json" json:"evidence_urls,omitempty"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	CreatedAt      time.Time    `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"autoUpdateTime:false" json:"updated_at"`
}

type AppealHistoryEntry struct {
	ID        int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	AppealID  int64         `gorm:"index;not null" json:"appeal_id"`
	OldStatus *AppealStatus `gorm:"type:varchar(16)" json:"old_status"`
	NewStatus AppealStatus  `gorm:"type:varchar(16);not null" json:"new_status"`
	ChangedBy *int64        `json:"changed_by"`
	Notes     string        `gorm:"type:text" json:"notes,omitempty"`
	ChangedAt time.Time     `gorm:"not null" json:"changed_at"`
}

func (AppealHistoryEntry) TableName() string {
	return "appeal_status_history"
}
