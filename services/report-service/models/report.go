package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Report struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportNumber string `gorm:"uniqueIndex;size:32;not null" json:"report_number"`
	Title        string `gorm:"not null" json:"title"`
	Description  string `gorm:"type:text" json:"description"`
	Location     string `json:"location,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	ReporterID   int64  `gorm:"index;not null" json:"reporter_id"`

	Status   Status   `gorm:"type:varchar(32);index;not null" json:"status"`
	Severity Severity `gorm:"type:varchar(16);not null" json:"severity"`

	Category            string `json:"category,omitempty"`
	SubCategory         string `json:"sub_category,omitempty"`
	ClassificationNotes string `gorm:"type:text" json:"classification_notes,omitempty"`
	ClassifiedBy        *int64 `json:"classified_by,omitempty"`

	DepartmentID *int64 `gorm:"index" json:"department_id,omitempty"`

	NeedsReview   bool   `gorm:"not null;default:false" json:"needs_review"`
	IsDuplicate   bool   `gorm:"not null;default:false" json:"is_duplicate"`
	DuplicateOfID *int64 `json:"duplicate_of_id,omitempty"`
	// IsSensitive reports have their classification notes sealed at rest.
	IsSensitive bool `gorm:"not null;default:false" json:"is_sensitive"`

	SLADeadline time.Time `gorm:"column:sla_deadline;index" json:"sla_deadline"`
	// Version backs optimistic concurrency checks on every save.
	Version int64 `gorm:"not null;default:1" json:"version"`

	CreatedAt       time.Time `gorm:"autoCreateTime:false;not null" json:"created_at"`
	StatusUpdatedAt time.Time `gorm:"not null" json:"status_updated_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false;not null" json:"updated_at"`

	Task      *Task `gorm:"-" json:"task,omitempty"`
	IsOverdue bool  `gorm:"-" json:"is_overdue"`
}

// Overdue is derived from the SLA deadline at read time and never stored.
func (r *Report) Overdue(now time.Time) bool {
	if r.Status.IsTerminal() || r.SLADeadline.IsZero() {
		return false
	}
	return now.After(r.SLADeadline)
}

// NewReportNumber builds a human-readable, never reused report number.
func NewReportNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "RPT-" + now.UTC().Format("20060102") + "-" + suffix
}

type Department struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code      string    `gorm:"uniqueIndex;size:64;not null" json:"code"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
