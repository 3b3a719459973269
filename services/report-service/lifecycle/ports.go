package lifecycle

import (
	"context"
	"time"

	"civic-issue-tracker/services/report-service/models"
)

// SystemActor is the actor id used for automated changes. It is persisted as
// a NULL actor reference.
const SystemActor int64 = 0

// Store opens transactions against the entity store. Every engine operation
// runs inside exactly one RunInTx call.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view of every entity the engine touches.
// Implementations must lock or version-check a report between GetReport and
// SaveReport so that concurrent writers to the same report serialize.
type Tx interface {
	ReportRepository
	TaskRepository
	HistoryRepository
	AppealRepository
	EscalationRepository

	// Nested runs fn in a sub-unit whose writes are discarded if fn fails
	// and folded into the enclosing transaction otherwise.
	Nested(ctx context.Context, fn func(tx Tx) error) error
}

type ReportFilter struct {
	Statuses      []models.Status
	DepartmentID  *int64
	ReporterID    *int64
	DeadlineLapse *time.Time // SLA deadline strictly before this instant
	Limit         int
}

type ReportRepository interface {
	CreateReport(ctx context.Context, r *models.Report) error
	// GetReport returns a *NotFoundError when id does not exist.
	GetReport(ctx context.Context, id int64) (*models.Report, error)
	// GetReports resolves ids in one read. Missing ids are absent from the map.
	GetReports(ctx context.Context, ids []int64) (map[int64]*models.Report, error)
	ListReports(ctx context.Context, f ReportFilter) ([]*models.Report, error)
	// SaveReport writes r if its Version still matches the stored row and
	// increments r.Version. A mismatch yields a *ConflictError.
	SaveReport(ctx context.Context, r *models.Report) error
}

type TaskRepository interface {
	// GetTask returns nil without error when the report has no task yet.
	GetTask(ctx context.Context, reportID int64) (*models.Task, error)
	SaveTask(ctx context.Context, t *models.Task) error
}

type HistoryRepository interface {
	AppendHistory(ctx context.Context, h *models.StatusHistoryEntry) error
	ListHistory(ctx context.Context, reportID int64) ([]models.StatusHistoryEntry, error)
	AppendAudit(ctx context.Context, a *models.AuditEntry) error
	ListAudit(ctx context.Context, reportID int64) ([]models.AuditEntry, error)
}

type AppealRepository interface {
	CreateAppeal(ctx context.Context, a *models.Appeal) error
	GetAppeal(ctx context.Context, id int64) (*models.Appeal, error)
	SaveAppeal(ctx context.Context, a *models.Appeal) error
	ListAppeals(ctx context.Context, reportID int64) ([]models.Appeal, error)
	CountOpenAppeals(ctx context.Context, reportID int64) (int, error)
	AppendAppealHistory(ctx context.Context, h *models.AppealHistoryEntry) error
	ListAppealHistory(ctx context.Context, appealID int64) ([]models.AppealHistoryEntry, error)
}

type EscalationRepository interface {
	CreateEscalation(ctx context.Context, e *models.Escalation) error
	GetEscalation(ctx context.Context, id int64) (*models.Escalation, error)
	SaveEscalation(ctx context.Context, e *models.Escalation) error
	ListEscalations(ctx context.Context, reportID int64) ([]models.Escalation, error)
	// ActiveEscalation returns nil without error when none is open.
	ActiveEscalation(ctx context.Context, reportID int64) (*models.Escalation, error)
	AppendEscalationHistory(ctx context.Context, h *models.EscalationHistoryEntry) error
	ListEscalationHistory(ctx context.Context, escalationID int64) ([]models.EscalationHistoryEntry, error)
}

// Directory answers identity questions the engine cannot answer from its own
// entities.
type Directory interface {
	DepartmentExists(ctx context.Context, id int64) (bool, error)
	IsOfficer(ctx context.Context, userID int64) (bool, error)
}

// Event is an audit entry plus the report context downstream consumers route
// on. Events reach the Sink only after their transaction committed.
type Event struct {
	Audit        models.AuditEntry
	ReportNumber string
	ReporterID   int64
	OfficerID    *int64
	DepartmentID *int64
	Category     string
	FromStatus   models.Status
	ToStatus     models.Status
}

// Sink receives committed events. Implementations handle their own failures;
// a sink can never roll back a committed operation.
type Sink interface {
	Emit(ctx context.Context, events []Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, []Event) {}
