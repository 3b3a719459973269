package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"civic-issue-tracker/pkg/identity"
	"civic-issue-tracker/pkg/security"
	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
)

var forUpdate = clause.Locking{Strength: "UPDATE"}

// Postgres is the gorm-backed entity store. Reports read for mutation are
// row-locked until the transaction ends, and every save is additionally
// guarded by the version column.
type Postgres struct {
	db     *gorm.DB
	sealer *security.Sealer
}

// NewPostgres returns a store over db. When sealer is non-nil, classification
// notes of sensitive reports are encrypted at rest.
func NewPostgres(db *gorm.DB, sealer *security.Sealer) *Postgres {
	return &Postgres{db: db, sealer: sealer}
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(tx lifecycle.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return &lifecycle.StorageError{Op: "begin", Err: err}
	}

	var fnErr error
	err := p.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		fnErr = fn(&postgresTx{db: db, sealer: p.sealer})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return &lifecycle.StorageError{Op: "commit", Err: err}
	}
	return nil
}

type postgresTx struct {
	db     *gorm.DB
	sealer *security.Sealer
}

// Nested runs fn under a savepoint.
func (tx *postgresTx) Nested(ctx context.Context, fn func(tx lifecycle.Tx) error) error {
	var fnErr error
	err := tx.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		fnErr = fn(&postgresTx{db: db, sealer: tx.sealer})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return &lifecycle.StorageError{Op: "savepoint", Err: err}
	}
	return nil
}

func storageErr(op string, err error) error {
	return &lifecycle.StorageError{Op: op, Err: err}
}

func (tx *postgresTx) seal(r *models.Report) (string, error) {
	if tx.sealer == nil || !r.IsSensitive {
		return r.ClassificationNotes, nil
	}
	return tx.sealer.Seal(r.ClassificationNotes)
}

func (tx *postgresTx) open(r *models.Report) error {
	if tx.sealer == nil {
		return nil
	}
	notes, err := tx.sealer.Open(r.ClassificationNotes)
	if err != nil {
		return storageErr("open sealed notes", err)
	}
	r.ClassificationNotes = notes
	return nil
}

func (tx *postgresTx) CreateReport(ctx context.Context, r *models.Report) error {
	if r.Version == 0 {
		r.Version = 1
	}
	row := *r
	notes, err := tx.seal(r)
	if err != nil {
		return storageErr("seal notes", err)
	}
	row.ClassificationNotes = notes
	if err := tx.db.WithContext(ctx).Create(&row).Error; err != nil {
		return storageErr("create report", err)
	}
	r.ID = row.ID
	return nil
}

func (tx *postgresTx) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	var r models.Report
	err := tx.db.WithContext(ctx).Clauses(forUpdate).First(&r, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &lifecycle.NotFoundError{Resource: "report", ID: id}
	}
	if err != nil {
		return nil, storageErr("get report", err)
	}
	if err := tx.open(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReports locks rows in id order so that overlapping batches cannot
// deadlock each other.
func (tx *postgresTx) GetReports(ctx context.Context, ids []int64) (map[int64]*models.Report, error) {
	out := make(map[int64]*models.Report, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Report
	err := tx.db.WithContext(ctx).Clauses(forUpdate).
		Where("id IN ?", ids).Order("id").Find(&rows).Error
	if err != nil {
		return nil, storageErr("get reports", err)
	}
	for i := range rows {
		if err := tx.open(&rows[i]); err != nil {
			return nil, err
		}
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

func (tx *postgresTx) ListReports(ctx context.Context, f lifecycle.ReportFilter) ([]*models.Report, error) {
	q := tx.db.WithContext(ctx).Model(&models.Report{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.DepartmentID != nil {
		q = q.Where("department_id = ?", *f.DepartmentID)
	}
	if f.ReporterID != nil {
		q = q.Where("reporter_id = ?", *f.ReporterID)
	}
	if f.DeadlineLapse != nil {
		q = q.Where("sla_deadline < ?", *f.DeadlineLapse)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []models.Report
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, storageErr("list reports", err)
	}
	out := make([]*models.Report, 0, len(rows))
	for i := range rows {
		if err := tx.open(&rows[i]); err != nil {
			return nil, err
		}
		out = append(out, &rows[i])
	}
	return out, nil
}

func (tx *postgresTx) SaveReport(ctx context.Context, r *models.Report) error {
	next := *r
	next.Version = r.Version + 1
	notes, err := tx.seal(r)
	if err != nil {
		return storageErr("seal notes", err)
	}
	next.ClassificationNotes = notes

	res := tx.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND version = ?", r.ID, r.Version).
		Select("*").Omit("id", "created_at").
		Updates(&next)
	if res.Error != nil {
		return storageErr("save report", res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := tx.db.WithContext(ctx).Model(&models.Report{}).Where("id = ?", r.ID).Count(&n).Error; err != nil {
			return storageErr("save report", err)
		}
		if n == 0 {
			return &lifecycle.NotFoundError{Resource: "report", ID: r.ID}
		}
		return &lifecycle.ConflictError{Resource: "report", ID: r.ID}
	}
	r.Version = next.Version
	return nil
}

func (tx *postgresTx) GetTask(ctx context.Context, reportID int64) (*models.Task, error) {
	var t models.Task
	err := tx.db.WithContext(ctx).Clauses(forUpdate).Where("report_id = ?", reportID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get task", err)
	}
	return &t, nil
}

func (tx *postgresTx) SaveTask(ctx context.Context, t *models.Task) error {
	db := tx.db.WithContext(ctx)
	var err error
	if t.ID == 0 {
		err = db.Create(t).Error
	} else {
		err = db.Save(t).Error
	}
	if err != nil {
		return storageErr("save task", err)
	}
	return nil
}

func (tx *postgresTx) AppendHistory(ctx context.Context, h *models.StatusHistoryEntry) error {
	if err := tx.db.WithContext(ctx).Create(h).Error; err != nil {
		return storageErr("append history", err)
	}
	return nil
}

func (tx *postgresTx) ListHistory(ctx context.Context, reportID int64) ([]models.StatusHistoryEntry, error) {
	var out []models.StatusHistoryEntry
	err := tx.db.WithContext(ctx).Where("report_id = ?", reportID).
		Order("changed_at, id").Find(&out).Error
	if err != nil {
		return nil, storageErr("list history", err)
	}
	return out, nil
}

func (tx *postgresTx) AppendAudit(ctx context.Context, a *models.AuditEntry) error {
	if err := tx.db.WithContext(ctx).Create(a).Error; err != nil {
		return storageErr("append audit", err)
	}
	return nil
}

func (tx *postgresTx) ListAudit(ctx context.Context, reportID int64) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := tx.db.WithContext(ctx).Where("report_id = ?", reportID).Order("id").Find(&out).Error
	if err != nil {
		return nil, storageErr("list audit", err)
	}
	return out, nil
}

func (tx *postgresTx) CreateAppeal(ctx context.Context, a *models.Appeal) error {
	if err := tx.db.WithContext(ctx).Create(a).Error; err != nil {
		return storageErr("create appeal", err)
	}
	return nil
}

func (tx *postgresTx) GetAppeal(ctx context.Context, id int64) (*models.Appeal, error) {
	var a models.Appeal
	err := tx.db.WithContext(ctx).Clauses(forUpdate).First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &lifecycle.NotFoundError{Resource: "appeal", ID: id}
	}
	if err != nil {
		return nil, storageErr("get appeal", err)
	}
	return &a, nil
}

func (tx *postgresTx) SaveAppeal(ctx context.Context, a *models.Appeal) error {
	if err := tx.db.WithContext(ctx).Save(a).Error; err != nil {
		return storageErr("save appeal", err)
	}
	return nil
}

func (tx *postgresTx) ListAppeals(ctx context.Context, reportID int64) ([]models.Appeal, error) {
	var out []models.Appeal
	if err := tx.db.WithContext(ctx).Where("report_id = ?", reportID).Order("id").Find(&out).Error; err != nil {
		return nil, storageErr("list appeals", err)
	}
	return out, nil
}

func (tx *postgresTx) CountOpenAppeals(ctx context.Context, reportID int64) (int, error) {
	var n int64
	err := tx.db.WithContext(ctx).Model(&models.Appeal{}).
		Where("report_id = ? AND status IN ?", reportID, models.OpenAppealStatuses).
		Count(&n).Error
	if err != nil {
		return 0, storageErr("count open appeals", err)
	}
	return int(n), nil
}

func (tx *postgresTx) AppendAppealHistory(ctx context.Context, h *models.AppealHistoryEntry) error {
	if err := tx.db.WithContext(ctx).Create(h).Error; err != nil {
		return storageErr("append appeal history", err)
	}
	return nil
}

func (tx *postgresTx) ListAppealHistory(ctx context.Context, appealID int64) ([]models.AppealHistoryEntry, error) {
	var out []models.AppealHistoryEntry
	err := tx.db.WithContext(ctx).Where("appeal_id = ?", appealID).Order("changed_at, id").Find(&out).Error
	if err != nil {
		return nil, storageErr("list appeal history", err)
	}
	return out, nil
}

func (tx *postgresTx) CreateEscalation(ctx context.Context, e *models.Escalation) error {
	if err := tx.db.WithContext(ctx).Create(e).Error; err != nil {
		return storageErr("create escalation", err)
	}
	return nil
}

func (tx *postgresTx) GetEscalation(ctx context.Context, id int64) (*models.Escalation, error) {
	var e models.Escalation
	err := tx.db.WithContext(ctx).Clauses(forUpdate).First(&e, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &lifecycle.NotFoundError{Resource: "escalation", ID: id}
	}
	if err != nil {
		return nil, storageErr("get escalation", err)
	}
	return &e, nil
}

func (tx *postgresTx) SaveEscalation(ctx context.Context, e *models.Escalation) error {
	if err := tx.db.WithContext(ctx).Save(e).Error; err != nil {
		return storageErr("save escalation", err)
	}
	return nil
}

func (tx *postgresTx) ListEscalations(ctx context.Context, reportID int64) ([]models.Escalation, error) {
	var out []models.Escalation
	if err := tx.db.WithContext(ctx).Where("report_id = ?", reportID).Order("id").Find(&out).Error; err != nil {
		return nil, storageErr("list escalations", err)
	}
	return out, nil
}

func (tx *postgresTx) ActiveEscalation(ctx context.Context, reportID int64) (*models.Escalation, error) {
	var e models.Escalation
	err := tx.db.WithContext(ctx).
		Where("report_id = ? AND status IN ?", reportID, models.ActiveEscalationStatuses).
		Order("id").First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("active escalation", err)
	}
	return &e, nil
}

func (tx *postgresTx) AppendEscalationHistory(ctx context.Context, h *models.EscalationHistoryEntry) error {
	if err := tx.db.WithContext(ctx).Create(h).Error; err != nil {
		return storageErr("append escalation history", err)
	}
	return nil
}

func (tx *postgresTx) ListEscalationHistory(ctx context.Context, escalationID int64) ([]models.EscalationHistoryEntry, error) {
	var out []models.EscalationHistoryEntry
	err := tx.db.WithContext(ctx).Where("escalation_id = ?", escalationID).Order("changed_at, id").Find(&out).Error
	if err != nil {
		return nil, storageErr("list escalation history", err)
	}
	return out, nil
}

// DefaultDepartments are seeded by Migrate. Codes match the dispatcher's
// category routing table.
var DefaultDepartments = []models.Department{
	{Code: "general", Name: "General Affairs"},
	{Code: "kebersihan", Name: "Sanitation"},
	{Code: "pekerjaan_umum", Name: "Public Works"},
	{Code: "penerangan", Name: "Street Lighting"},
	{Code: "lingkungan_hidup", Name: "Environment"},
	{Code: "perhubungan", Name: "Transportation"},
	{Code: "ketertiban", Name: "Public Order"},
}

// Migrate creates or updates every table the report service owns and seeds
// the department list. The users table belongs to the auth service but is
// migrated here as well so either service can start first.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&identity.User{},
		&models.Department{},
		&models.Report{},
		&models.Task{},
		&models.StatusHistoryEntry{},
		&models.AuditEntry{},
		&models.Appeal{},
		&models.AppealHistoryEntry{},
		&models.Escalation{},
		&models.EscalationHistoryEntry{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	for _, d := range DefaultDepartments {
		err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
			Create(&d).Error
		if err != nil {
			return fmt.Errorf("seed department %s: %w", d.Code, err)
		}
	}
	return nil
}
