package lifecycle

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"civic-issue-tracker/services/report-service/models"
)

const (
	DefaultBatchLimit     = 100
	DefaultErrorListLimit = 20
)

type Config struct {
	BatchLimit     int
	ErrorListLimit int
}

func DefaultConfig() Config {
	return Config{BatchLimit: DefaultBatchLimit, ErrorListLimit: DefaultErrorListLimit}
}

// Engine runs every report, appeal and escalation mutation. It holds no
// per-report state between calls; every operation re-reads inside its own
// transaction.
type Engine struct {
	Store     Store
	Directory Directory
	Sink      Sink
	Config    Config
	Logger    *zap.Logger
	Now       func() time.Time
}

func New(store Store, dir Directory, sink Sink, cfg Config, logger *zap.Logger) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.ErrorListLimit <= 0 {
		cfg.ErrorListLimit = DefaultErrorListLimit
	}
	return &Engine{
		Store:     store,
		Directory: dir,
		Sink:      sink,
		Config:    cfg,
		Logger:    logger,
		Now:       time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// unit collects the writes of one operation. Events are held back until the
// enclosing transaction has committed.
type unit struct {
	tx     Tx
	now    time.Time
	actor  int64
	events []Event
}

func actorRef(id int64) *int64 {
	if id == SystemActor {
		return nil
	}
	return &id
}

func (e *Engine) run(ctx context.Context, actorID int64, fn func(u *unit) error) error {
	var u *unit
	err := e.Store.RunInTx(ctx, func(tx Tx) error {
		u = &unit{tx: tx, now: e.now(), actor: actorID}
		return fn(u)
	})
	if err != nil {
		return err
	}
	e.emit(ctx, u.events)
	return nil
}

func (e *Engine) emit(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	e.Sink.Emit(ctx, events)
}

func (u *unit) audit(ctx context.Context, entry models.AuditEntry, ev Event) error {
	entry.ActorID = actorRef(u.actor)
	entry.CreatedAt = u.now
	if err := u.tx.AppendAudit(ctx, &entry); err != nil {
		return err
	}
	ev.Audit = entry
	u.events = append(u.events, ev)
	return nil
}

// auditReport appends the single audit entry of a report operation.
func (u *unit) auditReport(ctx context.Context, w *workItem, action models.AuditAction, meta models.Metadata) error {
	id := w.report.ID
	if meta == nil {
		meta = models.Metadata{}
	}
	if w.report.Status != w.from {
		meta["from_status"] = w.from
		meta["to_status"] = w.report.Status
	}
	entry := models.AuditEntry{
		Action:       action,
		ResourceType: models.ResourceReport,
		ResourceID:   id,
		ReportID:     &id,
		Metadata:     meta,
	}
	return u.audit(ctx, entry, w.event())
}

// workItem is one report loaded for mutation together with its task.
type workItem struct {
	report    *models.Report
	task      *models.Task
	taskDirty bool
	from      models.Status
}

func (w *workItem) event() Event {
	ev := Event{
		ReportNumber: w.report.ReportNumber,
		ReporterID:   w.report.ReporterID,
		DepartmentID: w.report.DepartmentID,
		Category:     w.report.Category,
		FromStatus:   w.from,
		ToStatus:     w.report.Status,
	}
	if w.task.HasOfficer() {
		officer := *w.task.OfficerID
		ev.OfficerID = &officer
	}
	return ev
}

func (e *Engine) load(ctx context.Context, tx Tx, reportID int64) (*workItem, error) {
	r, err := tx.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return e.attach(ctx, tx, r)
}

func (e *Engine) attach(ctx context.Context, tx Tx, r *models.Report) (*workItem, error) {
	task, err := tx.GetTask(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return &workItem{report: r, task: task, from: r.Status}, nil
}

func (e *Engine) save(ctx context.Context, u *unit, w *workItem) error {
	if w.taskDirty {
		if err := u.tx.SaveTask(ctx, w.task); err != nil {
			return err
		}
		w.taskDirty = false
	}
	w.report.UpdatedAt = u.now
	return u.tx.SaveReport(ctx, w.report)
}

// present returns a detached copy of the report with its task and derived
// fields filled in.
func (e *Engine) present(w *workItem) *models.Report {
	r := *w.report
	if w.task != nil {
		t := *w.task
		r.Task = &t
	}
	r.IsOverdue = r.Overdue(e.now())
	return &r
}

// transition validates and applies one status change on w, writing its
// history row. The caller saves w.
func (e *Engine) transition(ctx context.Context, u *unit, w *workItem, to models.Status, origin Origin, notes string) error {
	from := w.report.Status
	tc := TransitionContext{
		Origin:        origin,
		HasDepartment: w.report.DepartmentID != nil,
		HasOfficer:    w.task.HasOfficer(),
	}
	if from == models.StatusResolved && to == models.StatusClosed {
		open, err := u.tx.CountOpenAppeals(ctx, w.report.ID)
		if err != nil {
			return err
		}
		tc.OpenAppeals = open
	}
	if err := ValidateTransition(from, to, tc); err != nil {
		return err
	}

	at := u.now
	if at.Before(w.report.StatusUpdatedAt) {
		at = w.report.StatusUpdatedAt
	}
	w.report.Status = to
	w.report.StatusUpdatedAt = at
	if mirrorTask(w.task, to, at) {
		w.taskDirty = true
	}

	old := from
	return u.tx.AppendHistory(ctx, &models.StatusHistoryEntry{
		ReportID:  w.report.ID,
		OldStatus: &old,
		NewStatus: to,
		ChangedBy: actorRef(u.actor),
		Notes:     notes,
		ChangedAt: at,
	})
}

// mirrorTask keeps the task's own status and timestamps in step with the
// report. It reports whether t changed.
func mirrorTask(t *models.Task, to models.Status, at time.Time) bool {
	if t == nil {
		return false
	}
	switch to {
	case models.StatusAcknowledged:
		t.Status = models.TaskAcknowledged
		if t.AcknowledgedAt == nil {
			t.AcknowledgedAt = &at
		}
	case models.StatusInProgress:
		t.Status = models.TaskInProgress
		if t.StartedAt == nil {
			t.StartedAt = &at
		}
	case models.StatusResolved:
		t.Status = models.TaskResolved
		t.ResolvedAt = &at
	case models.StatusReopened:
		t.Status = models.TaskAssigned
		t.ResolvedAt = nil
	default:
		return false
	}
	t.UpdatedAt = at
	return true
}

// NewReport carries the citizen-supplied fields of a new report.
type NewReport struct {
	Title       string
	Description string
	Location    string
	ImageURL    string
	Category    string
	Severity    models.Severity
	IsSensitive bool
	ReporterID  int64
}

// CreateReport stores a report in RECEIVED and writes its opening history row.
func (e *Engine) CreateReport(ctx context.Context, in NewReport) (*models.Report, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if in.ReporterID <= 0 {
		return nil, &ValidationError{Field: "reporter_id", Reason: "must identify a user"}
	}
	if in.Severity == "" {
		in.Severity = models.SeverityMedium
	}
	if !in.Severity.IsValid() {
		return nil, &ValidationError{Field: "severity", Reason: "unknown severity " + string(in.Severity)}
	}

	var out *models.Report
	err := e.run(ctx, in.ReporterID, func(u *unit) error {
		r := &models.Report{
			ReportNumber:    models.NewReportNumber(u.now),
			Title:           strings.TrimSpace(in.Title),
			Description:     in.Description,
			Location:        in.Location,
			ImageURL:        in.ImageURL,
			ReporterID:      in.ReporterID,
			Status:          models.StatusReceived,
			Severity:        in.Severity,
			Category:        in.Category,
			IsSensitive:     in.IsSensitive,
			SLADeadline:     u.now.Add(in.Severity.SLATarget()),
			Version:         1,
			CreatedAt:       u.now,
			StatusUpdatedAt: u.now,
			UpdatedAt:       u.now,
		}
		if err := u.tx.CreateReport(ctx, r); err != nil {
			return err
		}
		if err := u.tx.AppendHistory(ctx, &models.StatusHistoryEntry{
			ReportID:  r.ID,
			NewStatus: models.StatusReceived,
			ChangedBy: actorRef(u.actor),
			ChangedAt: u.now,
		}); err != nil {
			return err
		}
		w := &workItem{report: r, from: models.StatusReceived}
		if err := u.auditReport(ctx, w, models.ActionReportCreated, models.Metadata{
			"report_number": r.ReportNumber,
			"severity":      r.Severity,
			"category":      r.Category,
		}); err != nil {
			return err
		}
		out = e.present(w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("report created",
		zap.Int64("report_id", out.ID),
		zap.String("report_number", out.ReportNumber),
		zap.String("severity", string(out.Severity)))
	return out, nil
}

// GetReport returns a report with its task and read-time overdue flag.
func (e *Engine) GetReport(ctx context.Context, reportID int64) (*models.Report, error) {
	var out *models.Report
	err := e.Store.RunInTx(ctx, func(tx Tx) error {
		w, err := e.load(ctx, tx, reportID)
		if err != nil {
			return err
		}
		out = e.present(w)
		return nil
	})
	return out, err
}

// ListReports returns reports matching f with derived fields filled in.
func (e *Engine) ListReports(ctx context.Context, f ReportFilter) ([]*models.Report, error) {
	var out []*models.Report
	err := e.Store.RunInTx(ctx, func(tx Tx) error {
		reports, err := tx.ListReports(ctx, f)
		if err != nil {
			return err
		}
		now := e.now()
		for _, r := range reports {
			r.IsOverdue = r.Overdue(now)
		}
		out = reports
		return nil
	})
	return out, err
}

// History returns the status history of a report ordered by change time.
func (e *Engine) History(ctx context.Context, reportID int64) ([]models.StatusHistoryEntry, error) {
	var out []models.StatusHistoryEntry
	err := e.Store.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.GetReport(ctx, reportID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListHistory(ctx, reportID)
		return err
	})
	return out, err
}

// AuditTrail returns every audit entry recorded against a report.
func (e *Engine) AuditTrail(ctx context.Context, reportID int64) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := e.Store.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.GetReport(ctx, reportID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListAudit(ctx, reportID)
		return err
	})
	return out, err
}
