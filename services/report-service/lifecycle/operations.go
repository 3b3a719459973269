package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"civic-issue-tracker/services/report-service/models"
)

// Classification is the input of Classify.
type Classification struct {
	Category    string
	SubCategory string
	Severity    models.Severity
	Notes       string
}

var (
	// Statuses from which classification also advances the report.
	classifyAdvancesFrom = []models.Status{models.StatusReceived, models.StatusPendingClassification}
	// Statuses from which a department assignment also advances the report.
	departmentAdvancesFrom = []models.Status{
		models.StatusReceived, models.StatusPendingClassification, models.StatusClassified,
	}
	// An officer can only be assigned once a department owns the report.
	officerBlockedFrom = []models.Status{
		models.StatusReceived, models.StatusPendingClassification, models.StatusClassified,
	}
	acknowledgedOrLater = []models.Status{
		models.StatusAcknowledged, models.StatusInProgress, models.StatusPendingVerification,
		models.StatusResolved, models.StatusClosed,
	}
	startedOrLater = []models.Status{
		models.StatusInProgress, models.StatusPendingVerification, models.StatusResolved, models.StatusClosed,
	}
)

func statusIn(s models.Status, set []models.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// mutate is the shared skeleton of a single-report operation: load, apply,
// save, audit, all inside one transaction.
func (e *Engine) mutate(ctx context.Context, reportID, actorID int64, action models.AuditAction,
	apply func(u *unit, w *workItem) (models.Metadata, error)) (*models.Report, error) {
	var out *models.Report
	err := e.run(ctx, actorID, func(u *unit) error {
		w, err := e.load(ctx, u.tx, reportID)
		if err != nil {
			return err
		}
		meta, err := apply(u, w)
		if err != nil {
			return err
		}
		if err := e.save(ctx, u, w); err != nil {
			return err
		}
		if err := u.auditReport(ctx, w, action, meta); err != nil {
			return err
		}
		out = e.present(w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Classify sets the classification fields and advances RECEIVED or
// PENDING_CLASSIFICATION reports to CLASSIFIED.
func (e *Engine) Classify(ctx context.Context, reportID int64, c Classification, actorID int64) (*models.Report, error) {
	return e.mutate(ctx, reportID, actorID, models.ActionReportClassified, func(u *unit, w *workItem) (models.Metadata, error) {
		return e.applyClassify(ctx, u, w, c)
	})
}

func (e *Engine) applyClassify(ctx context.Context, u *unit, w *workItem, c Classification) (models.Metadata, error) {
	if strings.TrimSpace(c.Category) == "" {
		return nil, &ValidationError{Field: "category", Reason: "must not be empty"}
	}
	if !c.Severity.IsValid() {
		return nil, &ValidationError{Field: "severity", Reason: "unknown severity " + string(c.Severity)}
	}
	if w.report.Status.IsTerminal() {
		return nil, &TransitionError{Machine: MachineReport, From: string(w.report.Status), To: string(models.StatusClassified)}
	}

	r := w.report
	r.Category = strings.TrimSpace(c.Category)
	r.SubCategory = c.SubCategory
	r.ClassificationNotes = c.Notes
	r.ClassifiedBy = actorRef(u.actor)
	e.applySeverity(w, c.Severity)

	if statusIn(r.Status, classifyAdvancesFrom) {
		if err := e.transition(ctx, u, w, models.StatusClassified, OriginClassification, c.Notes); err != nil {
			return nil, err
		}
	}
	return models.Metadata{"category": r.Category, "sub_category": r.SubCategory, "severity": r.Severity}, nil
}

// applySeverity sets the severity and recomputes what derives from it.
func (e *Engine) applySeverity(w *workItem, sev models.Severity) {
	w.report.Severity = sev
	w.report.SLADeadline = w.report.CreatedAt.Add(sev.SLATarget())
	if w.task != nil && w.task.Priority != sev.Priority() {
		w.task.Priority = sev.Priority()
		w.taskDirty = true
	}
}

// AssignDepartment routes a report to a department, advancing it to
// ASSIGNED_TO_DEPARTMENT when it has not been routed yet.
func (e *Engine) AssignDepartment(ctx context.Context, reportID, departmentID int64, notes string, actorID int64) (*models.Report, error) {
	return e.mutate(ctx, reportID, actorID, models.ActionDepartmentAssigned, func(u *unit, w *workItem) (models.Metadata, error) {
		return e.applyAssignDepartment(ctx, u, w, departmentID, notes)
	})
}

func (e *Engine) applyAssignDepartment(ctx context.Context, u *unit, w *workItem, departmentID int64, notes string) (models.Metadata, error) {
	if w.report.Status.IsTerminal() {
		return nil, &TransitionError{Machine: MachineReport, From: string(w.report.Status), To: string(models.StatusAssignedToDepartment)}
	}
	ok, err := e.Directory.DepartmentExists(ctx, departmentID)
	if err != nil {
		return nil, &StorageError{Op: "lookup department", Err: err}
	}
	if !ok {
		return nil, &NotFoundError{Resource: "department", ID: departmentID}
	}

	meta := models.Metadata{"department_id": departmentID}
	if prev := w.report.DepartmentID; prev != nil {
		meta["previous_department_id"] = *prev
	}
	dept := departmentID
	w.report.DepartmentID = &dept

	if statusIn(w.report.Status, departmentAdvancesFrom) {
		if err := e.transition(ctx, u, w, models.StatusAssignedToDepartment, OriginOperator, notes); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// AssignOfficer creates or updates the report's task and advances the report
// to ASSIGNED_TO_OFFICER when its status allows. A priority of zero derives
// the priority from severity.
func (e *Engine) AssignOfficer(ctx context.Context, reportID, officerID int64, priority int, notes string, actorID int64) (*models.Report, error) {
	return e.mutate(ctx, reportID, actorID, models.ActionOfficerAssigned, func(u *unit, w *workItem) (models.Metadata, error) {
		return e.applyAssignOfficer(ctx, u, w, officerID, priority, notes)
	})
}

func (e *Engine) applyAssignOfficer(ctx context.Context, u *unit, w *workItem, officerID int64, priority int, notes string) (models.Metadata, error) {
	if priority < 0 {
		return nil, &ValidationError{Field: "priority", Reason: "must not be negative"}
	}
	ok, err := e.Directory.IsOfficer(ctx, officerID)
	if err != nil {
		return nil, &StorageError{Op: "lookup officer", Err: err}
	}
	if !ok {
		return nil, &ValidationError{Field: "officer_id", Reason: fmt.Sprintf("user %d does not have the officer capability", officerID)}
	}
	from := w.report.Status
	if from.IsTerminal() || statusIn(from, officerBlockedFrom) {
		return nil, &TransitionError{Machine: MachineReport, From: string(from), To: string(models.StatusAssignedToOfficer)}
	}
	if priority == 0 {
		priority = w.report.Severity.Priority()
	}

	meta := models.Metadata{"officer_id": officerID, "priority": priority}
	t := w.task
	if t == nil {
		t = &models.Task{ReportID: w.report.ID, CreatedAt: u.now}
		w.task = t
	}
	if !t.AssignedTo(officerID) {
		if t.HasOfficer() {
			meta["previous_officer_id"] = *t.OfficerID
		}
		officer := officerID
		t.OfficerID = &officer
		t.Status = models.TaskAssigned
		t.AssignedAt = u.now
		t.AcknowledgedAt = nil
		t.StartedAt = nil
		t.ResolvedAt = nil
		// The new officer takes over the stages the report has already passed.
		if statusIn(from, acknowledgedOrLater) {
			mirrorTask(t, models.StatusAcknowledged, u.now)
		}
		if statusIn(from, startedOrLater) {
			mirrorTask(t, models.StatusInProgress, u.now)
		}
	}
	t.AssignedBy = actorRef(u.actor)
	t.Priority = priority
	t.Notes = notes
	t.UpdatedAt = u.now
	w.taskDirty = true

	if CanTransition(from, models.StatusAssignedToOfficer, OriginOperator) {
		if err := e.transition(ctx, u, w, models.StatusAssignedToOfficer, OriginOperator, notes); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// TransitionStatus applies a pure status change. Requesting the current
// status fails with ErrNoOpTransition.
func (e *Engine) TransitionStatus(ctx context.Context, reportID int64, to models.Status, notes string, actorID int64) (*models.Report, error) {
	return e.mutate(ctx, reportID, actorID, models.ActionStatusChanged, func(u *unit, w *workItem) (models.Metadata, error) {
		return e.applyTransition(ctx, u, w, to, notes)
	})
}

func (e *Engine) applyTransition(ctx context.Context, u *unit, w *workItem, to models.Status, notes string) (models.Metadata, error) {
	if !to.IsValid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + string(to)}
	}
	if err := e.transition(ctx, u, w, to, OriginOperator, notes); err != nil {
		return nil, err
	}
	return models.Metadata{"notes": notes}, nil
}

// Acknowledge moves the report to ACKNOWLEDGED on behalf of its assigned
// officer. Any other caller, a report already acknowledged, or a report with
// no edge to ACKNOWLEDGED (REOPENED, terminal) gets the current report back
// unchanged.
func (e *Engine) Acknowledge(ctx context.Context, reportID, officerID int64) (*models.Report, error) {
	return e.officerStep(ctx, reportID, officerID, models.StatusAcknowledged, acknowledgedOrLater, models.ActionReportAcknowledged)
}

// StartWork moves the report to IN_PROGRESS on behalf of its assigned officer,
// with the same no-op rules as Acknowledge.
func (e *Engine) StartWork(ctx context.Context, reportID, officerID int64) (*models.Report, error) {
	return e.officerStep(ctx, reportID, officerID, models.StatusInProgress, startedOrLater, models.ActionWorkStarted)
}

func (e *Engine) officerStep(ctx context.Context, reportID, officerID int64, to models.Status, done []models.Status, action models.AuditAction) (*models.Report, error) {
	var out *models.Report
	err := e.run(ctx, officerID, func(u *unit) error {
		w, err := e.load(ctx, u.tx, reportID)
		if err != nil {
			return err
		}
		out = e.present(w)
		if !w.task.AssignedTo(officerID) {
			e.Logger.Debug("officer step skipped for non-assignee",
				zap.Int64("report_id", reportID),
				zap.Int64("officer_id", officerID),
				zap.String("target", string(to)))
			return nil
		}
		if statusIn(w.report.Status, done) {
			return nil
		}
		if !CanTransition(w.report.Status, to, OriginOperator) {
			e.Logger.Debug("officer step skipped, target not reachable",
				zap.Int64("report_id", reportID),
				zap.String("status", string(w.report.Status)),
				zap.String("target", string(to)))
			return nil
		}
		if err := e.transition(ctx, u, w, to, OriginOperator, ""); err != nil {
			return err
		}
		if err := e.save(ctx, u, w); err != nil {
			return err
		}
		if err := u.auditReport(ctx, w, action, models.Metadata{"officer_id": officerID}); err != nil {
			return err
		}
		out = e.present(w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChangeSeverity updates severity and the SLA deadline and task priority that
// derive from it. Terminal reports keep their severity.
func (e *Engine) ChangeSeverity(ctx context.Context, reportID int64, sev models.Severity, notes string, actorID int64) (*models.Report, error) {
	return e.mutate(ctx, reportID, actorID, models.ActionSeverityChanged, func(u *unit, w *workItem) (models.Metadata, error) {
		return e.applyChangeSeverity(w, sev, notes)
	})
}

func (e *Engine) applyChangeSeverity(w *workItem, sev models.Severity, notes string) (models.Metadata, error) {
	if !sev.IsValid() {
		return nil, &ValidationError{Field: "severity", Reason: "unknown severity " + string(sev)}
	}
	if w.report.Status.IsTerminal() {
		return nil, &ValidationError{Field: "severity", Reason: "severity of a " + string(w.report.Status) + " report is frozen"}
	}
	prev := w.report.Severity
	e.applySeverity(w, sev)
	return models.Metadata{
		"previous_severity": prev,
		"severity":          sev,
		"sla_deadline":      w.report.SLADeadline,
		"notes":             notes,
	}, nil
}

// MarkDuplicate closes a report that repeats canonicalID. Only reports that
// have not reached a department can be marked.
func (e *Engine) MarkDuplicate(ctx context.Context, reportID, canonicalID int64, notes string, actorID int64) (*models.Report, error) {
	if reportID == canonicalID {
		return nil, &ValidationError{Field: "duplicate_of_id", Reason: "a report cannot duplicate itself"}
	}
	return e.mutate(ctx, reportID, actorID, models.ActionMarkedDuplicate, func(u *unit, w *workItem) (models.Metadata, error) {
		canonical, err := u.tx.GetReport(ctx, canonicalID)
		if err != nil {
			return nil, err
		}
		if canonical.IsDuplicate {
			return nil, &ValidationError{Field: "duplicate_of_id", Reason: fmt.Sprintf("report %d is itself a duplicate", canonicalID)}
		}
		if err := e.transition(ctx, u, w, models.StatusDuplicate, OriginDuplicate, notes); err != nil {
			return nil, err
		}
		w.report.IsDuplicate = true
		id := canonicalID
		w.report.DuplicateOfID = &id
		return models.Metadata{"duplicate_of_id": canonicalID, "canonical_number": canonical.ReportNumber}, nil
	})
}
