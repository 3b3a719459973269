package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"civic-issue-tracker/services/report-service/models"
)

type EscalationInput struct {
	ReportID int64
	Level    models.EscalationLevel
	Reason   string
	// Deadline overrides the level's default response window.
	Deadline *time.Time
}

// Escalation cannot be opened on reports that left the lifecycle for good.
var escalationClosedFor = []models.Status{models.StatusClosed, models.StatusRejected, models.StatusDuplicate}

// CreateEscalation opens an escalation. A report carries at most one active
// escalation at a time.
func (e *Engine) CreateEscalation(ctx context.Context, in EscalationInput, actorID int64) (*models.Escalation, error) {
	if in.Level == 0 {
		in.Level = models.EscalationLevel1
	}
	if !in.Level.IsValid() {
		return nil, &ValidationError{Field: "level", Reason: "must be between 1 and 3"}
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "must not be empty"}
	}

	var out *models.Escalation
	err := e.run(ctx, actorID, func(u *unit) error {
		w, err := e.load(ctx, u.tx, in.ReportID)
		if err != nil {
			return err
		}
		if statusIn(w.report.Status, escalationClosedFor) {
			return &TransitionError{
				Machine: MachineEscalation,
				From:    string(w.report.Status),
				To:      string(models.EscalationEscalated),
			}
		}
		active, err := u.tx.ActiveEscalation(ctx, in.ReportID)
		if err != nil {
			return err
		}
		if active != nil {
			return &ValidationError{Field: "report_id", Reason: "report already has an active escalation"}
		}
		deadline, err := escalationDeadline(u.now, in.Level, in.Deadline)
		if err != nil {
			return err
		}

		esc := &models.Escalation{
			ReportID:    in.ReportID,
			Level:       in.Level,
			Status:      models.EscalationEscalated,
			Reason:      strings.TrimSpace(in.Reason),
			RaisedBy:    actorRef(u.actor),
			SLADeadline: deadline,
			CreatedAt:   u.now,
			UpdatedAt:   u.now,
		}
		if err := u.tx.CreateEscalation(ctx, esc); err != nil {
			return err
		}
		if err := u.tx.AppendEscalationHistory(ctx, &models.EscalationHistoryEntry{
			EscalationID: esc.ID,
			NewStatus:    esc.Status,
			NewLevel:     esc.Level,
			ChangedBy:    actorRef(u.actor),
			Notes:        esc.Reason,
			ChangedAt:    u.now,
		}); err != nil {
			return err
		}
		if err := u.auditEscalation(ctx, w, esc, models.ActionEscalationCreated, nil); err != nil {
			return err
		}
		out = e.presentEscalation(esc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func escalationDeadline(now time.Time, level models.EscalationLevel, override *time.Time) (time.Time, error) {
	if override == nil {
		return now.Add(level.SLAWindow()), nil
	}
	if !override.After(now) {
		return time.Time{}, &ValidationError{Field: "deadline", Reason: "must be in the future"}
	}
	return override.UTC(), nil
}

// AcknowledgeEscalation records that the escalation target has seen it.
func (e *Engine) AcknowledgeEscalation(ctx context.Context, escalationID, actorID int64) (*models.Escalation, error) {
	return e.moveEscalation(ctx, escalationID, models.EscalationAcknowledged, "", actorID, models.ActionEscalationAcknowledged)
}

// UpdateEscalation moves an escalation along its own state machine.
func (e *Engine) UpdateEscalation(ctx context.Context, escalationID int64, to models.EscalationStatus, notes string, actorID int64) (*models.Escalation, error) {
	if !to.IsValid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown escalation status " + string(to)}
	}
	return e.moveEscalation(ctx, escalationID, to, notes, actorID, models.ActionEscalationUpdated)
}

func (e *Engine) moveEscalation(ctx context.Context, escalationID int64, to models.EscalationStatus, notes string, actorID int64, action models.AuditAction) (*models.Escalation, error) {
	var out *models.Escalation
	err := e.run(ctx, actorID, func(u *unit) error {
		esc, w, err := e.loadEscalation(ctx, u, escalationID)
		if err != nil {
			return err
		}
		if err := ValidateEscalationTransition(esc.Status, to); err != nil {
			return err
		}
		old := esc.Status
		esc.Status = to
		esc.UpdatedAt = u.now
		if notes != "" {
			esc.ResolutionNotes = notes
		}
		if to.IsTerminal() {
			at := u.now
			esc.ResolvedAt = &at
		}
		if err := u.tx.SaveEscalation(ctx, esc); err != nil {
			return err
		}
		if err := u.tx.AppendEscalationHistory(ctx, &models.EscalationHistoryEntry{
			EscalationID: esc.ID,
			OldStatus:    &old,
			NewStatus:    to,
			OldLevel:     esc.Level,
			NewLevel:     esc.Level,
			ChangedBy:    actorRef(u.actor),
			Notes:        notes,
			ChangedAt:    u.now,
		}); err != nil {
			return err
		}
		if err := u.auditEscalation(ctx, w, esc, action, models.Metadata{"from_status": old}); err != nil {
			return err
		}
		out = e.presentEscalation(esc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EscalateFurther raises an active escalation by one level, restarting it at
// ESCALATED with the new level's response window.
func (e *Engine) EscalateFurther(ctx context.Context, escalationID int64, reason string, deadline *time.Time, actorID int64) (*models.Escalation, error) {
	var out *models.Escalation
	err := e.run(ctx, actorID, func(u *unit) error {
		esc, w, err := e.loadEscalation(ctx, u, escalationID)
		if err != nil {
			return err
		}
		if esc.Status.IsTerminal() {
			return &TransitionError{
				Machine: MachineEscalation,
				From:    string(esc.Status),
				To:      string(models.EscalationEscalated),
			}
		}
		if esc.Level >= models.MaxEscalationLevel {
			return &ValidationError{Field: "level", Reason: "escalation is already at " + models.MaxEscalationLevel.String()}
		}
		next := esc.Level + 1
		due, err := escalationDeadline(u.now, next, deadline)
		if err != nil {
			return err
		}

		oldStatus, oldLevel := esc.Status, esc.Level
		esc.Level = next
		esc.Status = models.EscalationEscalated
		esc.SLADeadline = due
		esc.UpdatedAt = u.now
		if r := strings.TrimSpace(reason); r != "" {
			esc.Reason = r
		}
		if err := u.tx.SaveEscalation(ctx, esc); err != nil {
			return err
		}
		if err := u.tx.AppendEscalationHistory(ctx, &models.EscalationHistoryEntry{
			EscalationID: esc.ID,
			OldStatus:    &oldStatus,
			NewStatus:    esc.Status,
			OldLevel:     oldLevel,
			NewLevel:     next,
			ChangedBy:    actorRef(u.actor),
			Notes:        reason,
			ChangedAt:    u.now,
		}); err != nil {
			return err
		}
		if err := u.auditEscalation(ctx, w, esc, models.ActionEscalationRaised, models.Metadata{
			"from_level":  oldLevel,
			"from_status": oldStatus,
		}); err != nil {
			return err
		}
		out = e.presentEscalation(esc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Escalations lists a report's escalations with is_overdue derived now.
func (e *Engine) Escalations(ctx context.Context, reportID int64) ([]models.Escalation, error) {
	var out []models.Escalation
	err := e.Store.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.GetReport(ctx, reportID); err != nil {
			return err
		}
		list, err := tx.ListEscalations(ctx, reportID)
		if err != nil {
			return err
		}
		now := e.now()
		for i := range list {
			list[i].IsOverdue = list[i].Overdue(now)
		}
		out = list
		return nil
	})
	return out, err
}

// EscalateOverdue opens a level-one escalation, as the system actor, for
// every open report whose SLA deadline has passed and that has no active
// escalation. It returns how many escalations were opened.
func (e *Engine) EscalateOverdue(ctx context.Context) (int, error) {
	var open []models.Status
	for _, s := range models.AllStatuses() {
		if !s.IsTerminal() {
			open = append(open, s)
		}
	}
	now := e.now()
	reports, err := e.ListReports(ctx, ReportFilter{Statuses: open, DeadlineLapse: &now})
	if err != nil {
		return 0, err
	}

	raised := 0
	for _, r := range reports {
		_, err := e.CreateEscalation(ctx, EscalationInput{
			ReportID: r.ID,
			Level:    models.EscalationLevel1,
			Reason:   "SLA deadline " + r.SLADeadline.Format(time.RFC3339) + " passed",
		}, SystemActor)
		var validation *ValidationError
		switch {
		case err == nil:
			raised++
		case errors.As(err, &validation), KindOf(err) == KindNotFound, KindOf(err) == KindInvalidTransition:
			// Already escalated, or the report moved on since it was listed.
		default:
			return raised, err
		}
	}
	if raised > 0 {
		e.Logger.Info("overdue reports escalated", zap.Int("count", raised))
	}
	return raised, nil
}

func (e *Engine) loadEscalation(ctx context.Context, u *unit, escalationID int64) (*models.Escalation, *workItem, error) {
	esc, err := u.tx.GetEscalation(ctx, escalationID)
	if err != nil {
		return nil, nil, err
	}
	w, err := e.load(ctx, u.tx, esc.ReportID)
	if err != nil {
		return nil, nil, err
	}
	return esc, w, nil
}

func (e *Engine) presentEscalation(esc *models.Escalation) *models.Escalation {
	out := *esc
	out.IsOverdue = out.Overdue(e.now())
	return &out
}

func (u *unit) auditEscalation(ctx context.Context, w *workItem, esc *models.Escalation, action models.AuditAction, meta models.Metadata) error {
	if meta == nil {
		meta = models.Metadata{}
	}
	meta["level"] = esc.Level
	meta["status"] = esc.Status
	meta["sla_deadline"] = esc.SLADeadline
	reportID := esc.ReportID
	return u.audit(ctx, models.AuditEntry{
		Action:       action,
		ResourceType: models.ResourceEscalation,
		ResourceID:   esc.ID,
		ReportID:     &reportID,
		Metadata:     meta,
	}, w.event())
}
