package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"civic-issue-tracker/services/report-service/models"
)

type AppealInput struct {
	ReportID       int64
	Kind           models.AppealKind
	Reason         string
	RequiresRework bool
	EvidenceURLs   []string
}

// SubmitAppeal opens an appeal against a report and flags the report for
// review while any appeal is open.
func (e *Engine) SubmitAppeal(ctx context.Context, in AppealInput, actorID int64) (*models.Appeal, error) {
	if !in.Kind.IsValid() {
		return nil, &ValidationError{Field: "kind", Reason: "unknown appeal kind " + string(in.Kind)}
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "must not be empty"}
	}

	var out *models.Appeal
	err := e.run(ctx, actorID, func(u *unit) error {
		w, err := e.load(ctx, u.tx, in.ReportID)
		if err != nil {
			return err
		}
		if !appealable(w.report, in.Kind) {
			return &PrerequisiteError{
				Machine: MachineAppeal,
				From:    string(w.report.Status),
				To:      string(models.AppealSubmitted),
				Missing: []Prerequisite{PrereqAppealableStatus},
			}
		}
		if in.RequiresRework && !reworkReachable(w.report.Status) {
			return &PrerequisiteError{
				Machine: MachineAppeal,
				From:    string(w.report.Status),
				To:      string(models.AppealSubmitted),
				Missing: []Prerequisite{PrereqReworkReachable},
			}
		}

		a := &models.Appeal{
			ReportID:       in.ReportID,
			Kind:           in.Kind,
			Reason:         strings.TrimSpace(in.Reason),
			RequiresRework: in.RequiresRework,
			Status:         models.AppealSubmitted,
			SubmittedBy:    actorID,
			EvidenceURLs:   in.EvidenceURLs,
			CreatedAt:      u.now,
			UpdatedAt:      u.now,
		}
		if err := u.tx.CreateAppeal(ctx, a); err != nil {
			return err
		}
		if err := u.tx.AppendAppealHistory(ctx, &models.AppealHistoryEntry{
			AppealID:  a.ID,
			NewStatus: models.AppealSubmitted,
			ChangedBy: actorRef(u.actor),
			Notes:     a.Reason,
			ChangedAt: u.now,
		}); err != nil {
			return err
		}
		if !w.report.NeedsReview {
			w.report.NeedsReview = true
			if err := e.save(ctx, u, w); err != nil {
				return err
			}
		}
		if err := u.auditAppeal(ctx, w, a, models.ActionAppealSubmitted, models.Metadata{
			"kind":            a.Kind,
			"requires_rework": a.RequiresRework,
			"evidence_count":  len(a.EvidenceURLs),
		}); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReviewAppeal moves an appeal through review. Approving an appeal that
// requires rework sends the report back into work in the same transaction;
// if that report transition is illegal nothing is committed.
func (e *Engine) ReviewAppeal(ctx context.Context, appealID int64, decision models.AppealStatus, notes string, actorID int64) (*models.Appeal, error) {
	switch decision {
	case models.AppealUnderReview, models.AppealApproved, models.AppealRejected:
	default:
		return nil, &ValidationError{Field: "decision", Reason: "must be under_review, approved or rejected"}
	}

	var out *models.Appeal
	err := e.run(ctx, actorID, func(u *unit) error {
		a, err := u.tx.GetAppeal(ctx, appealID)
		if err != nil {
			return err
		}
		w, err := e.load(ctx, u.tx, a.ReportID)
		if err != nil {
			return err
		}
		if err := ValidateAppealTransition(a.Status, decision); err != nil {
			return err
		}
		a.ReviewedBy = actorRef(u.actor)
		if notes != "" {
			a.ReviewNotes = notes
		}
		if err := e.moveAppeal(ctx, u, a, decision, notes); err != nil {
			return err
		}

		meta := models.Metadata{"decision": decision, "requires_rework": a.RequiresRework}
		if decision == models.AppealApproved && a.RequiresRework {
			target := reworkTarget(w.report.Status)
			reason := fmt.Sprintf("rework ordered by appeal %d", a.ID)
			if notes != "" {
				reason += ": " + notes
			}
			if err := e.transition(ctx, u, w, target, OriginAppealRework, reason); err != nil {
				return err
			}
			meta["rework_status"] = target
		}
		if err := e.settleReview(ctx, u, w); err != nil {
			return err
		}
		if w.report.Status != w.from {
			if err := u.auditReport(ctx, w, models.ActionStatusChanged, models.Metadata{"appeal_id": a.ID}); err != nil {
				return err
			}
		}
		if err := u.auditAppeal(ctx, w, a, models.ActionAppealReviewed, meta); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Status == models.AppealApproved && out.RequiresRework {
		e.Logger.Info("rework appeal approved",
			zap.Int64("appeal_id", out.ID),
			zap.Int64("report_id", out.ReportID))
	}
	return out, nil
}

// WithdrawAppeal lets the submitter abandon an open appeal.
func (e *Engine) WithdrawAppeal(ctx context.Context, appealID, actorID int64) (*models.Appeal, error) {
	var out *models.Appeal
	err := e.run(ctx, actorID, func(u *unit) error {
		a, err := u.tx.GetAppeal(ctx, appealID)
		if err != nil {
			return err
		}
		if a.SubmittedBy != actorID {
			return &ValidationError{Field: "actor_id", Reason: "only the submitter may withdraw an appeal"}
		}
		w, err := e.load(ctx, u.tx, a.ReportID)
		if err != nil {
			return err
		}
		if err := ValidateAppealTransition(a.Status, models.AppealWithdrawn); err != nil {
			return err
		}
		if err := e.moveAppeal(ctx, u, a, models.AppealWithdrawn, ""); err != nil {
			return err
		}
		if err := e.settleReview(ctx, u, w); err != nil {
			return err
		}
		if err := u.auditAppeal(ctx, w, a, models.ActionAppealWithdrawn, nil); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Appeals lists the appeals filed against a report.
func (e *Engine) Appeals(ctx context.Context, reportID int64) ([]models.Appeal, error) {
	var out []models.Appeal
	err := e.Store.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.GetReport(ctx, reportID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListAppeals(ctx, reportID)
		return err
	})
	return out, err
}

func (e *Engine) moveAppeal(ctx context.Context, u *unit, a *models.Appeal, to models.AppealStatus, notes string) error {
	old := a.Status
	a.Status = to
	a.UpdatedAt = u.now
	if to.IsTerminal() {
		at := u.now
		a.ResolvedAt = &at
	}
	if err := u.tx.SaveAppeal(ctx, a); err != nil {
		return err
	}
	return u.tx.AppendAppealHistory(ctx, &models.AppealHistoryEntry{
		AppealID:  a.ID,
		OldStatus: &old,
		NewStatus: to,
		ChangedBy: actorRef(u.actor),
		Notes:     notes,
		ChangedAt: u.now,
	})
}

// settleReview saves the report, clearing NeedsReview once no appeal is open.
func (e *Engine) settleReview(ctx context.Context, u *unit, w *workItem) error {
	open, err := u.tx.CountOpenAppeals(ctx, w.report.ID)
	if err != nil {
		return err
	}
	needsReview := open > 0
	if needsReview == w.report.NeedsReview && w.report.Status == w.from && !w.taskDirty {
		return nil
	}
	w.report.NeedsReview = needsReview
	return e.save(ctx, u, w)
}

func (u *unit) auditAppeal(ctx context.Context, w *workItem, a *models.Appeal, action models.AuditAction, meta models.Metadata) error {
	if meta == nil {
		meta = models.Metadata{}
	}
	meta["appeal_status"] = a.Status
	reportID := a.ReportID
	return u.audit(ctx, models.AuditEntry{
		Action:       action,
		ResourceType: models.ResourceAppeal,
		ResourceID:   a.ID,
		ReportID:     &reportID,
		Metadata:     meta,
	}, w.event())
}
