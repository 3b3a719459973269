package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"civic-issue-tracker/services/report-service/models"
)

// BulkKind selects the single-report operation a batch applies.
type BulkKind string

const (
	BulkStatusChange     BulkKind = "status_change"
	BulkAssignDepartment BulkKind = "assign_department"
	BulkAssignOfficer    BulkKind = "assign_officer"
	BulkChangeSeverity   BulkKind = "change_severity"
)

// BulkOperation holds the parameters of one batch. Only the fields of Kind
// are read.
type BulkOperation struct {
	Kind         BulkKind        `json:"kind"`
	Status       models.Status   `json:"status,omitempty"`
	DepartmentID int64           `json:"department_id,omitempty"`
	OfficerID    int64           `json:"officer_id,omitempty"`
	Priority     int             `json:"priority,omitempty"`
	Severity     models.Severity `json:"severity,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

func (op BulkOperation) validate() error {
	switch op.Kind {
	case BulkStatusChange:
		if !op.Status.IsValid() {
			return &ValidationError{Field: "status", Reason: "unknown status " + string(op.Status)}
		}
	case BulkAssignDepartment:
		if op.DepartmentID <= 0 {
			return &ValidationError{Field: "department_id", Reason: "is required"}
		}
	case BulkAssignOfficer:
		if op.OfficerID <= 0 {
			return &ValidationError{Field: "officer_id", Reason: "is required"}
		}
		if op.Priority < 0 {
			return &ValidationError{Field: "priority", Reason: "must not be negative"}
		}
	case BulkChangeSeverity:
		if !op.Severity.IsValid() {
			return &ValidationError{Field: "severity", Reason: "unknown severity " + string(op.Severity)}
		}
	default:
		return &ValidationError{Field: "kind", Reason: "unknown bulk operation " + string(op.Kind)}
	}
	return nil
}

func (op BulkOperation) action() models.AuditAction {
	switch op.Kind {
	case BulkAssignDepartment:
		return models.ActionDepartmentAssigned
	case BulkAssignOfficer:
		return models.ActionOfficerAssigned
	case BulkChangeSeverity:
		return models.ActionSeverityChanged
	default:
		return models.ActionStatusChanged
	}
}

type BulkItemError struct {
	ID     int64  `json:"id"`
	Reason Kind   `json:"reason"`
	Detail string `json:"detail"`
}

// BulkResult is the aggregate outcome of a batch. Counts are exact; Errors is
// capped and ErrorsTruncated says whether entries were dropped.
type BulkResult struct {
	Total             int             `json:"total"`
	Successful        int             `json:"successful"`
	Failed            int             `json:"failed"`
	SuccessfulIDs     []int64         `json:"successful_ids"`
	FailedIDs         []int64         `json:"failed_ids"`
	Errors            []BulkItemError `json:"errors"`
	ErrorsTruncated   bool            `json:"errors_truncated"`
	DuplicatesSkipped int             `json:"duplicates_skipped"`

	limit int
}

func newBulkResult(total, duplicates, limit int) *BulkResult {
	return &BulkResult{
		Total:             total,
		SuccessfulIDs:     []int64{},
		FailedIDs:         []int64{},
		Errors:            []BulkItemError{},
		DuplicatesSkipped: duplicates,
		limit:             limit,
	}
}

func (r *BulkResult) succeed(id int64) {
	r.Successful++
	r.SuccessfulIDs = append(r.SuccessfulIDs, id)
}

func (r *BulkResult) fail(id int64, kind Kind, detail string) {
	r.Failed++
	r.FailedIDs = append(r.FailedIDs, id)
	if len(r.Errors) >= r.limit {
		r.ErrorsTruncated = true
		return
	}
	r.Errors = append(r.Errors, BulkItemError{ID: id, Reason: kind, Detail: detail})
}

func (r *BulkResult) reset() {
	*r = *newBulkResult(r.Total, r.DuplicatesSkipped, r.limit)
}

// dedupe keeps the first occurrence of every id, preserving order.
func dedupe(ids []int64) (unique, dropped []int64) {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			dropped = append(dropped, id)
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique, dropped
}

// Bulk applies op to every id. Per-item business failures are recorded in the
// result and never abort the batch. Successful items commit together; when
// that commit fails every item is reported failed with KindStorage. The only
// returned error is a *ValidationError for a malformed or oversized batch.
func (e *Engine) Bulk(ctx context.Context, ids []int64, op BulkOperation, actorID int64) (*BulkResult, error) {
	unique, dropped := dedupe(ids)
	if len(dropped) > 0 {
		e.Logger.Info("bulk operation dropped duplicate ids",
			zap.String("kind", string(op.Kind)),
			zap.Int64s("ids", dropped))
	}
	if len(unique) == 0 {
		return nil, &ValidationError{Field: "ids", Reason: "at least one report id is required"}
	}
	if len(unique) > e.Config.BatchLimit {
		return nil, &ValidationError{
			Field:  "ids",
			Reason: fmt.Sprintf("batch of %d reports exceeds the limit of %d", len(unique), e.Config.BatchLimit),
		}
	}
	if err := op.validate(); err != nil {
		return nil, err
	}

	res := newBulkResult(len(unique), len(dropped), e.Config.ErrorListLimit)
	var u *unit
	err := e.Store.RunInTx(ctx, func(tx Tx) error {
		res.reset()
		u = &unit{tx: tx, now: e.now(), actor: actorID}

		found, err := tx.GetReports(ctx, unique)
		if err != nil {
			return err
		}
		for _, id := range unique {
			if _, ok := found[id]; !ok {
				nf := &NotFoundError{Resource: "report", ID: id}
				e.Logger.Warn("bulk item failed",
					zap.Int64("report_id", id),
					zap.String("reason", string(KindNotFound)))
				res.fail(id, KindNotFound, nf.Error())
			}
		}
		for _, id := range unique {
			r, ok := found[id]
			if !ok {
				continue
			}
			err := tx.Nested(ctx, func(sub Tx) error {
				return e.applyBulkItem(ctx, &unit{tx: sub, now: u.now, actor: actorID}, r, op)
			})
			if err == nil {
				res.succeed(id)
				continue
			}
			if isInfrastructure(err) {
				return err
			}
			e.Logger.Warn("bulk item failed",
				zap.Int64("report_id", id),
				zap.String("reason", string(KindOf(err))),
				zap.Error(err))
			res.fail(id, KindOf(err), err.Error())
		}

		return u.audit(ctx, models.AuditEntry{
			Action:       models.ActionBulkOperation,
			ResourceType: models.ResourceReportBatch,
			Metadata: models.Metadata{
				"kind":               op.Kind,
				"item_action":        op.action(),
				"total":              res.Total,
				"successful":         res.Successful,
				"failed":             res.Failed,
				"successful_ids":     res.SuccessfulIDs,
				"failed_ids":         res.FailedIDs,
				"duplicates_skipped": res.DuplicatesSkipped,
			},
		}, Event{})
	})
	if err != nil {
		e.Logger.Error("bulk operation rolled back",
			zap.String("kind", string(op.Kind)),
			zap.Int("total", len(unique)),
			zap.Error(err))
		res.reset()
		detail := "batch rolled back: " + storageReason(err)
		for _, id := range unique {
			res.fail(id, KindStorage, detail)
		}
		return res, nil
	}

	e.emit(ctx, u.events)
	e.Logger.Info("bulk operation applied",
		zap.String("kind", string(op.Kind)),
		zap.Int("total", res.Total),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
		zap.Int("duplicates_skipped", res.DuplicatesSkipped))
	return res, nil
}

// applyBulkItem runs the single-report logic for one item without writing a
// per-item audit entry.
func (e *Engine) applyBulkItem(ctx context.Context, u *unit, r *models.Report, op BulkOperation) error {
	w, err := e.attach(ctx, u.tx, r)
	if err != nil {
		return err
	}
	switch op.Kind {
	case BulkStatusChange:
		_, err = e.applyTransition(ctx, u, w, op.Status, op.Notes)
	case BulkAssignDepartment:
		_, err = e.applyAssignDepartment(ctx, u, w, op.DepartmentID, op.Notes)
	case BulkAssignOfficer:
		_, err = e.applyAssignOfficer(ctx, u, w, op.OfficerID, op.Priority, op.Notes)
	case BulkChangeSeverity:
		_, err = e.applyChangeSeverity(w, op.Severity, op.Notes)
	}
	if err != nil {
		return err
	}
	return e.save(ctx, u, w)
}

func storageReason(err error) string {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return "concurrent modification"
	}
	return "storage failure"
}
