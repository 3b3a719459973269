package handlers

import (
	"fmt"
	"net/http"
	"time"

	"civic-issue-tracker/pkg/response"
	"civic-issue-tracker/pkg/storage"
	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
)

type appealRequest struct {
	Kind           string   `json:"kind" validate:"required,oneof=classification assignment resolution"`
	Reason         string   `json:"reason" validate:"required,min=10,max=2000"`
	RequiresRework bool     `json:"requires_rework"`
	EvidenceURLs   []string `json:"evidence_urls" validate:"max=10,dive,url"`
}

type reviewRequest struct {
	Decision string `json:"decision" validate:"required,oneof=under_review approved rejected"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type escalationRequest struct {
	Level    int        `json:"level" validate:"gte=0,lte=3"`
	Reason   string     `json:"reason" validate:"required,max=2000"`
	Deadline *time.Time `json:"deadline"`
}

type escalationStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=acknowledged under_review action_taken resolved de_escalated"`
	Notes  string `json:"notes" validate:"max=2000"`
}

type raiseRequest struct {
	Reason   string     `json:"reason" validate:"required,max=2000"`
	Deadline *time.Time `json:"deadline"`
}

// ownReport loads the report and hides it from citizens who did not file it.
func (h *Handler) ownReport(w http.ResponseWriter, r *http.Request, id int64) bool {
	report, err := h.engine.GetReport(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return false
	}
	if !visible(viewer(r), report) {
		h.writeEngineError(w, r, &lifecycle.NotFoundError{Resource: "report", ID: id})
		return false
	}
	return true
}

func (h *Handler) submitAppeal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req appealRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.ownReport(w, r, id) {
		return
	}

	var appeal *models.Appeal
	err := h.withRetry(r.Context(), func() error {
		var err error
		appeal, err = h.engine.SubmitAppeal(r.Context(), lifecycle.AppealInput{
			ReportID:       id,
			Kind:           models.AppealKind(req.Kind),
			Reason:         req.Reason,
			RequiresRework: req.RequiresRework,
			EvidenceURLs:   req.EvidenceURLs,
		}, claims(r).UserID)
		return err
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusCreated, "Appeal submitted", appeal)
}

func (h *Handler) listAppeals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !h.ownReport(w, r, id) {
		return
	}
	appeals, err := h.engine.Appeals(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Appeals fetched", appeals)
}

func (h *Handler) reviewAppeal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	var appeal *models.Appeal
	err := h.withRetry(r.Context(), func() error {
		var err error
		appeal, err = h.engine.ReviewAppeal(r.Context(), id, models.AppealStatus(req.Decision), req.Notes, claims(r).UserID)
		return err
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Appeal reviewed", appeal)
}

func (h *Handler) withdrawAppeal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var appeal *models.Appeal
	err := h.withRetry(r.Context(), func() error {
		var err error
		appeal, err = h.engine.WithdrawAppeal(r.Context(), id, claims(r).UserID)
		return err
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Appeal withdrawn", appeal)
}

func (h *Handler) uploadEvidence(w http.ResponseWriter, r *http.Request) {
	if h.opts.Uploader == nil {
		response.Error(w, http.StatusServiceUnavailable, "Evidence upload is not configured", "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxObjectSize+1<<10)
	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Missing or oversized file", err.Error())
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !storage.AllowedContentType(contentType) {
		response.Error(w, http.StatusBadRequest, "Unsupported file type", contentType)
		return
	}

	prefix := fmt.Sprintf("appeals/%d", claims(r).UserID)
	url, err := h.opts.Uploader.Put(r.Context(), prefix, contentType, file, header.Size)
	if err != nil {
		h.writeEngineError(w, r, &lifecycle.StorageError{Op: "upload evidence", Err: err})
		return
	}
	response.Success(w, http.StatusCreated, "Evidence uploaded", map[string]string{"url": url})
}

func (h *Handler) createEscalation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req escalationRequest
	if !h.decode(w, r, &req) {
		return
	}

	var esc *models.Escalation
	err := h.withRetry(r.Context(), func() error {
		var err error
		esc, err = h.engine.CreateEscalation(r.Context(), lifecycle.EscalationInput{
			ReportID: id,
			Level:    models.EscalationLevel(req.Level),
			Reason:   req.Reason,
			Deadline: req.Deadline,
		}, claims(r).UserID)
		return err
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusCreated, "Escalation created", esc)
}

func (h *Handler) listEscalations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := h.engine.Escalations(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Escalations fetched", list)
}

// mutateEscalation runs op with conflict retry and writes the escalation.
func (h *Handler) mutateEscalation(w http.ResponseWriter, r *http.Request, req interface{}, message string,
	op func(id, actor int64) (*models.Escalation, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if req != nil && !h.decode(w, r, req) {
		return
	}

	actor := claims(r).UserID
	var out *models.Escalation
	err := h.withRetry(r.Context(), func() error {
		var err error
		out, err = op(id, actor)
		return err
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, message, out)
}

func (h *Handler) acknowledgeEscalation(w http.ResponseWriter, r *http.Request) {
	h.mutateEscalation(w, r, nil, "Escalation acknowledged", func(id, actor int64) (*models.Escalation, error) {
		return h.engine.AcknowledgeEscalation(r.Context(), id, actor)
	})
}

func (h *Handler) updateEscalation(w http.ResponseWriter, r *http.Request) {
	var req escalationStatusRequest
	h.mutateEscalation(w, r, &req, "Escalation updated", func(id, actor int64) (*models.Escalation, error) {
		return h.engine.UpdateEscalation(r.Context(), id, models.EscalationStatus(req.Status), req.Notes, actor)
	})
}

func (h *Handler) escalateFurther(w http.ResponseWriter, r *http.Request) {
	var req raiseRequest
	h.mutateEscalation(w, r, &req, "Escalation raised", func(id, actor int64) (*models.Escalation, error) {
		return h.engine.EscalateFurther(r.Context(), id, req.Reason, req.Deadline, actor)
	})
}

func (h *Handler) sweepOverdue(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.EscalateOverdue(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Overdue reports escalated", map[string]int{"escalated": n})
}

func (h *Handler) auditSummary(w http.ResponseWriter, r *http.Request) {
	if h.opts.Archive == nil {
		response.Error(w, http.StatusServiceUnavailable, "Audit archive is not configured", "")
		return
	}
	since := time.Now().Add(-7 * 24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid since, expected RFC3339", err.Error())
			return
		}
		since = t
	}
	counts, err := h.opts.Archive.ActionCounts(r.Context(), since)
	if err != nil {
		h.writeEngineError(w, r, &lifecycle.StorageError{Op: "audit summary", Err: err})
		return
	}
	response.Success(w, http.StatusOK, "Audit summary fetched", counts)
}
