package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"civic-issue-tracker/pkg/identity"
	"civic-issue-tracker/pkg/response"
	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type createReportRequest struct {
	Title       string `json:"title" validate:"required,min=5,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Category    string `json:"category" validate:"max=64"`
	Location    string `json:"location" validate:"max=255"`
	ImageURL    string `json:"image_url" validate:"omitempty,url"`
	Severity    string `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	IsSensitive bool   `json:"is_sensitive"`
}

type classifyRequest struct {
	Category    string `json:"category" validate:"required,max=64"`
	SubCategory string `json:"sub_category" validate:"max=64"`
	Severity    string `json:"severity" validate:"required,oneof=low medium high critical"`
	Notes       string `json:"notes" validate:"max=2000"`
}

type assignDepartmentRequest struct {
	DepartmentID int64  `json:"department_id" validate:"required,gt=0"`
	Notes        string `json:"notes" validate:"max=2000"`
}

type assignOfficerRequest struct {
	OfficerID int64  `json:"officer_id" validate:"required,gt=0"`
	Priority  int    `json:"priority" validate:"gte=0,lte=4"`
	Notes     string `json:"notes" validate:"max=2000"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=2000"`
}

type severityRequest struct {
	Severity string `json:"severity" validate:"required,oneof=low medium high critical"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type duplicateRequest struct {
	CanonicalID int64  `json:"canonical_id" validate:"required,gt=0"`
	Notes       string `json:"notes" validate:"max=2000"`
}

type bulkRequest struct {
	IDs       []int64                 `json:"ids" validate:"required,min=1"`
	Operation lifecycle.BulkOperation `json:"operation"`
}

// visible hides reports of other reporters from citizens.
func visible(c claimsView, r *models.Report) bool {
	return c.Role != identity.RoleCitizen || r.ReporterID == c.UserID
}

type claimsView struct {
	UserID int64
	Role   string
}

func viewer(r *http.Request) claimsView {
	c := claims(r)
	if c == nil {
		return claimsView{Role: identity.RoleCitizen}
	}
	return claimsView{UserID: c.UserID, Role: c.Role}
}

// redact strips operator-only fields before a report is shown to a citizen.
func redact(c claimsView, r *models.Report) *models.Report {
	if c.Role != identity.RoleCitizen {
		return r
	}
	out := *r
	out.ClassificationNotes = ""
	return &out
}

func (h *Handler) createReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.engine.CreateReport(r.Context(), lifecycle.NewReport{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		ImageURL:    req.ImageURL,
		Category:    req.Category,
		Severity:    models.Severity(req.Severity),
		IsSensitive: req.IsSensitive,
		ReporterID:  claims(r).UserID,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusCreated, "Report submitted", report)
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	report, err := h.engine.GetReport(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	v := viewer(r)
	if !visible(v, report) {
		h.writeEngineError(w, r, &lifecycle.NotFoundError{Resource: "report", ID: id})
		return
	}
	response.Success(w, http.StatusOK, "Report fetched", redact(v, report))
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := lifecycle.ReportFilter{Limit: defaultListLimit}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.Status(strings.ToUpper(strings.TrimSpace(s)))
			if !status.IsValid() {
				response.Error(w, http.StatusBadRequest, "Invalid status filter", string(status))
				return
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	if raw := q.Get("department_id"); raw != "" {
		dept, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid department_id", err.Error())
			return
		}
		f.DepartmentID = &dept
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.Error(w, http.StatusBadRequest, "Invalid limit", raw)
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	v := viewer(r)
	if v.Role == identity.RoleCitizen {
		f.ReporterID = &v.UserID
	}

	reports, err := h.engine.ListReports(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	out := make([]*models.Report, 0, len(reports))
	for _, rep := range reports {
		out = append(out, redact(v, rep))
	}
	response.Success(w, http.StatusOK, "Reports fetched", out)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.engine.History(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "History fetched", entries)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.engine.AuditTrail(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Audit trail fetched", entries)
}

// mutateReport decodes req, runs op with conflict retry and writes the
// resulting report.
func (h *Handler) mutateReport(w http.ResponseWriter, r *http.Request, req interface{}, message string,
	op func(id, actor int64) (*models.Report, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if req != nil && !h.decode(w, r, req) {
		return
	}

	actor := claims(r).UserID
	var out *models.Report
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

func (h *Handler) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	h.mutateReport(w, r, &req, "Report classified", func(id, actor int64) (*models.Report, error) {
		return h.engine.Classify(r.Context(), id, lifecycle.Classification{
			Category:    req.Category,
			SubCategory: req.SubCategory,
			Severity:    models.Severity(req.Severity),
			Notes:       req.Notes,
		}, actor)
	})
}

func (h *Handler) assignDepartment(w http.ResponseWriter, r *http.Request) {
	var req assignDepartmentRequest
	h.mutateReport(w, r, &req, "Department assigned", func(id, actor int64) (*models.Report, error) {
		return h.engine.AssignDepartment(r.Context(), id, req.DepartmentID, req.Notes, actor)
	})
}

func (h *Handler) assignOfficer(w http.ResponseWriter, r *http.Request) {
	var req assignOfficerRequest
	h.mutateReport(w, r, &req, "Officer assigned", func(id, actor int64) (*models.Report, error) {
		return h.engine.AssignOfficer(r.Context(), id, req.OfficerID, req.Priority, req.Notes, actor)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	h.mutateReport(w, r, &req, "Status updated", func(id, actor int64) (*models.Report, error) {
		to := models.Status(strings.ToUpper(req.Status))
		if !to.IsValid() {
			return nil, &lifecycle.ValidationError{Field: "status", Reason: "unknown status " + req.Status}
		}
		return h.engine.TransitionStatus(r.Context(), id, to, req.Notes, actor)
	})
}

func (h *Handler) changeSeverity(w http.ResponseWriter, r *http.Request) {
	var req severityRequest
	h.mutateReport(w, r, &req, "Severity updated", func(id, actor int64) (*models.Report, error) {
		return h.engine.ChangeSeverity(r.Context(), id, models.Severity(req.Severity), req.Notes, actor)
	})
}

func (h *Handler) markDuplicate(w http.ResponseWriter, r *http.Request) {
	var req duplicateRequest
	h.mutateReport(w, r, &req, "Report marked as duplicate", func(id, actor int64) (*models.Report, error) {
		return h.engine.MarkDuplicate(r.Context(), id, req.CanonicalID, req.Notes, actor)
	})
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	h.mutateReport(w, r, nil, "Report acknowledged", func(id, officer int64) (*models.Report, error) {
		return h.engine.Acknowledge(r.Context(), id, officer)
	})
}

func (h *Handler) startWork(w http.ResponseWriter, r *http.Request) {
	h.mutateReport(w, r, nil, "Work started", func(id, officer int64) (*models.Report, error) {
		return h.engine.StartWork(r.Context(), id, officer)
	})
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !h.decode(w, r, &req) {
		return
	}

	actor := claims(r).UserID
	var res *lifecycle.BulkResult
	err := h.withRetry(r.Context(), func() error {
		var err error
		res, err = h.engine.Bulk(r.Context(), req.IDs, req.Operation, actor)
		return err
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Failed > 0 && res.Successful > 0 {
		status = http.StatusMultiStatus
	}
	response.Success(w, status, "Bulk operation processed", res)
}
