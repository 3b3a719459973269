package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"civic-issue-tracker/pkg/identity"
	"civic-issue-tracker/pkg/middleware"
	"civic-issue-tracker/services/report-service/directory"
	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
	"civic-issue-tracker/services/report-service/sink"
	"civic-issue-tracker/services/report-service/store"
)

var testSecret = []byte("handler-test-secret")

const (
	citizenID    int64 = 7
	otherCitizen int64 = 8
	adminID      int64 = 2
	officerID    int64 = 12
	deptID       int64 = 5
)

type fakeUploader struct {
	prefix, contentType string
	body                []byte
}

func (f *fakeUploader) Put(_ context.Context, prefix, contentType string, r io.Reader, _ int64) (string, error) {
	f.prefix, f.contentType = prefix, contentType
	b, err := io.ReadAll(r)
	f.body = b
	return "http://minio.local/appeal-evidence/" + prefix + "/x.jpg", err
}

type fakeArchive struct {
	counts []sink.ActionCount
	err    error
}

func (f *fakeArchive) ActionCounts(context.Context, time.Time) ([]sink.ActionCount, error) {
	return f.counts, f.err
}

type apiResult struct {
	code int
	body struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Details map[string]any  `json:"details"`
	}
}

type testServer struct {
	t      *testing.T
	engine *lifecycle.Engine
	router http.Handler
	opts   Options
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	dir := directory.NewStatic().
		AddDepartment(models.Department{ID: deptID, Code: "pekerjaan_umum", Name: "Public Works"}).
		AddOfficer(officerID)
	eng := lifecycle.New(store.NewMemory(), dir, lifecycle.NopSink{}, lifecycle.DefaultConfig(), zap.NewNop())

	opts.JWTSecret = testSecret
	return &testServer{t: t, engine: eng, router: New(eng, opts, zap.NewNop()).Routes(), opts: opts}
}

func token(t *testing.T, id int64, role string) string {
	t.Helper()
	tok, err := middleware.SignToken(testSecret, middleware.UserClaims{UserID: id, Role: role}, time.Now())
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(method, path, tok string, body interface{}) apiResult {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return s.serve(req)
}

func (s *testServer) serve(req *http.Request) apiResult {
	s.t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var res apiResult
	res.code = rec.Code
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &res.body), rec.Body.String())
	return res
}

func (s *testServer) createReport(tok string) *models.Report {
	s.t.Helper()
	res := s.do(http.MethodPost, "/api/reports", tok, map[string]any{
		"title":    "Pothole on Jalan Merdeka",
		"location": "Jalan Merdeka 10",
		"severity": "medium",
	})
	require.Equal(s.t, http.StatusCreated, res.code, res.body.Error)
	var r models.Report
	require.NoError(s.t, json.Unmarshal(res.body.Data, &r))
	return &r
}

func TestCreateAndFetchVisibility(t *testing.T) {
	s := newTestServer(t, Options{})
	citizen := token(t, citizenID, identity.RoleCitizen)
	r := s.createReport(citizen)
	assert.Equal(t, models.StatusReceived, r.Status)
	assert.Equal(t, citizenID, r.ReporterID)

	path := fmt.Sprintf("/api/reports/%d", r.ID)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, citizen, nil).code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, token(t, otherCitizen, identity.RoleCitizen), nil).code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, token(t, adminID, identity.RoleAdmin), nil).code)

	res := s.do(http.MethodGet, "/api/reports", token(t, otherCitizen, identity.RoleCitizen), nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.JSONEq(t, "[]", string(res.body.Data))
}

func TestUnauthenticatedAndForbidden(t *testing.T) {
	s := newTestServer(t, Options{})
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/reports", "", nil).code)

	citizen := token(t, citizenID, identity.RoleCitizen)
	r := s.createReport(citizen)
	res := s.do(http.MethodPost, fmt.Sprintf("/api/reports/%d/classify", r.ID), citizen, map[string]any{
		"category": "road", "severity": "high",
	})
	assert.Equal(t, http.StatusForbidden, res.code)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, Options{})
	admin := token(t, adminID, identity.RoleAdmin)
	r := s.createReport(token(t, citizenID, identity.RoleCitizen))

	res := s.do(http.MethodPost, fmt.Sprintf("/api/reports/%d/classify", r.ID), admin, map[string]any{
		"category": "road", "severity": "urgent",
	})
	require.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "Severity", res.body.Details["field"])
	assert.Equal(t, "oneof", res.body.Details["rule"])

	res = s.do(http.MethodPost, fmt.Sprintf("/api/reports/%d/status", r.ID), admin, map[string]any{"status": "DONE"})
	require.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, string(lifecycle.KindValidation), res.body.Details["kind"])

	res = s.do(http.MethodPost, "/api/reports/abc/status", admin, map[string]any{"status": "CLOSED"})
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = s.do(http.MethodPost, fmt.Sprintf("/api/reports/%d/status", r.ID), admin, map[string]any{"status": "CLOSED", "extra": 1})
	assert.Equal(t, http.StatusBadRequest, res.code)
}

func TestEngineErrorMapping(t *testing.T) {
	s := newTestServer(t, Options{})
	admin := token(t, adminID, identity.RoleAdmin)
	r := s.createReport(token(t, citizenID, identity.RoleCitizen))
	statusPath := fmt.Sprintf("/api/reports/%d/status", r.ID)

	t.Run("invalid transition", func(t *testing.T) {
		res := s.do(http.MethodPost, statusPath, admin, map[string]any{"status": "RESOLVED"})
		require.Equal(t, http.StatusConflict, res.code)
		assert.Equal(t, string(lifecycle.KindInvalidTransition), res.body.Details["kind"])
		assert.Equal(t, "RECEIVED", res.body.Details["current"])
		assert.Equal(t, "RESOLVED", res.body.Details["requested"])
		assert.Equal(t, "cannot move report from RECEIVED to RESOLVED", res.body.Message)
	})

	t.Run("no-op transition", func(t *testing.T) {
		res := s.do(http.MethodPost, statusPath, admin, map[string]any{"status": "received"})
		require.Equal(t, http.StatusConflict, res.code)
		assert.Equal(t, true, res.body.Details["no_op"])
	})

	t.Run("unmet prerequisite", func(t *testing.T) {
		res := s.do(http.MethodPost, fmt.Sprintf("/api/reports/%d/department", r.ID), admin, map[string]any{"department_id": deptID})
		require.Equal(t, http.StatusOK, res.code, res.body.Error)
		res = s.do(http.MethodPost, statusPath, admin, map[string]any{"status": "ON_HOLD"})
		require.Equal(t, http.StatusOK, res.code, res.body.Error)

		res = s.do(http.MethodPost, statusPath, admin, map[string]any{"status": "IN_PROGRESS"})
		require.Equal(t, http.StatusUnprocessableEntity, res.code)
		assert.Equal(t, []any{string(lifecycle.PrereqOfficer)}, res.body.Details["missing"])
		assert.Contains(t, res.body.Message, "no officer assigned")
	})

	t.Run("not found", func(t *testing.T) {
		res := s.do(http.MethodPost, "/api/reports/9999/status", admin, map[string]any{"status": "CLOSED"})
		require.Equal(t, http.StatusNotFound, res.code)
		assert.Equal(t, "report 9999 not found", res.body.Message)
	})
}

func TestOfficerFlow(t *testing.T) {
	s := newTestServer(t, Options{})
	admin := token(t, adminID, identity.RoleAdmin)
	officer := token(t, officerID, identity.RoleOfficer)
	r := s.createReport(token(t, citizenID, identity.RoleCitizen))
	base := fmt.Sprintf("/api/reports/%d", r.ID)

	steps := []struct {
		path string
		tok  string
		body interface{}
	}{
		{"/status", admin, map[string]any{"status": "PENDING_CLASSIFICATION"}},
		{"/classify", admin, map[string]any{"category": "road", "severity": "high", "notes": "near school"}},
		{"/department", admin, map[string]any{"department_id": deptID}},
		{"/officer", admin, map[string]any{"officer_id": officerID, "priority": 2}},
		{"/acknowledge", officer, nil},
		{"/start", officer, nil},
	}
	for _, step := range steps {
		res := s.do(http.MethodPost, base+step.path, step.tok, step.body)
		require.Equal(t, http.StatusOK, res.code, "%s: %s", step.path, res.body.Error)
	}

	res := s.do(http.MethodGet, base, admin, nil)
	var got models.Report
	require.NoError(t, json.Unmarshal(res.body.Data, &got))
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, "near school", got.ClassificationNotes)

	res = s.do(http.MethodGet, base, token(t, citizenID, identity.RoleCitizen), nil)
	var public models.Report
	require.NoError(t, json.Unmarshal(res.body.Data, &public))
	assert.Equal(t, models.StatusInProgress, public.Status)
	assert.Empty(t, public.ClassificationNotes)

	res = s.do(http.MethodGet, base+"/history", officer, nil)
	require.Equal(t, http.StatusOK, res.code)
	var history []models.StatusHistoryEntry
	require.NoError(t, json.Unmarshal(res.body.Data, &history))
	assert.Len(t, history, 7)
}

func TestBulkMixedResultIsMultiStatus(t *testing.T) {
	s := newTestServer(t, Options{})
	admin := token(t, adminID, identity.RoleAdmin)
	citizen := token(t, citizenID, identity.RoleCitizen)
	a := s.createReport(citizen)
	b := s.createReport(citizen)

	res := s.do(http.MethodPost, "/api/reports/bulk", admin, map[string]any{
		"ids":       []int64{a.ID, b.ID, 9999},
		"operation": map[string]any{"kind": "status_change", "status": "PENDING_CLASSIFICATION"},
	})
	require.Equal(t, http.StatusMultiStatus, res.code, res.body.Error)

	var out lifecycle.BulkResult
	require.NoError(t, json.Unmarshal(res.body.Data, &out))
	assert.Equal(t, 2, out.Successful)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, []int64{9999}, out.FailedIDs)

	res = s.do(http.MethodPost, "/api/reports/bulk", citizen, map[string]any{"ids": []int64{a.ID}})
	assert.Equal(t, http.StatusForbidden, res.code)
}

func TestAppealEndpoints(t *testing.T) {
	s := newTestServer(t, Options{})
	admin := token(t, adminID, identity.RoleAdmin)
	citizen := token(t, citizenID, identity.RoleCitizen)
	r := s.createReport(citizen)
	base := fmt.Sprintf("/api/reports/%d", r.ID)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/status", admin, map[string]any{"status": "PENDING_CLASSIFICATION"}).code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/classify", admin, map[string]any{"category": "road", "severity": "low"}).code)

	appealBody := map[string]any{"kind": "classification", "reason": "The pothole is far deeper than rated"}
	res := s.do(http.MethodPost, base+"/appeals", token(t, otherCitizen, identity.RoleCitizen), appealBody)
	assert.Equal(t, http.StatusNotFound, res.code)

	res = s.do(http.MethodPost, base+"/appeals", citizen, appealBody)
	require.Equal(t, http.StatusCreated, res.code, res.body.Error)
	var appeal models.Appeal
	require.NoError(t, json.Unmarshal(res.body.Data, &appeal))
	assert.Equal(t, models.AppealSubmitted, appeal.Status)

	res = s.do(http.MethodGet, base+"/appeals", citizen, nil)
	require.Equal(t, http.StatusOK, res.code)
	var list []models.Appeal
	require.NoError(t, json.Unmarshal(res.body.Data, &list))
	assert.Len(t, list, 1)

	reviewPath := fmt.Sprintf("/api/appeals/%d/review", appeal.ID)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, reviewPath, citizen, map[string]any{"decision": "approved"}).code)

	res = s.do(http.MethodPost, reviewPath, admin, map[string]any{"decision": "rejected"})
	assert.Equal(t, http.StatusConflict, res.code, "review has to start first")

	res = s.do(http.MethodPost, reviewPath, admin, map[string]any{"decision": "under_review"})
	require.Equal(t, http.StatusOK, res.code, res.body.Error)

	res = s.do(http.MethodPost, reviewPath, admin, map[string]any{"decision": "rejected", "notes": "rating stands"})
	require.Equal(t, http.StatusOK, res.code, res.body.Error)
	require.NoError(t, json.Unmarshal(res.body.Data, &appeal))
	assert.Equal(t, models.AppealRejected, appeal.Status)

	res = s.do(http.MethodPost, fmt.Sprintf("/api/appeals/%d/withdraw", appeal.ID), citizen, nil)
	assert.Equal(t, http.StatusConflict, res.code)
	assert.Equal(t, string(lifecycle.MachineAppeal), res.body.Details["machine"])
}

func TestEscalationEndpoints(t *testing.T) {
	s := newTestServer(t, Options{})
	admin := token(t, adminID, identity.RoleAdmin)
	officer := token(t, officerID, identity.RoleOfficer)
	r := s.createReport(token(t, citizenID, identity.RoleCitizen))

	res := s.do(http.MethodPost, fmt.Sprintf("/api/reports/%d/escalations", r.ID), admin, map[string]any{"reason": "no progress in a week"})
	require.Equal(t, http.StatusCreated, res.code, res.body.Error)
	var esc models.Escalation
	require.NoError(t, json.Unmarshal(res.body.Data, &esc))
	assert.Equal(t, models.EscalationLevel1, esc.Level)

	res = s.do(http.MethodPost, fmt.Sprintf("/api/escalations/%d/acknowledge", esc.ID), officer, nil)
	require.Equal(t, http.StatusOK, res.code, res.body.Error)

	res = s.do(http.MethodPost, fmt.Sprintf("/api/escalations/%d/raise", esc.ID), admin, map[string]any{"reason": "still nothing"})
	require.Equal(t, http.StatusOK, res.code, res.body.Error)
	require.NoError(t, json.Unmarshal(res.body.Data, &esc))
	assert.Equal(t, models.EscalationLevel2, esc.Level)

	res = s.do(http.MethodPost, fmt.Sprintf("/api/escalations/%d/status", esc.ID), admin, map[string]any{"status": "escalated"})
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = s.do(http.MethodGet, fmt.Sprintf("/api/reports/%d/escalations", r.ID), officer, nil)
	require.Equal(t, http.StatusOK, res.code)
	var list []models.Escalation
	require.NoError(t, json.Unmarshal(res.body.Data, &list))
	assert.Len(t, list, 1)

	res = s.do(http.MethodPost, "/api/admin/escalations/sweep", admin, nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.JSONEq(t, `{"escalated":0}`, string(res.body.Data))
}

func evidenceRequest(t *testing.T, tok, contentType string, payload []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="photo.jpg"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/appeals/evidence", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func TestUploadEvidence(t *testing.T) {
	citizen := token(t, citizenID, identity.RoleCitizen)

	s := newTestServer(t, Options{})
	assert.Equal(t, http.StatusServiceUnavailable, s.serve(evidenceRequest(t, citizen, "image/jpeg", []byte("jpg"))).code)

	up := &fakeUploader{}
	s = newTestServer(t, Options{Uploader: up})
	res := s.serve(evidenceRequest(t, citizen, "text/html", []byte("<html>")))
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = s.serve(evidenceRequest(t, citizen, "image/jpeg", []byte("jpg-bytes")))
	require.Equal(t, http.StatusCreated, res.code, res.body.Error)
	assert.Equal(t, "appeals/7", up.prefix)
	assert.Equal(t, "image/jpeg", up.contentType)
	assert.Equal(t, []byte("jpg-bytes"), up.body)
	assert.Contains(t, string(res.body.Data), "appeal-evidence/appeals/7")
}

func TestAuditSummary(t *testing.T) {
	admin := token(t, adminID, identity.RoleAdmin)

	s := newTestServer(t, Options{})
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/api/admin/audit/summary", admin, nil).code)

	archive := &fakeArchive{counts: []sink.ActionCount{{Action: "report.created", Count: 3}}}
	s = newTestServer(t, Options{Archive: archive})
	res := s.do(http.MethodGet, "/api/admin/audit/summary?since=2024-01-01T00:00:00Z", admin, nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Contains(t, string(res.body.Data), "report.created")

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/admin/audit/summary?since=yesterday", admin, nil).code)

	archive.err = errors.New("mongo down")
	res = s.do(http.MethodGet, "/api/admin/audit/summary", admin, nil)
	assert.Equal(t, http.StatusInternalServerError, res.code)
	assert.Empty(t, res.body.Error)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{Health: func(context.Context) error { return errors.New("db down") }})
	res := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.code)
}
