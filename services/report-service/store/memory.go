package store

import (
	"context"
	"sort"
	"sync"

	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
)

type memoryState struct {
	reports           map[int64]models.Report
	tasks             map[int64]models.Task // keyed by report id
	appeals           map[int64]models.Appeal
	escalations       map[int64]models.Escalation
	history           []models.StatusHistoryEntry
	audit             []models.AuditEntry
	appealHistory     []models.AppealHistoryEntry
	escalationHistory []models.EscalationHistoryEntry
	seq               sequences
}

type sequences struct {
	report, task, appeal, escalation int64
	history, audit                   int64
	appealHistory, escalationHistory int64
}

func newMemoryState() memoryState {
	return memoryState{
		reports:     make(map[int64]models.Report),
		tasks:       make(map[int64]models.Task),
		appeals:     make(map[int64]models.Appeal),
		escalations: make(map[int64]models.Escalation),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.reports {
		cloned.reports[k] = v
	}
	for k, v := range s.tasks {
		cloned.tasks[k] = v
	}
	for k, v := range s.appeals {
		cloned.appeals[k] = cloneAppeal(v)
	}
	for k, v := range s.escalations {
		cloned.escalations[k] = v
	}
	cloned.history = append([]models.StatusHistoryEntry(nil), s.history...)
	cloned.audit = append([]models.AuditEntry(nil), s.audit...)
	cloned.appealHistory = append([]models.AppealHistoryEntry(nil), s.appealHistory...)
	cloned.escalationHistory = append([]models.EscalationHistoryEntry(nil), s.escalationHistory...)
	cloned.seq = s.seq
	return cloned
}

func cloneAppeal(a models.Appeal) models.Appeal {
	a.EvidenceURLs = append([]string(nil), a.EvidenceURLs...)
	return a
}

func detachReport(r models.Report) models.Report {
	r.Task = nil
	r.IsOverdue = false
	return r
}

// Memory is an in-process entity store. Each transaction works on a private
// clone of the state that replaces the live state only when fn succeeds, so a
// failed operation leaves nothing behind. Transactions are serialized.
type Memory struct {
	mu         sync.Mutex
	state      memoryState
	failCommit error
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

// FailCommits makes every following commit fail with err wrapped in a
// *lifecycle.StorageError. Pass nil to restore normal commits.
func (m *Memory) FailCommits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommit = err
}

func (m *Memory) RunInTx(ctx context.Context, fn func(tx lifecycle.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &lifecycle.StorageError{Op: "begin", Err: err}
	}
	tx := &memoryTx{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if m.failCommit != nil {
		return &lifecycle.StorageError{Op: "commit", Err: m.failCommit}
	}
	m.state = tx.state
	return nil
}

type memoryTx struct {
	state memoryState
}

func (tx *memoryTx) Nested(_ context.Context, fn func(tx lifecycle.Tx) error) error {
	child := &memoryTx{state: tx.state.clone()}
	if err := fn(child); err != nil {
		return err
	}
	tx.state = child.state
	return nil
}

func (tx *memoryTx) CreateReport(_ context.Context, r *models.Report) error {
	tx.state.seq.report++
	r.ID = tx.state.seq.report
	if r.Version == 0 {
		r.Version = 1
	}
	tx.state.reports[r.ID] = detachReport(*r)
	return nil
}

func (tx *memoryTx) GetReport(_ context.Context, id int64) (*models.Report, error) {
	r, ok := tx.state.reports[id]
	if !ok {
		return nil, &lifecycle.NotFoundError{Resource: "report", ID: id}
	}
	return &r, nil
}

func (tx *memoryTx) GetReports(_ context.Context, ids []int64) (map[int64]*models.Report, error) {
	out := make(map[int64]*models.Report, len(ids))
	for _, id := range ids {
		if r, ok := tx.state.reports[id]; ok {
			out[id] = &r
		}
	}
	return out, nil
}

func (tx *memoryTx) ListReports(_ context.Context, f lifecycle.ReportFilter) ([]*models.Report, error) {
	var out []*models.Report
	for _, r := range tx.state.reports {
		if !matchesFilter(r, f) {
			continue
		}
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchesFilter(r models.Report, f lifecycle.ReportFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DepartmentID != nil && (r.DepartmentID == nil || *r.DepartmentID != *f.DepartmentID) {
		return false
	}
	if f.ReporterID != nil && r.ReporterID != *f.ReporterID {
		return false
	}
	if f.DeadlineLapse != nil && !r.SLADeadline.Before(*f.DeadlineLapse) {
		return false
	}
	return true
}

func (tx *memoryTx) SaveReport(_ context.Context, r *models.Report) error {
	cur, ok := tx.state.reports[r.ID]
	if !ok {
		return &lifecycle.NotFoundError{Resource: "report", ID: r.ID}
	}
	if cur.Version != r.Version {
		return &lifecycle.ConflictError{Resource: "report", ID: r.ID}
	}
	r.Version++
	tx.state.reports[r.ID] = detachReport(*r)
	return nil
}

func (tx *memoryTx) GetTask(_ context.Context, reportID int64) (*models.Task, error) {
	t, ok := tx.state.tasks[reportID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (tx *memoryTx) SaveTask(_ context.Context, t *models.Task) error {
	if t.ID == 0 {
		tx.state.seq.task++
		t.ID = tx.state.seq.task
	}
	tx.state.tasks[t.ReportID] = *t
	return nil
}

func (tx *memoryTx) AppendHistory(_ context.Context, h *models.StatusHistoryEntry) error {
	tx.state.seq.history++
	h.ID = tx.state.seq.history
	tx.state.history = append(tx.state.history, *h)
	return nil
}

func (tx *memoryTx) ListHistory(_ context.Context, reportID int64) ([]models.StatusHistoryEntry, error) {
	var out []models.StatusHistoryEntry
	for _, h := range tx.state.history {
		if h.ReportID == reportID {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.Before(out[j].ChangedAt) })
	return out, nil
}

func (tx *memoryTx) AppendAudit(_ context.Context, a *models.AuditEntry) error {
	tx.state.seq.audit++
	a.ID = tx.state.seq.audit
	tx.state.audit = append(tx.state.audit, *a)
	return nil
}

func (tx *memoryTx) ListAudit(_ context.Context, reportID int64) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, a := range tx.state.audit {
		if a.ReportID != nil && *a.ReportID == reportID {
			out = append(out, a)
		}
	}
	return out, nil
}

// AuditEntries returns every committed audit entry, including batch entries
// that reference no single report.
func (m *Memory) AuditEntries() []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditEntry(nil), m.state.audit...)
}

func (tx *memoryTx) CreateAppeal(_ context.Context, a *models.Appeal) error {
	tx.state.seq.appeal++
	a.ID = tx.state.seq.appeal
	tx.state.appeals[a.ID] = cloneAppeal(*a)
	return nil
}

func (tx *memoryTx) GetAppeal(_ context.Context, id int64) (*models.Appeal, error) {
	a, ok := tx.state.appeals[id]
	if !ok {
		return nil, &lifecycle.NotFoundError{Resource: "appeal", ID: id}
	}
	a = cloneAppeal(a)
	return &a, nil
}

func (tx *memoryTx) SaveAppeal(_ context.Context, a *models.Appeal) error {
	if _, ok := tx.state.appeals[a.ID]; !ok {
		return &lifecycle.NotFoundError{Resource: "appeal", ID: a.ID}
	}
	tx.state.appeals[a.ID] = cloneAppeal(*a)
	return nil
}

func (tx *memoryTx) ListAppeals(_ context.Context, reportID int64) ([]models.Appeal, error) {
	var out []models.Appeal
	for _, a := range tx.state.appeals {
		if a.ReportID == reportID {
			out = append(out, cloneAppeal(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) CountOpenAppeals(_ context.Context, reportID int64) (int, error) {
	n := 0
	for _, a := range tx.state.appeals {
		if a.ReportID == reportID && !a.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) AppendAppealHistory(_ context.Context, h *models.AppealHistoryEntry) error {
	tx.state.seq.appealHistory++
	h.ID = tx.state.seq.appealHistory
	tx.state.appealHistory = append(tx.state.appealHistory, *h)
	return nil
}

func (tx *memoryTx) ListAppealHistory(_ context.Context, appealID int64) ([]models.AppealHistoryEntry, error) {
	var out []models.AppealHistoryEntry
	for _, h := range tx.state.appealHistory {
		if h.AppealID == appealID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (tx *memoryTx) CreateEscalation(_ context.Context, e *models.Escalation) error {
	tx.state.seq.escalation++
	e.ID = tx.state.seq.escalation
	stored := *e
	stored.IsOverdue = false
	tx.state.escalations[e.ID] = stored
	return nil
}

func (tx *memoryTx) GetEscalation(_ context.Context, id int64) (*models.Escalation, error) {
	e, ok := tx.state.escalations[id]
	if !ok {
		return nil, &lifecycle.NotFoundError{Resource: "escalation", ID: id}
	}
	return &e, nil
}

func (tx *memoryTx) SaveEscalation(_ context.Context, e *models.Escalation) error {
	if _, ok := tx.state.escalations[e.ID]; !ok {
		return &lifecycle.NotFoundError{Resource: "escalation", ID: e.ID}
	}
	stored := *e
	stored.IsOverdue = false
	tx.state.escalations[e.ID] = stored
	return nil
}

func (tx *memoryTx) ListEscalations(_ context.Context, reportID int64) ([]models.Escalation, error) {
	var out []models.Escalation
	for _, e := range tx.state.escalations {
		if e.ReportID == reportID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) ActiveEscalation(_ context.Context, reportID int64) (*models.Escalation, error) {
	for _, e := range tx.state.escalations {
		if e.ReportID == reportID && !e.Status.IsTerminal() {
			return &e, nil
		}
	}
	return nil, nil
}

func (tx *memoryTx) AppendEscalationHistory(_ context.Context, h *models.EscalationHistoryEntry) error {
	tx.state.seq.escalationHistory++
	h.ID = tx.state.seq.escalationHistory
	tx.state.escalationHistory = append(tx.state.escalationHistory, *h)
	return nil
}

func (tx *memoryTx) ListEscalationHistory(_ context.Context, escalationID int64) ([]models.EscalationHistoryEntry, error) {
	var out []models.EscalationHistoryEntry
	for _, h := range tx.state.escalationHistory {
		if h.EscalationID == escalationID {
			out = append(out, h)
		}
	}
	return out, nil
}
