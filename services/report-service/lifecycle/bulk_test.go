package lifecycle_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
)

func countAction(entries []models.AuditEntry, action models.AuditAction) int {
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func TestBulkIsolatesInvalidItems(t *testing.T) {
	env := newTestEnv(t)
	a := env.advance(t, env.create(t).ID, models.StatusAssignedToDepartment)
	b := env.create(t) // RECEIVED cannot go on hold
	c := env.advance(t, env.create(t).ID, models.StatusAssignedToDepartment)
	auditBefore := env.store.AuditEntries()

	res, err := env.engine.Bulk(env.ctx, []int64{a.ID, b.ID, c.ID, b.ID}, lifecycle.BulkOperation{
		Kind:   lifecycle.BulkStatusChange,
		Status: models.StatusOnHold,
		Notes:  "budget freeze",
	}, operatorID)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.DuplicatesSkipped)
	assert.Equal(t, []int64{a.ID, c.ID}, res.SuccessfulIDs)
	assert.Equal(t, []int64{b.ID}, res.FailedIDs)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, b.ID, res.Errors[0].ID)
	assert.Equal(t, lifecycle.KindInvalidTransition, res.Errors[0].Reason)

	for id, want := range map[int64]models.Status{
		a.ID: models.StatusOnHold,
		b.ID: models.StatusReceived,
		c.ID: models.StatusOnHold,
	} {
		got, err := env.engine.GetReport(env.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "report %d", id)
	}

	after := env.store.AuditEntries()
	assert.Len(t, after, len(auditBefore)+1, "one audit entry for the whole batch")
	batch := after[len(after)-1]
	assert.Equal(t, models.ActionBulkOperation, batch.Action)
	assert.Equal(t, models.ResourceReportBatch, batch.ResourceType)
	assert.Equal(t, 2, batch.Metadata["successful"])
	assert.Equal(t, 1, batch.Metadata["failed"])

	// Per-item history is still written.
	assert.Equal(t, models.StatusOnHold, historyStatuses(t, env, a.ID)[3])
}

func TestBulkRecordsUnknownIDs(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusClassified)

	res, err := env.engine.Bulk(env.ctx, []int64{404, r.ID}, lifecycle.BulkOperation{
		Kind:         lifecycle.BulkAssignDepartment,
		DepartmentID: departmentID,
	}, operatorID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, []int64{r.ID}, res.SuccessfulIDs)
	assert.Equal(t, []int64{404}, res.FailedIDs)
	assert.Equal(t, lifecycle.KindNotFound, res.Errors[0].Reason)

	got, err := env.engine.GetReport(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssignedToDepartment, got.Status)
}

func TestBulkLogsEachFailedItem(t *testing.T) {
	env := newTestEnv(t)
	core, logs := observer.New(zapcore.WarnLevel)
	env.engine.Logger = zap.New(core)

	ok := env.advance(t, env.create(t).ID, models.StatusAssignedToDepartment)
	stuck := env.create(t)

	res, err := env.engine.Bulk(env.ctx, []int64{ok.ID, stuck.ID, 404}, lifecycle.BulkOperation{
		Kind:   lifecycle.BulkStatusChange,
		Status: models.StatusOnHold,
	}, operatorID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)

	failed := logs.FilterMessage("bulk item failed").All()
	require.Len(t, failed, 2)
	reasons := map[int64]string{}
	for _, entry := range failed {
		assert.Equal(t, zapcore.WarnLevel, entry.Level)
		fields := entry.ContextMap()
		reasons[fields["report_id"].(int64)] = fields["reason"].(string)
	}
	assert.Equal(t, map[int64]string{
		stuck.ID: string(lifecycle.KindInvalidTransition),
		404:      string(lifecycle.KindNotFound),
	}, reasons)
}

func TestBulkRejectsOversizedBatch(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusAssignedToDepartment)
	auditBefore := len(env.store.AuditEntries())

	ids := make([]int64, 0, lifecycle.DefaultBatchLimit+1)
	ids = append(ids, r.ID)
	for i := int64(1000); len(ids) <= lifecycle.DefaultBatchLimit; i++ {
		ids = append(ids, i)
	}
	res, err := env.engine.Bulk(env.ctx, ids, lifecycle.BulkOperation{
		Kind:   lifecycle.BulkStatusChange,
		Status: models.StatusOnHold,
	}, operatorID)
	assert.Nil(t, res)
	var ve *lifecycle.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "ids", ve.Field)

	got, err := env.engine.GetReport(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssignedToDepartment, got.Status)
	assert.Len(t, env.store.AuditEntries(), auditBefore)
}

func TestBulkCeilingAppliesAfterDeduplication(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusAssignedToDepartment)

	ids := make([]int64, 0, 150)
	for len(ids) < 150 {
		ids = append(ids, r.ID)
	}
	res, err := env.engine.Bulk(env.ctx, ids, lifecycle.BulkOperation{
		Kind:   lifecycle.BulkStatusChange,
		Status: models.StatusOnHold,
	}, operatorID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 149, res.DuplicatesSkipped)
}

func TestBulkRejectsInvalidParameters(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Bulk(env.ctx, []int64{1}, lifecycle.BulkOperation{Kind: "archive"}, operatorID)
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	_, err = env.engine.Bulk(env.ctx, nil, lifecycle.BulkOperation{Kind: lifecycle.BulkChangeSeverity, Severity: models.SeverityLow}, operatorID)
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))
}

func TestBulkCommitFailureFailsEveryItem(t *testing.T) {
	env := newTestEnv(t)
	a := env.advance(t, env.create(t).ID, models.StatusAssignedToDepartment)
	b := env.advance(t, env.create(t).ID, models.StatusAssignedToDepartment)
	emitted := len(env.sink.actions())

	env.store.FailCommits(errors.New("connection reset by peer"))
	res, err := env.engine.Bulk(env.ctx, []int64{a.ID, b.ID, 404}, lifecycle.BulkOperation{
		Kind:   lifecycle.BulkStatusChange,
		Status: models.StatusOnHold,
	}, operatorID)
	require.NoError(t, err)
	env.store.FailCommits(nil)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 0, res.Successful)
	assert.Equal(t, 3, res.Failed)
	assert.Empty(t, res.SuccessfulIDs)
	for _, e := range res.Errors {
		assert.Equal(t, lifecycle.KindStorage, e.Reason)
	}
	assert.Len(t, env.sink.actions(), emitted)

	for _, id := range []int64{a.ID, b.ID} {
		got, err := env.engine.GetReport(env.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAssignedToDepartment, got.Status)
	}
	assert.Zero(t, countAction(env.store.AuditEntries(), models.ActionBulkOperation))
}

func TestBulkCapsErrorList(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Config.ErrorListLimit = 2

	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, env.create(t).ID)
	}
	ok := env.advance(t, env.create(t).ID, models.StatusAssignedToDepartment)
	ids = append(ids, ok.ID)

	res, err := env.engine.Bulk(env.ctx, ids, lifecycle.BulkOperation{
		Kind:      lifecycle.BulkAssignOfficer,
		OfficerID: officerID,
	}, operatorID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 4, res.Failed)
	assert.Len(t, res.FailedIDs, 4)
	assert.Len(t, res.Errors, 2)
	assert.True(t, res.ErrorsTruncated)

	got, err := env.engine.GetReport(env.ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssignedToOfficer, got.Status)
	require.NotNil(t, got.Task)
	assert.Equal(t, officerID, *got.Task.OfficerID)
}

func TestBulkChangeSeverity(t *testing.T) {
	env := newTestEnv(t)
	open := env.advance(t, env.create(t).ID, models.StatusAssignedToOfficer)
	closed := env.advance(t, env.create(t).ID, models.StatusClosed)

	res, err := env.engine.Bulk(env.ctx, []int64{open.ID, closed.ID}, lifecycle.BulkOperation{
		Kind:     lifecycle.BulkChangeSeverity,
		Severity: models.SeverityCritical,
	}, operatorID)
	require.NoError(t, err)
	assert.Equal(t, []int64{open.ID}, res.SuccessfulIDs)
	assert.Equal(t, lifecycle.KindValidation, res.Errors[0].Reason)

	got, err := env.engine.GetReport(env.ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, got.Severity)
	assert.Equal(t, models.SeverityCritical.Priority(), got.Task.Priority)
}
