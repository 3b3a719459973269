package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
)

func (env *testEnv) appeal(t *testing.T, reportID int64, kind models.AppealKind, rework bool) *models.Appeal {
	t.Helper()
	a, err := env.engine.SubmitAppeal(env.ctx, lifecycle.AppealInput{
		ReportID:       reportID,
		Kind:           kind,
		Reason:         "work was not done properly",
		RequiresRework: rework,
		EvidenceURLs:   []string{"http://localhost:9000/evidence/a.jpg"},
	}, reporterID)
	require.NoError(t, err)
	return a
}

func TestReworkAppealReopensClosedReport(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusClosed)

	a := env.appeal(t, r.ID, models.AppealResolution, true)
	assert.Equal(t, models.AppealSubmitted, a.Status)
	flagged, err := env.engine.GetReport(env.ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, flagged.NeedsReview)

	a, err = env.engine.ReviewAppeal(env.ctx, a.ID, models.AppealUnderReview, "", operatorID)
	require.NoError(t, err)
	a, err = env.engine.ReviewAppeal(env.ctx, a.ID, models.AppealApproved, "photos confirm", operatorID)
	require.NoError(t, err)
	assert.Equal(t, models.AppealApproved, a.Status)
	assert.NotNil(t, a.ResolvedAt)
	assert.Equal(t, operatorID, *a.ReviewedBy)

	got, err := env.engine.GetReport(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReopened, got.Status)
	assert.False(t, got.NeedsReview)
	assert.Equal(t, models.TaskAssigned, got.Task.Status)

	history, err := env.engine.History(env.ctx, r.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, models.StatusClosed, *last.OldStatus)
	assert.Equal(t, models.StatusReopened, last.NewStatus)
	assert.Contains(t, last.Notes, "appeal")

	// The reopened report continues through ordinary work.
	got, err = env.engine.StartWork(env.ctx, r.ID, officerID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

func TestReworkAppealFromVerificationReturnsToWork(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusPendingVerification)
	a := env.appeal(t, r.ID, models.AppealResolution, true)

	_, err := env.engine.ReviewAppeal(env.ctx, a.ID, models.AppealUnderReview, "", operatorID)
	require.NoError(t, err)
	_, err = env.engine.ReviewAppeal(env.ctx, a.ID, models.AppealApproved, "", operatorID)
	require.NoError(t, err)

	got, err := env.engine.GetReport(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

func TestReworkAppealRollsBackOnIllegalTarget(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusPendingVerification)
	a := env.appeal(t, r.ID, models.AppealResolution, true)
	_, err := env.engine.ReviewAppeal(env.ctx, a.ID, models.AppealUnderReview, "", operatorID)
	require.NoError(t, err)
	// The report is rejected while the appeal sits in review.
	_, err = env.engine.TransitionStatus(env.ctx, r.ID, models.StatusRejected, "not a municipal matter", operatorID)
	require.NoError(t, err)
	auditBefore := len(env.store.AuditEntries())

	_, err = env.engine.ReviewAppeal(env.ctx, a.ID, models.AppealApproved, "", operatorID)
	assert.Equal(t, lifecycle.KindInvalidTransition, lifecycle.KindOf(err))

	appeals, err := env.engine.Appeals(env.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, appeals, 1)
	assert.Equal(t, models.AppealUnderReview, appeals[0].Status)

	got, err := env.engine.GetReport(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Len(t, env.store.AuditEntries(), auditBefore)
}

func TestSubmitReworkAppealRequiresReachableTarget(t *testing.T) {
	cases := []struct {
		name   string
		target models.Status
		kind   models.AppealKind
	}{
		{"rejected report", models.StatusRejected, models.AppealResolution},
		{"report in progress", models.StatusInProgress, models.AppealAssignment},
		{"report awaiting acknowledgement", models.StatusAssignedToOfficer, models.AppealClassification},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			var r *models.Report
			if tc.target == models.StatusRejected {
				r = env.advance(t, env.create(t).ID, models.StatusPendingVerification)
				var err error
				r, err = env.engine.TransitionStatus(env.ctx, r.ID, models.StatusRejected, "", operatorID)
				require.NoError(t, err)
			} else {
				r = env.advance(t, env.create(t).ID, tc.target)
			}
			auditBefore := len(env.store.AuditEntries())

			_, err := env.engine.SubmitAppeal(env.ctx, lifecycle.AppealInput{
				ReportID:       r.ID,
				Kind:           tc.kind,
				Reason:         "the work has to be redone",
				RequiresRework: true,
			}, reporterID)
			var pe *lifecycle.PrerequisiteError
			require.ErrorAs(t, err, &pe)
			assert.True(t, pe.Has(lifecycle.PrereqReworkReachable))

			appeals, err := env.engine.Appeals(env.ctx, r.ID)
			require.NoError(t, err)
			assert.Empty(t, appeals)
			assert.Len(t, env.store.AuditEntries(), auditBefore)

			// The same grievance without rework is still recorded.
			a := env.appeal(t, r.ID, tc.kind, false)
			assert.Equal(t, models.AppealSubmitted, a.Status)
		})
	}
}

func TestRejectedAppealLeavesReportAlone(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusResolved)
	a := env.appeal(t, r.ID, models.AppealResolution, true)

	_, err := env.engine.ReviewAppeal(env.ctx, a.ID, models.AppealApproved, "", operatorID)
	assert.Equal(t, lifecycle.KindInvalidTransition, lifecycle.KindOf(err), "approval requires review first")

	_, err = env.engine.ReviewAppeal(env.ctx, a.ID, models.AppealUnderReview, "", operatorID)
	require.NoError(t, err)
	a, err = env.engine.ReviewAppeal(env.ctx, a.ID, models.AppealRejected, "fixed on site", operatorID)
	require.NoError(t, err)
	assert.Equal(t, models.AppealRejected, a.Status)

	got, err := env.engine.GetReport(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.False(t, got.NeedsReview)

	_, err = env.engine.TransitionStatus(env.ctx, r.ID, models.StatusClosed, "", operatorID)
	assert.NoError(t, err)
}

func TestSubmitAppealRequiresAppealableReport(t *testing.T) {
	env := newTestEnv(t)
	r := env.create(t)

	_, err := env.engine.SubmitAppeal(env.ctx, lifecycle.AppealInput{
		ReportID: r.ID,
		Kind:     models.AppealClassification,
		Reason:   "wrong category",
	}, reporterID)
	var pe *lifecycle.PrerequisiteError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, lifecycle.MachineAppeal, pe.Machine)
	assert.True(t, pe.Has(lifecycle.PrereqAppealableStatus))

	_, err = env.engine.SubmitAppeal(env.ctx, lifecycle.AppealInput{ReportID: r.ID, Kind: "refund", Reason: "x"}, reporterID)
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	_, err = env.engine.SubmitAppeal(env.ctx, lifecycle.AppealInput{ReportID: 404, Kind: models.AppealResolution, Reason: "x"}, reporterID)
	assert.Equal(t, lifecycle.KindNotFound, lifecycle.KindOf(err))
}

func TestWithdrawAppeal(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusClassified)
	a := env.appeal(t, r.ID, models.AppealClassification, false)

	_, err := env.engine.WithdrawAppeal(env.ctx, a.ID, operatorID)
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	a, err = env.engine.WithdrawAppeal(env.ctx, a.ID, reporterID)
	require.NoError(t, err)
	assert.Equal(t, models.AppealWithdrawn, a.Status)

	_, err = env.engine.WithdrawAppeal(env.ctx, a.ID, reporterID)
	assert.Equal(t, lifecycle.KindInvalidTransition, lifecycle.KindOf(err))

	got, err := env.engine.GetReport(env.ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, got.NeedsReview)
}

func TestEscalationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusInProgress)

	esc, err := env.engine.CreateEscalation(env.ctx, lifecycle.EscalationInput{ReportID: r.ID, Reason: "no progress in a week"}, operatorID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationEscalated, esc.Status)
	assert.Equal(t, models.EscalationLevel1, esc.Level)
	assert.Equal(t, esc.CreatedAt.Add(48*time.Hour), esc.SLADeadline)

	_, err = env.engine.UpdateEscalation(env.ctx, esc.ID, models.EscalationUnderReview, "", operatorID)
	assert.Equal(t, lifecycle.KindInvalidTransition, lifecycle.KindOf(err))

	esc, err = env.engine.AcknowledgeEscalation(env.ctx, esc.ID, operatorID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationAcknowledged, esc.Status)

	esc, err = env.engine.UpdateEscalation(env.ctx, esc.ID, models.EscalationUnderReview, "", operatorID)
	require.NoError(t, err)
	esc, err = env.engine.UpdateEscalation(env.ctx, esc.ID, models.EscalationActionTaken, "crew dispatched", operatorID)
	require.NoError(t, err)
	esc, err = env.engine.UpdateEscalation(env.ctx, esc.ID, models.EscalationResolved, "", operatorID)
	require.NoError(t, err)
	assert.NotNil(t, esc.ResolvedAt)
	assert.Equal(t, "crew dispatched", esc.ResolutionNotes)

	_, err = env.engine.UpdateEscalation(env.ctx, esc.ID, models.EscalationDeEscalated, "", operatorID)
	assert.Equal(t, lifecycle.KindInvalidTransition, lifecycle.KindOf(err))

	// The report itself never moved.
	got, err := env.engine.GetReport(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)

	audit, err := env.engine.AuditTrail(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countAction(audit, models.ActionEscalationCreated))
	assert.Equal(t, 1, countAction(audit, models.ActionEscalationAcknowledged))
	assert.Equal(t, 3, countAction(audit, models.ActionEscalationUpdated))
}

func TestOneActiveEscalationPerReport(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusAssignedToOfficer)

	esc, err := env.engine.CreateEscalation(env.ctx, lifecycle.EscalationInput{ReportID: r.ID, Reason: "ignored"}, operatorID)
	require.NoError(t, err)
	_, err = env.engine.CreateEscalation(env.ctx, lifecycle.EscalationInput{ReportID: r.ID, Reason: "again"}, operatorID)
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	_, err = env.engine.UpdateEscalation(env.ctx, esc.ID, models.EscalationDeEscalated, "false alarm", operatorID)
	require.NoError(t, err)
	_, err = env.engine.CreateEscalation(env.ctx, lifecycle.EscalationInput{ReportID: r.ID, Reason: "again"}, operatorID)
	assert.NoError(t, err)

	closed := env.advance(t, env.create(t).ID, models.StatusClosed)
	_, err = env.engine.CreateEscalation(env.ctx, lifecycle.EscalationInput{ReportID: closed.ID, Reason: "late"}, operatorID)
	assert.Equal(t, lifecycle.KindInvalidTransition, lifecycle.KindOf(err))
}

func TestEscalateFurther(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusAcknowledged)
	esc, err := env.engine.CreateEscalation(env.ctx, lifecycle.EscalationInput{ReportID: r.ID, Reason: "slow"}, operatorID)
	require.NoError(t, err)
	esc, err = env.engine.AcknowledgeEscalation(env.ctx, esc.ID, operatorID)
	require.NoError(t, err)

	esc, err = env.engine.EscalateFurther(env.ctx, esc.ID, "still slow", nil, operatorID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationLevel2, esc.Level)
	assert.Equal(t, models.EscalationEscalated, esc.Status)
	assert.Equal(t, "still slow", esc.Reason)

	esc, err = env.engine.EscalateFurther(env.ctx, esc.ID, "", nil, operatorID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationLevel3, esc.Level)

	_, err = env.engine.EscalateFurther(env.ctx, esc.ID, "", nil, operatorID)
	var ve *lifecycle.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "level", ve.Field)

	other := env.create(t)
	past := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = env.engine.CreateEscalation(env.ctx, lifecycle.EscalationInput{ReportID: other.ID, Reason: "x", Deadline: &past}, operatorID)
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))
}

func TestEscalationOverdueIsDerived(t *testing.T) {
	env := newTestEnv(t)
	r := env.advance(t, env.create(t).ID, models.StatusInProgress)
	esc, err := env.engine.CreateEscalation(env.ctx, lifecycle.EscalationInput{
		ReportID: r.ID,
		Level:    models.EscalationLevel3,
		Reason:   "hazard",
	}, operatorID)
	require.NoError(t, err)
	assert.False(t, esc.IsOverdue)

	env.clock.Advance(9 * time.Hour)
	list, err := env.engine.Escalations(env.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsOverdue)
}

func TestEscalateOverdue(t *testing.T) {
	env := newTestEnv(t)
	late := env.create(t)
	closed := env.advance(t, env.create(t).ID, models.StatusClosed)

	env.clock.Advance(models.SeverityMedium.SLATarget() + time.Hour)
	fresh := env.create(t)

	n, err := env.engine.EscalateOverdue(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := env.engine.Escalations(env.ctx, late.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].RaisedBy)

	for _, id := range []int64{closed.ID, fresh.ID} {
		list, err := env.engine.Escalations(env.ctx, id)
		require.NoError(t, err)
		assert.Empty(t, list)
	}

	n, err = env.engine.EscalateOverdue(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
