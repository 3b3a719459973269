package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
	"civic-issue-tracker/services/report-service/store"
)

func seedReport(t *testing.T, s *store.Memory) *models.Report {
	t.Helper()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	r := &models.Report{
		ReportNumber:    models.NewReportNumber(now),
		Title:           "Flooded underpass",
		ReporterID:      7,
		Status:          models.StatusReceived,
		Severity:        models.SeverityHigh,
		SLADeadline:     now.Add(72 * time.Hour),
		CreatedAt:       now,
		StatusUpdatedAt: now,
		UpdatedAt:       now,
	}
	require.NoError(t, s.RunInTx(context.Background(), func(tx lifecycle.Tx) error {
		return tx.CreateReport(context.Background(), r)
	}))
	return r
}

func TestMemoryRollsBackFailedTransaction(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	r := seedReport(t, s)

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx lifecycle.Tx) error {
		got, err := tx.GetReport(ctx, r.ID)
		require.NoError(t, err)
		got.Status = models.StatusClassified
		require.NoError(t, tx.SaveReport(ctx, got))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.RunInTx(ctx, func(tx lifecycle.Tx) error {
		got, err := tx.GetReport(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReceived, got.Status)
		assert.Equal(t, int64(1), got.Version)
		return nil
	}))
}

func TestMemoryDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	r := seedReport(t, s)

	err := s.RunInTx(ctx, func(tx lifecycle.Tx) error {
		first, err := tx.GetReport(ctx, r.ID)
		require.NoError(t, err)
		stale, err := tx.GetReport(ctx, r.ID)
		require.NoError(t, err)

		require.NoError(t, tx.SaveReport(ctx, first))
		assert.Equal(t, int64(2), first.Version)
		return tx.SaveReport(ctx, stale)
	})
	var conflict *lifecycle.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, r.ID, conflict.ID)
	assert.Equal(t, lifecycle.KindConflict, lifecycle.KindOf(err))
}

func TestMemoryNestedDiscardsOnlyFailedUnit(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	a := seedReport(t, s)
	b := seedReport(t, s)

	require.NoError(t, s.RunInTx(ctx, func(tx lifecycle.Tx) error {
		err := tx.Nested(ctx, func(sub lifecycle.Tx) error {
			got, err := sub.GetReport(ctx, a.ID)
			require.NoError(t, err)
			got.Status = models.StatusPendingClassification
			return sub.SaveReport(ctx, got)
		})
		require.NoError(t, err)

		err = tx.Nested(ctx, func(sub lifecycle.Tx) error {
			got, err := sub.GetReport(ctx, b.ID)
			require.NoError(t, err)
			got.Status = models.StatusPendingClassification
			require.NoError(t, sub.SaveReport(ctx, got))
			return errors.New("item failed")
		})
		assert.Error(t, err)
		return nil
	}))

	require.NoError(t, s.RunInTx(ctx, func(tx lifecycle.Tx) error {
		found, err := tx.GetReports(ctx, []int64{a.ID, b.ID, 99})
		require.NoError(t, err)
		assert.Len(t, found, 2)
		assert.Equal(t, models.StatusPendingClassification, found[a.ID].Status)
		assert.Equal(t, models.StatusReceived, found[b.ID].Status)
		return nil
	}))
}

func TestMemoryCommitFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	s.FailCommits(errors.New("fsync failed"))

	err := s.RunInTx(ctx, func(tx lifecycle.Tx) error { return nil })
	var se *lifecycle.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "commit", se.Op)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	s.FailCommits(nil)
	err = s.RunInTx(cancelled, func(tx lifecycle.Tx) error { return nil })
	assert.Equal(t, lifecycle.KindStorage, lifecycle.KindOf(err))
}

func TestMemoryListReportsFilter(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	a := seedReport(t, s)
	seedReport(t, s)

	cutoff := a.SLADeadline.Add(time.Minute)
	require.NoError(t, s.RunInTx(ctx, func(tx lifecycle.Tx) error {
		got, err := tx.ListReports(ctx, lifecycle.ReportFilter{DeadlineLapse: &cutoff, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.ID, got[0].ID)

		got, err = tx.ListReports(ctx, lifecycle.ReportFilter{Statuses: []models.Status{models.StatusClosed}})
		require.NoError(t, err)
		assert.Empty(t, got)
		return nil
	}))
}
