package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/internal/storage"
)

func newTestTracker(t *testing.T) (*Tracker, *storage.SQLiteStorage, *metrics.Metrics) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	m := metrics.NewMetrics()
	return NewTracker(store, WithMetrics(m)), store, m
}

func TestTracker_HappyPath(t *testing.T) {
	tr, store, _ := newTestTracker(t)
	ctx := context.Background()

	job, err := tr.Create(ctx, "acme", models.JobIngest, models.JobPayload{DatasetID: "ds1", DocumentID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.NotEmpty(t, job.ID)

	require.NoError(t, tr.Start(ctx, job, 10))
	assert.Equal(t, models.JobRunning, job.Status)
	assert.Equal(t, 10, job.Progress)

	for _, p := range []int{40, 60, 80} {
		require.NoError(t, tr.Progress(ctx, job, p))
	}
	require.NoError(t, tr.Succeed(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Empty(t, got.Error)
	assert.Equal(t, "d1", got.Payload.DocumentID)
}

func TestTracker_ProgressIsMonotonic(t *testing.T) {
	tr, store, _ := newTestTracker(t)
	ctx := context.Background()
	job, _ := tr.Create(ctx, "acme", models.JobReindex, models.JobPayload{DatasetID: "ds1"})
	require.NoError(t, tr.Start(ctx, job, 5))

	require.NoError(t, tr.Progress(ctx, job, 50))
	require.NoError(t, tr.Progress(ctx, job, 20))
	assert.Equal(t, 50, job.Progress)
	require.NoError(t, tr.Progress(ctx, job, 250))
	assert.Equal(t, 100, job.Progress, "progress is clamped to 100")

	got, _ := store.GetJob(ctx, job.ID)
	assert.Equal(t, 100, got.Progress)

	// Start on a running job never lowers progress either.
	require.NoError(t, tr.Start(ctx, job, 10))
	assert.Equal(t, 100, job.Progress)
}

func TestTracker_StartUsesNonZeroProgress(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()
	job, _ := tr.Create(ctx, "acme", models.JobIngest, models.JobPayload{})
	require.NoError(t, tr.Start(ctx, job, 0))
	assert.Equal(t, 1, job.Progress)
}

func TestTracker_FailRecordsError(t *testing.T) {
	tr, store, m := newTestTracker(t)
	ctx := context.Background()
	job, _ := tr.Create(ctx, "acme", models.JobIngest, models.JobPayload{})
	require.NoError(t, tr.Start(ctx, job, 10))
	require.NoError(t, tr.Fail(ctx, job, errors.New("parse exploded")))

	got, _ := store.GetJob(ctx, job.ID)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "parse exploded", got.Error)
	assert.Equal(t, 10, got.Progress)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("ingest", "failed")))
}

func TestTracker_TerminalStates(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	done, _ := tr.Create(ctx, "acme", models.JobIngest, models.JobPayload{})
	require.NoError(t, tr.Start(ctx, done, 10))
	require.NoError(t, tr.Succeed(ctx, done))

	assert.ErrorIs(t, tr.Start(ctx, done, 10), ErrTerminal)
	assert.ErrorIs(t, tr.Progress(ctx, done, 50), ErrTerminal)
	assert.ErrorIs(t, tr.Succeed(ctx, done), ErrTerminal)
	assert.ErrorIs(t, tr.Fail(ctx, done, errors.New("x")), ErrTerminal)
	assert.ErrorIs(t, tr.Restart(ctx, done, 10), ErrTerminal)
	assert.Equal(t, models.JobSucceeded, done.Status)

	failed, _ := tr.Create(ctx, "acme", models.JobIngest, models.JobPayload{})
	require.NoError(t, tr.Fail(ctx, failed, errors.New("before start")))
	assert.ErrorIs(t, tr.Start(ctx, failed, 10), ErrTerminal)
	assert.ErrorIs(t, tr.Fail(ctx, failed, errors.New("again")), ErrTerminal)
	assert.Equal(t, "before start", failed.Error)
}

func TestTracker_NotRunning(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()
	job, _ := tr.Create(ctx, "acme", models.JobIngest, models.JobPayload{})
	assert.ErrorIs(t, tr.Progress(ctx, job, 40), ErrNotRunning)
	assert.ErrorIs(t, tr.Succeed(ctx, job), ErrNotRunning)
}

func TestTracker_Restart(t *testing.T) {
	tr, store, _ := newTestTracker(t)
	ctx := context.Background()
	job, _ := tr.Create(ctx, "acme", models.JobIngest, models.JobPayload{})
	require.NoError(t, tr.Start(ctx, job, 10))
	require.NoError(t, tr.Progress(ctx, job, 60))
	require.NoError(t, tr.Fail(ctx, job, errors.New("embedder timeout")))

	require.NoError(t, tr.Restart(ctx, job, 10))
	got, _ := store.GetJob(ctx, job.ID)
	assert.Equal(t, models.JobRunning, got.Status)
	assert.Equal(t, 10, got.Progress)
	assert.Empty(t, got.Error)

	// Restart on a pending job behaves like Start.
	fresh, _ := tr.Create(ctx, "acme", models.JobIngest, models.JobPayload{})
	require.NoError(t, tr.Restart(ctx, fresh, 10))
	assert.Equal(t, models.JobRunning, fresh.Status)
}

func TestTracker_UpdateMissingJob(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	job := &models.Job{ID: "ghost", Status: models.JobPending}
	err := tr.Start(context.Background(), job, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
