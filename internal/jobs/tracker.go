// Package jobs drives the ingest/reindex job state machine:
// pending -> running -> succeeded | failed.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/pkg/utils"
)

var (
	// ErrTerminal is returned for a transition out of succeeded or failed.
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrNotRunning is returned when progress or success is reported for a job that was never started.
	ErrNotRunning = errors.New("job is not running")
)

// Store persists jobs.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
}

// Tracker applies transitions to jobs and persists each one.
// A job value must not be shared between goroutines while it is tracked.
type Tracker struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = utils.OrNop(l) }
}

// WithMetrics records terminal transitions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create persists a new pending job.
func (t *Tracker) Create(ctx context.Context, tenantID string, typ models.JobType, payload models.JobPayload) (*models.Job, error) {
	job := &models.Job{TenantID: tenantID, Type: typ, Status: models.JobPending, Payload: payload}
	if err := t.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	t.logger.Debug("job created", zap.String("job_id", job.ID), zap.String("type", string(typ)))
	return job, nil
}

// Get loads a job.
func (t *Tracker) Get(ctx context.Context, id string) (*models.Job, error) {
	return t.store.GetJob(ctx, id)
}

// Start moves a pending job to running with a non-zero initial progress.
// Starting a running job only advances its progress.
func (t *Tracker) Start(ctx context.Context, job *models.Job, progress int) error {
	switch job.Status {
	case models.JobPending, models.JobRunning:
	default:
		return fmt.Errorf("start job %s (%s): %w", job.ID, job.Status, ErrTerminal)
	}
	if progress < 1 {
		progress = 1
	}
	job.Status = models.JobRunning
	if progress > job.Progress {
		job.Progress = clamp(progress)
	}
	job.Error = ""
	if err := t.save(ctx, job); err != nil {
		return err
	}
	t.logger.Info("job started", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}

// Progress raises a running job's progress. Lower values are ignored so progress
// never decreases.
func (t *Tracker) Progress(ctx context.Context, job *models.Job, progress int) error {
	if job.Status.Terminal() {
		return fmt.Errorf("progress on job %s (%s): %w", job.ID, job.Status, ErrTerminal)
	}
	if job.Status != models.JobRunning {
		return fmt.Errorf("progress on job %s: %w", job.ID, ErrNotRunning)
	}
	progress = clamp(progress)
	if progress <= job.Progress {
		return nil
	}
	job.Progress = progress
	return t.save(ctx, job)
}

// Succeed completes a running job with progress 100 and no error.
func (t *Tracker) Succeed(ctx context.Context, job *models.Job) error {
	if job.Status.Terminal() {
		return fmt.Errorf("succeed job %s (%s): %w", job.ID, job.Status, ErrTerminal)
	}
	if job.Status != models.JobRunning {
		return fmt.Errorf("succeed job %s: %w", job.ID, ErrNotRunning)
	}
	job.Status = models.JobSucceeded
	job.Progress = 100
	job.Error = ""
	if err := t.save(ctx, job); err != nil {
		return err
	}
	t.finished(job)
	return nil
}

// Fail records cause on a pending or running job.
func (t *Tracker) Fail(ctx context.Context, job *models.Job, cause error) error {
	if job.Status.Terminal() {
		return fmt.Errorf("fail job %s (%s): %w", job.ID, job.Status, ErrTerminal)
	}
	job.Status = models.JobFailed
	job.Error = "unknown error"
	if cause != nil {
		job.Error = cause.Error()
	}
	if err := t.save(ctx, job); err != nil {
		return err
	}
	t.logger.Warn("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.String("error", job.Error))
	t.finished(job)
	return nil
}

// Restart moves a failed job back to running so a redelivered task can retry it.
// It is the only transition out of a terminal state; progress restarts at the
// given checkpoint.
func (t *Tracker) Restart(ctx context.Context, job *models.Job, progress int) error {
	if job.Status != models.JobFailed {
		if job.Status == models.JobSucceeded {
			return fmt.Errorf("restart job %s: %w", job.ID, ErrTerminal)
		}
		return t.Start(ctx, job, progress)
	}
	if progress < 1 {
		progress = 1
	}
	job.Status = models.JobRunning
	job.Progress = clamp(progress)
	job.Error = ""
	if err := t.save(ctx, job); err != nil {
		return err
	}
	t.logger.Info("job restarted", zap.String("job_id", job.ID))
	return nil
}

func (t *Tracker) save(ctx context.Context, job *models.Job) error {
	if err := t.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return nil
}

func (t *Tracker) finished(job *models.Job) {
	var d time.Duration
	if !job.CreatedAt.IsZero() {
		d = t.now().Sub(job.CreatedAt)
	}
	t.metrics.RecordJob(string(job.Type), string(job.Status), d)
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
