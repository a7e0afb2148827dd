// Package queue runs ingest and reindex tasks on a bounded in-process worker pool.
// Delivery is at-least-once: a task whose handler fails is redelivered until it
// succeeds or runs out of attempts.
package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/pkg/utils"
)

// Handler runs tasks. Implementations must tolerate redelivery of a task.
type Handler interface {
	Ingest(ctx context.Context, task models.IngestTask) error
	Reindex(ctx context.Context, task models.ReindexTask) error
}

// Enqueuer schedules tasks. When a task cannot be queued it runs inline and its
// error is returned to the caller.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, task models.IngestTask) error
	EnqueueReindex(ctx context.Context, task models.ReindexTask) error
}

// Inline runs every task synchronously on the caller's goroutine.
type Inline struct {
	Handler Handler
}

func (q Inline) EnqueueIngest(ctx context.Context, task models.IngestTask) error {
	return q.Handler.Ingest(ctx, task)
}

func (q Inline) EnqueueReindex(ctx context.Context, task models.ReindexTask) error {
	return q.Handler.Reindex(ctx, task)
}

const (
	kindIngest  = "ingest"
	kindReindex = "reindex"
)

type task struct {
	ingest   *models.IngestTask
	reindex  *models.ReindexTask
	attempts int
}

func (t *task) kind() string {
	if t.reindex != nil {
		return kindReindex
	}
	return kindIngest
}

func (t *task) jobID() string {
	if t.reindex != nil {
		return t.reindex.JobID
	}
	return t.ingest.JobID
}

// Pool is a fixed set of workers draining a bounded task channel.
type Pool struct {
	handler     Handler
	tasks       chan *task
	workers     int
	maxAttempts int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = utils.OrNop(l) }
}

// WithMetrics records deliveries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// NewPool creates a pool over handler. Call Start before enqueuing.
func NewPool(handler Handler, cfg config.QueueConfig, opts ...Option) *Pool {
	p := &Pool{
		handler:     handler,
		tasks:       make(chan *task, max(cfg.Size, 1)),
		workers:     max(cfg.Workers, 1),
		maxAttempts: max(cfg.MaxAttempts, 1),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Tasks run with ctx, not the context of the request
// that enqueued them.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				p.deliver(ctx, t)
			}
		}()
	}
	p.logger.Info("task queue started", zap.Int("workers", p.workers), zap.Int("size", cap(p.tasks)))
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// EnqueueIngest queues an ingest task, or runs it inline when the queue is full or closed.
func (p *Pool) EnqueueIngest(ctx context.Context, t models.IngestTask) error {
	return p.enqueue(ctx, &task{ingest: &t})
}

// EnqueueReindex queues a reindex task, or runs it inline when the queue is full or closed.
func (p *Pool) EnqueueReindex(ctx context.Context, t models.ReindexTask) error {
	return p.enqueue(ctx, &task{reindex: &t})
}

func (p *Pool) enqueue(ctx context.Context, t *task) error {
	if p.offer(t) {
		return nil
	}
	p.logger.Warn("task queue unavailable, running inline", zap.String("kind", t.kind()), zap.String("job_id", t.jobID()))
	p.metrics.RecordTask(t.kind(), "inline")
	return p.run(ctx, t)
}

// offer queues t without blocking.
func (p *Pool) offer(t *task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- t:
		return true
	default:
		return false
	}
}

func (p *Pool) run(ctx context.Context, t *task) error {
	t.attempts++
	if t.reindex != nil {
		return p.handler.Reindex(ctx, *t.reindex)
	}
	return p.handler.Ingest(ctx, *t.ingest)
}

// deliver runs t and redelivers it on failure. A redelivery that cannot be queued
// runs on the current worker.
func (p *Pool) deliver(ctx context.Context, t *task) {
	for {
		err := p.run(ctx, t)
		if err == nil {
			p.metrics.RecordTask(t.kind(), "done")
			return
		}
		if t.attempts >= p.maxAttempts || ctx.Err() != nil {
			p.logger.Error("task failed", zap.String("kind", t.kind()), zap.String("job_id", t.jobID()),
				zap.Int("attempts", t.attempts), zap.Error(err))
			p.metrics.RecordTask(t.kind(), "failed")
			return
		}
		p.logger.Warn("task failed, redelivering", zap.String("kind", t.kind()), zap.String("job_id", t.jobID()),
			zap.Int("attempt", t.attempts), zap.Error(err))
		p.metrics.RecordTask(t.kind(), "redelivered")
		if p.offer(t) {
			return
		}
	}
}
