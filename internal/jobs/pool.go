package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"revscore/internal/metrics"
)

// FetchJobSpec describes one background score-fetch job: a fixed-size slice
// of cache-miss revisions for a set of models. Parents optionally maps a
// revision to its immediate predecessor for superseded-score cleanup.
type FetchJobSpec struct {
	ID          string
	RevisionIDs []int64
	Models      []string
	Parents     map[int64]int64
}

// NewFetchJobSpec assigns a job id.
func NewFetchJobSpec(revisionIDs []int64, modelNames []string, parents map[int64]int64) FetchJobSpec {
	return FetchJobSpec{
		ID:          uuid.NewString(),
		RevisionIDs: revisionIDs,
		Models:      modelNames,
		Parents:     parents,
	}
}

// Queue is the enqueue contract: fire-and-forget submission. Enqueue reports
// whether the job was accepted; a full queue drops the job, leaving its
// revisions uncached for a future request.
type Queue interface {
	Enqueue(spec FetchJobSpec) bool
}

// QueueFunc adapts a function to the Queue interface. Lets the pool and its
// runner reference each other without a constructor cycle.
type QueueFunc func(FetchJobSpec) bool

func (f QueueFunc) Enqueue(spec FetchJobSpec) bool { return f(spec) }

// Runner executes one fetch job. Implemented by the score service.
type Runner interface {
	RunFetchJob(ctx context.Context, spec FetchJobSpec) error
}

// Pool is an in-process worker pool consuming fetch jobs from a bounded
// channel. Jobs carry no ordering guarantee and share no in-memory state;
// the persistent store is the only shared resource, and its idempotent
// inserts make overlapping jobs converge safely.
type Pool struct {
	ch      chan FetchJobSpec
	workers int
	runner  Runner
	logger  *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewPool(workers, queueSize int, runner Runner, m *metrics.Metrics, logger *zap.Logger) *Pool {
	return &Pool{
		ch:      make(chan FetchJobSpec, queueSize),
		workers: workers,
		runner:  runner,
		logger:  logger,
		metrics: m,
	}
}

// Enqueue submits a job without blocking.
func (p *Pool) Enqueue(spec FetchJobSpec) bool {
	select {
	case p.ch <- spec:
		p.metrics.JobsEnqueued.Inc()
		return true
	default:
		p.metrics.JobsDropped.Inc()
		p.logger.Warn("Fetch job queue full, dropping job",
			zap.String("job_id", spec.ID), zap.Int("revisions", len(spec.RevisionIDs)))
		return false
	}
}

// Start launches the workers. They exit once ctx is cancelled; in-flight
// jobs always run to completion or fail, there is no per-job cancellation.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Fetch worker pool started", zap.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case spec := <-p.ch:
			// Detach from ctx's cancellation but not its values: a shutdown
			// must not abort a job that is already writing.
			if err := p.runner.RunFetchJob(context.WithoutCancel(ctx), spec); err != nil {
				p.metrics.JobsFailed.Inc()
				p.logger.Error("Fetch job failed",
					zap.String("job_id", spec.ID),
					zap.Int("revisions", len(spec.RevisionIDs)),
					zap.Error(err))
			}
		}
	}
}
