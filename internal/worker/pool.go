package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
)

// Pool drains the scheduler's priority queues with a fixed set of worker
// goroutines, dispatching each job to the handler registered for its type.
type Pool struct {
	sched    *queue.Scheduler
	logger   *slog.Logger
	handlers map[queue.JobType]Handler
	workers  int
	idle     time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// PoolOption configures optional Pool behavior.
type PoolOption func(*Pool)

// WithWorkers overrides the configured worker count.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithIdleInterval overrides how long an idle worker sleeps between polls.
func WithIdleInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.idle = d
		}
	}
}

// NewPool constructs a worker pool bound to the scheduler. Worker count and
// idle polling come from the engine configuration; a nil config falls back to
// modest defaults.
func NewPool(cfg *config.Config, sched *queue.Scheduler, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		sched:    sched,
		logger:   logging.NewComponentLogger(logger, "worker"),
		handlers: make(map[queue.JobType]Handler),
		workers:  4,
		idle:     2 * time.Second,
	}
	if cfg != nil {
		if cfg.Engine.Workers > 0 {
			p.workers = cfg.Engine.Workers
		}
		if cfg.Engine.IdlePollInterval > 0 {
			p.idle = time.Duration(cfg.Engine.IdlePollInterval) * time.Second
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a handler to a job type, replacing any previous binding.
// Registration is not safe once the pool has started.
func (p *Pool) Register(jobType queue.JobType, handler Handler) {
	if handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	if len(p.handlers) == 0 {
		return errors.New("no job handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.run(runCtx, i)
	}
	p.logger.Info("worker pool started", logging.Int("workers", p.workers))
	return nil
}

// Stop halts dequeuing and waits for in-flight jobs to finish. Jobs already
// handed to a handler are never dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Running reports whether the pool is currently draining the queue.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok := p.sched.DequeueNext()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idle):
			}
			continue
		}

		p.process(ctx, logger, job)
	}
}

// process drives one job through its handler. Shutdown is cooperative: the
// handler runs under a context detached from the pool's cancellation so an
// in-flight job always reports back before the worker exits.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	jobLogger := logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldPipelineID, job.PipelineID),
		logging.String(logging.FieldJobType, string(job.Type)),
		logging.String(logging.FieldItemRef, job.ItemRef),
	)

	reporter := schedulerReporter{
		sched:   p.sched,
		jobID:   job.ID,
		logger:  jobLogger,
		sampler: logging.NewProgressSampler(5),
	}
	reporter.Progress("starting", 5, fmt.Sprintf("%s started", job.Type))

	handler, ok := p.handlers[job.Type]
	if !ok {
		message := fmt.Sprintf("no handler registered for job type %s", job.Type)
		jobLogger.Error("job dispatch failed",
			logging.String(logging.FieldEventType, "handler_missing"),
			logging.String("error", message),
			logging.String(logging.FieldErrorHint, "register a handler for this job type before starting the pool"),
		)
		p.sched.FailJob(job.ID, message)
		return
	}

	execCtx := context.WithoutCancel(ctx)
	execCtx = services.WithPipelineID(execCtx, job.PipelineID)
	execCtx = services.WithJobID(execCtx, job.ID)
	execCtx = services.WithOwnerID(execCtx, job.OwnerID)
	execCtx = services.WithItemRef(execCtx, job.ItemRef)

	started := time.Now()
	result, err := p.invoke(execCtx, handler, job, reporter)
	if err != nil {
		if !p.sched.FailJob(job.ID, err.Error()) {
			jobLogger.Debug("failure report rejected; job no longer processing")
		}
		return
	}

	if !p.sched.CompleteJob(job.ID, result) {
		jobLogger.Debug("completion rejected; job no longer processing")
		return
	}
	jobLogger.Debug("job handled", logging.Duration("elapsed", time.Since(started)))
}

// invoke shields the pool from handler panics; a panic counts as a failed
// attempt like any returned error.
func (p *Pool) invoke(ctx context.Context, handler Handler, job *queue.Job, report Reporter) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrHandler, "worker", "handle", fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return handler.Handle(ctx, job, report)
}
