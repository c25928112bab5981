package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"conveyor/internal/config"
	"conveyor/internal/handlers"
	"conveyor/internal/history"
	"conveyor/internal/hub"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/preflight"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/worker"
)

// Daemon coordinates the processing engine and enforces single-instance
// execution. It owns the scheduler, worker pool, hub, archive and notification
// sinks, plus the HTTP API and stream servers.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	sched    *queue.Scheduler
	pool     *worker.Pool
	hub      *hub.Hub
	store    *history.Store
	histSink *history.Sink
	noteSink *notifications.Sink
	notifier notifications.Service
	api      *apiServer
	stream   *streamServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	checks    atomic.Pointer[[]preflight.Result]
	ctx       context.Context
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	Workers       int
	StartedAt     time.Time
	HistoryDBPath string
	LockFilePath  string
	Engine        queue.Stats
	Hub           hub.Stats
	Preflight     []preflight.Result
}

// SubmitRequest describes one batch submission, with string enums as they
// arrive over IPC. Zero values fall back to the engine defaults.
type SubmitRequest struct {
	Items      []string
	OwnerID    string
	Priority   string
	MaxRetries int
	Plan       []string
}

// New constructs a daemon with initialized dependencies. The history store is
// owned by the daemon from here on and closed with it.
func New(cfg *config.Config, store *history.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, history store, and logger")
	}

	sched := queue.NewScheduler(cfg, logger)
	pool := worker.NewPool(cfg, sched, logger)
	handlers.Register(pool, cfg, logger)
	h := hub.NewHub(cfg, sched, logger)
	notifier := notifications.NewService(cfg)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		sched:    sched,
		pool:     pool,
		hub:      h,
		store:    store,
		notifier: notifier,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	// Sinks attach once for the daemon's lifetime; events only flow while
	// the pool is running.
	sched.AttachSink(h)
	d.histSink = history.NewSink(store, sched, logger)
	sched.AttachSink(d.histSink)
	d.noteSink = notifications.NewSink(notifier, sched, logger)
	sched.AttachSink(d.noteSink)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	stream, err := newStreamServer(cfg, h, logger)
	if err != nil {
		return nil, err
	}
	d.stream = stream

	return d, nil
}

// Start acquires the daemon lock and launches the pool and servers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conveyor daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	results := preflight.RunAll(d.ctx, d.cfg)
	d.checks.Store(&results)
	for _, result := range results {
		if result.Passed {
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "jobs depending on this resource will fail"))
	}

	if err := d.pool.Start(d.ctx); err != nil {
		d.teardownStart()
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.pool.Stop()
		d.teardownStart()
		return err
	}
	if err := d.stream.start(d.ctx); err != nil {
		d.api.stop()
		d.pool.Stop()
		d.teardownStart()
		return err
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("conveyor daemon started",
		logging.Args(
			logging.String("lock", d.lockPath),
			logging.Int("workers", d.pool.Workers()),
		)...)

	go d.publishNotification(notifications.EventEngineStarted, notifications.Payload{
		"workers": strconv.Itoa(d.pool.Workers()),
	})
	return nil
}

func (d *Daemon) teardownStart() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
}

// Stop halts the servers and the pool, then releases the daemon lock.
// In-flight jobs finish before Stop returns.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	uptime := time.Since(d.startedAt).Round(time.Second)
	d.publishNotification(notifications.EventEngineStopped, notifications.Payload{
		"uptime": uptime.String(),
	})

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stream.stop()
	d.api.stop()
	d.pool.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("conveyor daemon stopped", logging.String("uptime", uptime.String()))
}

// Close stops the daemon and releases every owned resource, including the
// history store.
func (d *Daemon) Close() error {
	d.Stop()
	d.hub.Close()
	d.noteSink.Close()
	d.histSink.Close()
	d.sched.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Hub exposes the notification hub, primarily for the stream server and tests.
func (d *Daemon) Hub() *hub.Hub {
	return d.hub
}

// APIAddr returns the HTTP API listen address, or empty when disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// StreamAddr returns the stream listen address, or empty when disabled.
func (d *Daemon) StreamAddr() string {
	return d.stream.addr()
}

// Submit creates one pipeline for the batch after resolving the string enums.
func (d *Daemon) Submit(req SubmitRequest) (*queue.Pipeline, error) {
	var opts []queue.SubmitOption
	if trimmed := strings.TrimSpace(req.Priority); trimmed != "" {
		priority, ok := queue.ParsePriority(trimmed)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "daemon", "submit",
				fmt.Sprintf("unknown priority %q", req.Priority), nil)
		}
		opts = append(opts, queue.WithPriority(priority))
	}
	if req.MaxRetries > 0 {
		opts = append(opts, queue.WithMaxRetries(req.MaxRetries))
	}
	if len(req.Plan) > 0 {
		plan := make([]queue.JobType, 0, len(req.Plan))
		for _, value := range req.Plan {
			jobType, ok := queue.ParseJobType(value)
			if !ok {
				return nil, services.Wrap(services.ErrValidation, "daemon", "submit",
					fmt.Sprintf("unknown job type %q", value), nil)
			}
			plan = append(plan, jobType)
		}
		opts = append(opts, queue.WithPlan(plan...))
	}
	return d.sched.CreatePipeline(req.Items, req.OwnerID, opts...)
}

// ListPipelines returns pipelines, optionally filtered by status names.
// Unknown status strings are ignored.
func (d *Daemon) ListPipelines(statuses []string) []*queue.Pipeline {
	pipelines := d.sched.ListPipelines()
	if len(statuses) == 0 {
		return pipelines
	}
	allowed := make(map[queue.PipelineStatus]struct{}, len(statuses))
	for _, value := range statuses {
		if parsed, ok := queue.ParsePipelineStatus(value); ok {
			allowed[parsed] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return pipelines
	}
	filtered := pipelines[:0]
	for _, pipeline := range pipelines {
		if _, ok := allowed[pipeline.Status]; ok {
			filtered = append(filtered, pipeline)
		}
	}
	return filtered
}

// DescribePipeline returns a pipeline and its jobs.
func (d *Daemon) DescribePipeline(id string) (*queue.Pipeline, []*queue.Job, bool) {
	pipeline, ok := d.sched.GetPipeline(id)
	if !ok {
		return nil, nil, false
	}
	jobs, _ := d.sched.JobsForPipeline(id)
	return pipeline, jobs, true
}

// CancelPipeline cancels every non-terminal job of the pipeline.
func (d *Daemon) CancelPipeline(id string) bool {
	return d.sched.CancelPipeline(id)
}

// EngineStats returns a snapshot of scheduler and hub counters.
func (d *Daemon) EngineStats() (queue.Stats, hub.Stats) {
	return d.sched.Stats(), d.hub.Stats()
}

// History lists archived pipelines, newest first.
func (d *Daemon) History(ctx context.Context, limit int) ([]*history.PipelineRecord, error) {
	return d.store.ListPipelines(ctx, limit)
}

// HistoryDetail returns one archived pipeline with its jobs, or nil when the
// pipeline was never archived.
func (d *Daemon) HistoryDetail(ctx context.Context, id string) (*history.PipelineRecord, []*history.JobRecord, error) {
	rec, err := d.store.PipelineByID(ctx, id)
	if err != nil || rec == nil {
		return nil, nil, err
	}
	jobs, err := d.store.JobsForPipeline(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rec, jobs, nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	var results []preflight.Result
	if stored := d.checks.Load(); stored != nil {
		results = *stored
	}
	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		Workers:       d.pool.Workers(),
		StartedAt:     d.startedAt,
		HistoryDBPath: d.store.Path(),
		LockFilePath:  d.lockPath,
		Engine:        d.sched.Stats(),
		Hub:           d.hub.Stats(),
		Preflight:     results,
	}
}

func (d *Daemon) publishNotification(event notifications.Event, payload notifications.Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		d.logger.Warn("failed to send notification",
			logging.Args(
				logging.String("notification", string(event)),
				logging.Error(err),
			)...)
	}
}
