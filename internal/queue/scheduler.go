package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/services"
)

// Scheduler is the single source of truth for job and pipeline state. All
// maps and priority queues live behind one mutex; every mutating call runs
// entirely under it, which is what makes DequeueNext's pop-and-transition
// atomic across concurrent workers.
type Scheduler struct {
	mu         sync.Mutex
	logger     *slog.Logger
	jobs       map[string]*Job
	pipelines  map[string]*Pipeline
	queues     map[Priority][]string
	aggregates map[string]*aggregate
	callbacks  map[string][]func(Event)
	sinks      []Sink
	timers     map[string]*time.Timer

	backoff           func(retry int) time.Duration
	defaultMaxRetries int
	defaultPlan       []JobType
	closed            bool
}

// aggregate carries the incremental per-pipeline counters so a single job
// update never rescans the whole pipeline.
type aggregate struct {
	percentSum     int
	completedCount int
	failedCount    int
	terminalCount  int
}

// Option customizes scheduler construction.
type Option func(*Scheduler)

// WithBackoff overrides the retry backoff schedule. The function receives the
// incremented retry count and returns the delay before re-enqueue.
func WithBackoff(fn func(retry int) time.Duration) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.backoff = fn
		}
	}
}

// NewScheduler constructs an empty scheduler. The configuration supplies the
// default retry budget and submission plan; a nil config falls back to
// engine defaults.
func NewScheduler(cfg *config.Config, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:            logging.NewComponentLogger(logger, "scheduler"),
		jobs:              make(map[string]*Job),
		pipelines:         make(map[string]*Pipeline),
		queues:            make(map[Priority][]string, len(priorityOrder)),
		aggregates:        make(map[string]*aggregate),
		callbacks:         make(map[string][]func(Event)),
		timers:            make(map[string]*time.Timer),
		backoff:           defaultBackoff,
		defaultMaxRetries: config.DefaultMaxRetries,
		defaultPlan:       DefaultPlan(),
	}
	if cfg != nil {
		if cfg.Engine.DefaultMaxRetries >= 0 {
			s.defaultMaxRetries = cfg.Engine.DefaultMaxRetries
		}
		if plan := parsePlan(cfg.Engine.JobPlan); len(plan) > 0 {
			s.defaultPlan = plan
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// defaultBackoff doubles per retry: 2s, 4s, 8s, ...
func defaultBackoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if retry > 16 {
		retry = 16
	}
	return time.Duration(1<<uint(retry)) * time.Second
}

func parsePlan(values []string) []JobType {
	plan := make([]JobType, 0, len(values))
	for _, value := range values {
		if jobType, ok := ParseJobType(value); ok {
			plan = append(plan, jobType)
		}
	}
	return plan
}

// AttachSink registers an event sink. Sinks attached after submissions begin
// only observe subsequent events.
func (s *Scheduler) AttachSink(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// SubmitOption customizes one pipeline submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority   Priority
	plan       []JobType
	maxRetries int
}

// WithPriority enqueues the pipeline's jobs at the given priority instead of
// the default medium.
func WithPriority(p Priority) SubmitOption {
	return func(o *submitOptions) {
		if _, ok := ParsePriority(string(p)); ok {
			o.priority = p
		}
	}
}

// WithPlan overrides the sub-job types created per work item.
func WithPlan(plan ...JobType) SubmitOption {
	return func(o *submitOptions) {
		if len(plan) > 0 {
			o.plan = plan
		}
	}
}

// WithMaxRetries overrides the per-job retry budget for this submission.
func WithMaxRetries(n int) SubmitOption {
	return func(o *submitOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// CreatePipeline creates a pipeline plus its sub-jobs atomically: one job per
// (work item, plan entry) pair, all queued at the submission priority. The
// pipeline is visible immediately at 0% progress with status running.
func (s *Scheduler) CreatePipeline(items []string, ownerID string, opts ...SubmitOption) (*Pipeline, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, services.Wrap(services.ErrValidation, "scheduler", "create pipeline", "owner id required", nil)
	}
	refs := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			return nil, services.Wrap(services.ErrValidation, "scheduler", "create pipeline", "work item refs must not be blank", nil)
		}
		refs = append(refs, trimmed)
	}
	if len(refs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "scheduler", "create pipeline", "at least one work item required", nil)
	}

	options := submitOptions{
		priority:   PriorityMedium,
		plan:       s.defaultPlan,
		maxRetries: s.defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&options)
	}

	now := time.Now().UTC()
	started := now
	pipeline := &Pipeline{
		ID:        uuid.NewString(),
		ItemRefs:  refs,
		OwnerID:   ownerID,
		JobIDs:    make([]string, 0, len(refs)*len(options.plan)),
		Status:    PipelineRunning,
		CreatedAt: now,
		StartedAt: &started,
	}

	jobs := make([]*Job, 0, len(refs)*len(options.plan))
	for _, ref := range refs {
		for _, jobType := range options.plan {
			job := &Job{
				ID:         uuid.NewString(),
				Type:       jobType,
				ItemRef:    ref,
				OwnerID:    ownerID,
				PipelineID: pipeline.ID,
				Status:     StatusQueued,
				Priority:   options.priority,
				Progress:   Progress{Step: "queued", UpdatedAt: now},
				MaxRetries: options.maxRetries,
				CreatedAt:  now,
			}
			jobs = append(jobs, job)
			pipeline.JobIDs = append(pipeline.JobIDs, job.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("scheduler closed")
	}
	s.pipelines[pipeline.ID] = pipeline
	s.aggregates[pipeline.ID] = &aggregate{}
	for _, job := range jobs {
		s.jobs[job.ID] = job
		s.queues[job.Priority] = append(s.queues[job.Priority], job.ID)
	}

	s.logger.Info("pipeline created",
		logging.String(logging.FieldPipelineID, pipeline.ID),
		logging.String(logging.FieldOwnerID, ownerID),
		logging.Int("items", len(refs)),
		logging.Int("jobs", len(jobs)),
		logging.String("priority", string(options.priority)),
	)
	s.publishLocked(Event{
		Type:       EventPipelineStatus,
		PipelineID: pipeline.ID,
		OwnerID:    ownerID,
		Status:     string(PipelineRunning),
		Message:    "pipeline created",
		Timestamp:  now,
	})
	return pipeline.Clone(), nil
}

// GetPipeline returns a snapshot of the pipeline, or false when unknown.
func (s *Scheduler) GetPipeline(id string) (*Pipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pipeline, ok := s.pipelines[id]
	if !ok {
		return nil, false
	}
	return pipeline.Clone(), true
}

// GetJob returns a snapshot of the job, or false when unknown.
func (s *Scheduler) GetJob(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// ListPipelines returns snapshots of every known pipeline ordered by creation
// time.
func (s *Scheduler) ListPipelines() []*Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Pipeline, 0, len(s.pipelines))
	for _, pipeline := range s.pipelines {
		out = append(out, pipeline.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// JobsForPipeline returns snapshots of the pipeline's jobs in creation order,
// or false when the pipeline is unknown.
func (s *Scheduler) JobsForPipeline(pipelineID string) ([]*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pipeline, ok := s.pipelines[pipelineID]
	if !ok {
		return nil, false
	}
	out := make([]*Job, 0, len(pipeline.JobIDs))
	for _, jobID := range pipeline.JobIDs {
		if job, ok := s.jobs[jobID]; ok {
			out = append(out, job.Clone())
		}
	}
	return out, true
}

// DequeueNext pops the first queued job scanning urgent through low and
// transitions it to processing in the same critical section, so concurrent
// workers can never receive the same job. Cancelled ids left behind in the
// FIFOs are discarded as they surface.
func (s *Scheduler) DequeueNext() (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, priority := range priorityOrder {
		fifo := s.queues[priority]
		for len(fifo) > 0 {
			jobID := fifo[0]
			fifo = fifo[1:]
			job, ok := s.jobs[jobID]
			if !ok || job.Status != StatusQueued {
				continue
			}
			s.queues[priority] = fifo

			now := time.Now().UTC()
			job.Status = StatusProcessing
			job.StartedAt = &now
			job.Progress.UpdatedAt = now

			s.logger.Debug("job dequeued",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldPipelineID, job.PipelineID),
				logging.String(logging.FieldJobType, string(job.Type)),
				logging.String("priority", string(priority)),
			)
			s.publishLocked(s.jobEvent(job, "processing started"))
			return job.Clone(), true
		}
		s.queues[priority] = fifo
	}
	return nil, false
}

// ReportProgress records a progress snapshot for a processing job. The
// percentage is clamped to [0,100] and never moves backwards while the job
// stays in processing. Returns false for unknown jobs or jobs not processing.
func (s *Scheduler) ReportProgress(jobID string, progress Progress) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != StatusProcessing {
		return false
	}

	percent := clampPercent(progress.Percent)
	if percent < job.Progress.Percent {
		percent = job.Progress.Percent
	}
	now := time.Now().UTC()
	step := strings.TrimSpace(progress.Step)
	if step == "" {
		step = job.Progress.Step
	}
	delta := percent - job.Progress.Percent
	job.Progress = Progress{
		Step:      step,
		Percent:   percent,
		Message:   progress.Message,
		UpdatedAt: now,
	}

	pipeline, agg := s.pipelineStateLocked(job.PipelineID)
	if pipeline != nil {
		agg.percentSum += delta
		pipeline.OverallProgress = overallProgress(agg, len(pipeline.JobIDs))
	}

	s.publishLocked(s.jobEvent(job, progress.Message))
	if pipeline != nil {
		s.publishLocked(s.pipelineEvent(pipeline, EventPipelineStatus, progress.Message))
	}
	return true
}

// CompleteJob finishes a processing job with its result payload, forcing
// progress to 100%. Completing the pipeline's last outstanding job settles
// the pipeline. Returns false when the job is unknown or not processing.
func (s *Scheduler) CompleteJob(jobID string, result map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || !CanTransition(job.Status, StatusCompleted) {
		return false
	}

	now := time.Now().UTC()
	delta := 100 - job.Progress.Percent
	job.Status = StatusCompleted
	job.CompletedAt = &now
	if result != nil {
		cp := make(map[string]any, len(result))
		for k, v := range result {
			cp[k] = v
		}
		job.Result = cp
	}
	job.Progress = Progress{Step: "completed", Percent: 100, Message: "job completed", UpdatedAt: now}

	pipeline, agg := s.pipelineStateLocked(job.PipelineID)
	if pipeline != nil {
		agg.percentSum += delta
		agg.completedCount++
		agg.terminalCount++
		pipeline.OverallProgress = overallProgress(agg, len(pipeline.JobIDs))
	}

	s.logger.Info("job completed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldPipelineID, job.PipelineID),
		logging.String(logging.FieldJobType, string(job.Type)),
	)
	s.publishLocked(s.jobEvent(job, "job completed"))
	s.settleLocked(pipeline, agg)
	return true
}

// FailJob records a handler failure. While the retry budget lasts the job
// moves to retrying and is re-enqueued at the same priority after an
// exponential backoff; afterwards it lands in terminal failed with the final
// message. Returns false when the job is unknown or not processing.
func (s *Scheduler) FailJob(jobID, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != StatusProcessing {
		return false
	}

	now := time.Now().UTC()
	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Status = StatusRetrying
		job.ErrorMessage = errMsg
		delay := s.backoff(job.RetryCount)

		// The failed attempt's progress no longer counts toward the pipeline.
		pipeline, agg := s.pipelineStateLocked(job.PipelineID)
		if pipeline != nil {
			agg.percentSum -= job.Progress.Percent
			pipeline.OverallProgress = overallProgress(agg, len(pipeline.JobIDs))
		}
		job.Progress = Progress{
			Step:      "retrying",
			Message:   fmt.Sprintf("retry %d of %d in %s", job.RetryCount, job.MaxRetries, delay),
			UpdatedAt: now,
		}

		id := job.ID
		s.timers[id] = time.AfterFunc(delay, func() { s.requeue(id) })

		logging.WarnWithContext(s.logger, "job failed; retry scheduled", "job_retry_scheduled",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldPipelineID, job.PipelineID),
			logging.Int("retry", job.RetryCount),
			logging.Int("max_retries", job.MaxRetries),
			logging.Duration("backoff", delay),
			logging.String("error", errMsg),
			logging.String(logging.FieldErrorHint, "job retries automatically; investigate if retries exhaust"),
			logging.String(logging.FieldImpact, "job delayed by backoff"),
		)
		s.publishLocked(s.jobEvent(job, job.Progress.Message))
		if pipeline != nil {
			s.publishLocked(s.pipelineEvent(pipeline, EventPipelineStatus, job.Progress.Message))
		}
		return true
	}

	job.Status = StatusFailed
	job.CompletedAt = &now
	job.ErrorMessage = errMsg
	job.Progress.Step = "failed"
	job.Progress.Message = errMsg
	job.Progress.UpdatedAt = now

	pipeline, agg := s.pipelineStateLocked(job.PipelineID)
	if pipeline != nil {
		agg.failedCount++
		agg.terminalCount++
	}

	logging.ErrorWithContext(s.logger, "job failed; retries exhausted", "job_failed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldPipelineID, job.PipelineID),
		logging.Int("retries", job.RetryCount),
		logging.String("error", errMsg),
		logging.String(logging.FieldErrorHint, "inspect the job error and resubmit the batch if needed"),
	)
	s.publishLocked(s.jobEvent(job, errMsg))
	s.settleLocked(pipeline, agg)
	return true
}

// requeue moves a retrying job back into its priority queue once the backoff
// timer fires. Jobs driven terminal in the meantime (cancellation) are left
// untouched.
func (s *Scheduler) requeue(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, jobID)
	if s.closed {
		return
	}
	job, ok := s.jobs[jobID]
	if !ok || job.Status != StatusRetrying {
		return
	}
	now := time.Now().UTC()
	job.Status = StatusQueued
	job.Progress = Progress{Step: "queued", Message: "requeued after backoff", UpdatedAt: now}
	s.queues[job.Priority] = append(s.queues[job.Priority], job.ID)

	s.logger.Debug("job requeued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldPipelineID, job.PipelineID),
		logging.Int("retry", job.RetryCount),
	)
	s.publishLocked(s.jobEvent(job, "requeued after backoff"))
}

// CancelPipeline forces every non-terminal job of the pipeline to cancelled
// and the pipeline itself to cancelled. Jobs already terminal are untouched;
// pending retry timers are stopped. Calling it on a terminal pipeline changes
// nothing and returns false.
func (s *Scheduler) CancelPipeline(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pipeline, ok := s.pipelines[id]
	if !ok || pipeline.Status.IsTerminal() {
		return false
	}

	now := time.Now().UTC()
	agg := s.aggregates[id]
	cancelled := 0
	for _, jobID := range pipeline.JobIDs {
		job, ok := s.jobs[jobID]
		if !ok || job.IsTerminal() {
			continue
		}
		if timer, ok := s.timers[jobID]; ok {
			timer.Stop()
			delete(s.timers, jobID)
		}
		job.Status = StatusCancelled
		job.CompletedAt = &now
		job.Progress.Step = "cancelled"
		job.Progress.Message = "pipeline cancelled"
		job.Progress.UpdatedAt = now
		if agg != nil {
			agg.terminalCount++
		}
		cancelled++
	}

	pipeline.Status = PipelineCancelled
	pipeline.CompletedAt = &now

	s.logger.Info("pipeline cancelled",
		logging.String(logging.FieldPipelineID, pipeline.ID),
		logging.String(logging.FieldOwnerID, pipeline.OwnerID),
		logging.Int("jobs_cancelled", cancelled),
	)
	s.publishLocked(s.pipelineEvent(pipeline, EventPipelineCancelled, "pipeline cancelled"))
	return true
}

// RegisterCallback attaches a best-effort listener to a job or pipeline id.
// The listener fires for every event touching that id; panics are recovered
// and logged, never propagated.
func (s *Scheduler) RegisterCallback(id string, fn func(Event)) {
	if strings.TrimSpace(id) == "" || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[id] = append(s.callbacks[id], fn)
}

// Close stops pending retry timers and rejects further submissions. In-memory
// state is retained for inspection until the process exits.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// settleLocked flips a running pipeline to its terminal status once every job
// is terminal, otherwise it emits the refreshed aggregate.
func (s *Scheduler) settleLocked(pipeline *Pipeline, agg *aggregate) {
	if pipeline == nil || agg == nil || pipeline.Status != PipelineRunning {
		return
	}
	if agg.terminalCount < len(pipeline.JobIDs) {
		s.publishLocked(s.pipelineEvent(pipeline, EventPipelineStatus, ""))
		return
	}

	now := time.Now().UTC()
	pipeline.CompletedAt = &now
	if agg.failedCount > 0 {
		pipeline.Status = PipelineFailed
		message := fmt.Sprintf("%d of %d jobs failed", agg.failedCount, len(pipeline.JobIDs))
		s.logger.Info("pipeline failed",
			logging.String(logging.FieldPipelineID, pipeline.ID),
			logging.Int("failed", agg.failedCount),
			logging.Int("jobs", len(pipeline.JobIDs)),
		)
		s.publishLocked(s.pipelineEvent(pipeline, EventPipelineError, message))
		return
	}

	pipeline.Status = PipelineCompleted
	pipeline.OverallProgress = 100
	s.logger.Info("pipeline completed",
		logging.String(logging.FieldPipelineID, pipeline.ID),
		logging.Int("jobs", len(pipeline.JobIDs)),
	)
	s.publishLocked(s.pipelineEvent(pipeline, EventPipelineComplete, "all jobs completed"))
}

func (s *Scheduler) pipelineStateLocked(pipelineID string) (*Pipeline, *aggregate) {
	pipeline, ok := s.pipelines[pipelineID]
	if !ok {
		return nil, nil
	}
	return pipeline, s.aggregates[pipelineID]
}

func (s *Scheduler) jobEvent(job *Job, message string) Event {
	return Event{
		Type:       EventJobStatus,
		PipelineID: job.PipelineID,
		JobID:      job.ID,
		JobType:    job.Type,
		OwnerID:    job.OwnerID,
		Status:     string(job.Status),
		Progress:   job.Progress.Percent,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
}

func (s *Scheduler) pipelineEvent(pipeline *Pipeline, eventType EventType, message string) Event {
	return Event{
		Type:       eventType,
		PipelineID: pipeline.ID,
		OwnerID:    pipeline.OwnerID,
		Status:     string(pipeline.Status),
		Progress:   pipeline.OverallProgress,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
}

// publishLocked fans an event out to the sinks and per-id callbacks while the
// scheduler lock is held, preserving mutation order per pipeline.
func (s *Scheduler) publishLocked(ev Event) {
	for _, sink := range s.sinks {
		sink.Publish(ev)
	}
	if ev.JobID != "" {
		s.invokeCallbacksLocked(ev.JobID, ev)
	}
	if ev.PipelineID != "" {
		s.invokeCallbacksLocked(ev.PipelineID, ev)
	}
}

func (s *Scheduler) invokeCallbacksLocked(id string, ev Event) {
	for _, fn := range s.callbacks[id] {
		s.invokeCallback(id, fn, ev)
	}
}

func (s *Scheduler) invokeCallback(id string, fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			err := services.Wrap(services.ErrCallback, "scheduler", "callback", fmt.Sprint(r), nil)
			logging.ErrorWithContext(s.logger, "callback panicked", "callback_panic",
				logging.String("listener_id", id),
				logging.String("event", string(ev.Type)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the registered listener; events continue regardless"),
			)
		}
	}()
	fn(ev)
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

func overallProgress(agg *aggregate, jobCount int) int {
	if agg == nil || jobCount == 0 {
		return 0
	}
	return agg.percentSum / jobCount
}
