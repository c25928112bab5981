package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

const (
	archiveBuffer  = 64
	archiveTimeout = 10 * time.Second
)

// Sink bridges the scheduler's event stream into the history store. Publish
// never blocks: terminal pipeline events are handed to a dedicated goroutine
// that snapshots the pipeline from the scheduler and writes it out.
type Sink struct {
	store  *Store
	sched  *queue.Scheduler
	logger *slog.Logger

	events chan queue.Event
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	closed bool
}

// NewSink creates an archive sink and starts its worker goroutine. Attach it
// to the scheduler with AttachSink and call Close during shutdown.
func NewSink(store *Store, sched *queue.Scheduler, logger *slog.Logger) *Sink {
	s := &Sink{
		store:  store,
		sched:  sched,
		logger: logging.NewComponentLogger(logger, "history"),
		events: make(chan queue.Event, archiveBuffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish implements queue.Sink. Only terminal pipeline events are archived;
// everything else is ignored.
func (s *Sink) Publish(ev queue.Event) {
	switch ev.Type {
	case queue.EventPipelineComplete, queue.EventPipelineError, queue.EventPipelineCancelled:
	default:
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.events <- ev:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		logging.WarnWithContext(s.logger, "archive backlog full, dropping pipeline snapshot", "archive_dropped",
			logging.String(logging.FieldPipelineID, ev.PipelineID),
			logging.String(logging.FieldImpact, "pipeline missing from history until re-archived"))
	}
}

// Close stops the worker after draining any queued snapshots.
func (s *Sink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.events)
		<-s.done
	})
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		s.archive(ev.PipelineID)
	}
}

func (s *Sink) archive(pipelineID string) {
	pipeline, ok := s.sched.GetPipeline(pipelineID)
	if !ok {
		logging.WarnWithContext(s.logger, "pipeline vanished before archiving", "archive_missing",
			logging.String(logging.FieldPipelineID, pipelineID))
		return
	}
	jobs, _ := s.sched.JobsForPipeline(pipelineID)

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	if err := s.store.ArchivePipeline(ctx, pipeline, jobs); err != nil {
		logging.ErrorWithContext(s.logger, "failed to archive pipeline", "archive_failed",
			logging.String(logging.FieldPipelineID, pipelineID),
			logging.Error(err))
		return
	}
	s.logger.Debug("pipeline archived",
		logging.Args(
			logging.String(logging.FieldPipelineID, pipelineID),
			logging.String("status", string(pipeline.Status)),
			logging.Int("jobs", len(jobs)),
		)...)
}
