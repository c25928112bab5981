package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

const (
	notifyBuffer  = 32
	notifyTimeout = 15 * time.Second
)

// Sink bridges the scheduler's event stream into the notification service.
// Publish never blocks: terminal pipeline events are handed to a dedicated
// goroutine that resolves counts from the scheduler and posts to ntfy.
type Sink struct {
	service Service
	sched   *queue.Scheduler
	logger  *slog.Logger

	events chan queue.Event
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	closed bool
}

// NewSink creates a notification sink and starts its worker goroutine. Attach
// it to the scheduler with AttachSink and call Close during shutdown.
func NewSink(service Service, sched *queue.Scheduler, logger *slog.Logger) *Sink {
	s := &Sink{
		service: service,
		sched:   sched,
		logger:  logging.NewComponentLogger(logger, "notifications"),
		events:  make(chan queue.Event, notifyBuffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish implements queue.Sink. Only terminal pipeline events are forwarded;
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
		s.logger.Debug("notification backlog full, dropping event",
			logging.Args(
				logging.String(logging.FieldPipelineID, ev.PipelineID),
				logging.String(logging.FieldEventType, string(ev.Type)),
			)...)
	}
}

// Close stops the worker after draining any queued events.
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
		s.notify(ev)
	}
}

func (s *Sink) notify(ev queue.Event) {
	event, payload := s.buildPayload(ev)
	if event == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := s.service.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(s.logger, "failed to send notification", "notify_failed",
			logging.String(logging.FieldPipelineID, ev.PipelineID),
			logging.String("notification", string(event)),
			logging.Error(err))
	}
}

func (s *Sink) buildPayload(ev queue.Event) (Event, Payload) {
	payload := Payload{
		"pipelineId": ev.PipelineID,
		"ownerId":    ev.OwnerID,
	}

	if pipeline, ok := s.sched.GetPipeline(ev.PipelineID); ok {
		payload["jobCount"] = strconv.Itoa(len(pipeline.JobIDs))
		if payload["ownerId"] == "" {
			payload["ownerId"] = pipeline.OwnerID
		}
		if pipeline.StartedAt != nil && pipeline.CompletedAt != nil {
			payload["duration"] = pipeline.CompletedAt.Sub(*pipeline.StartedAt).Round(time.Second).String()
		}
	}

	switch ev.Type {
	case queue.EventPipelineComplete:
		return EventPipelineCompleted, payload
	case queue.EventPipelineError:
		if jobs, ok := s.sched.JobsForPipeline(ev.PipelineID); ok {
			failed := 0
			detail := ""
			for _, job := range jobs {
				if job.Status == queue.StatusFailed {
					failed++
					if detail == "" && job.ErrorMessage != "" {
						detail = job.ErrorMessage
					}
				}
			}
			payload["failedCount"] = strconv.Itoa(failed)
			payload["detail"] = detail
		}
		return EventPipelineFailed, payload
	case queue.EventPipelineCancelled:
		return EventPipelineCancelled, payload
	default:
		return "", nil
	}
}
