package worker

import (
	"context"
	"log/slog"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

// Reporter lets a handler push progress snapshots for the job it is
// executing. Percentages are clamped and kept monotonic by the scheduler.
type Reporter interface {
	Progress(step string, percent int, message string)
}

// Handler executes one typed job and returns its result payload. Handlers
// run again from scratch when a job retries, so they must tolerate repeat
// invocations for the same work item. Returning an error (or panicking)
// counts as a failed attempt.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job, report Reporter) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *queue.Job, report Reporter) (map[string]any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job, report Reporter) (map[string]any, error) {
	return f(ctx, job, report)
}

type schedulerReporter struct {
	sched   *queue.Scheduler
	jobID   string
	logger  *slog.Logger
	sampler *logging.ProgressSampler
}

func (r schedulerReporter) Progress(step string, percent int, message string) {
	r.sched.ReportProgress(r.jobID, queue.Progress{Step: step, Percent: percent, Message: message})
	if r.logger != nil && r.sampler.ShouldLog(float64(percent), step, message) {
		r.logger.Debug("job progress",
			logging.String("step", step),
			logging.Int("percent", percent),
			logging.String("message", message),
		)
	}
}
