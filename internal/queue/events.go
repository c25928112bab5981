package queue

import "time"

// EventType names the scheduler event classes delivered to sinks and
// per-id callbacks.
type EventType string

const (
	EventJobStatus         EventType = "job_status"
	EventPipelineStatus    EventType = "pipeline_status"
	EventPipelineComplete  EventType = "pipeline_complete"
	EventPipelineError     EventType = "pipeline_error"
	EventPipelineCancelled EventType = "pipeline_cancelled"
)

// Event is the typed notification emitted for every observable scheduler
// mutation. Job events carry both the job and pipeline identifiers; pipeline
// events leave JobID empty.
type Event struct {
	Type       EventType
	PipelineID string
	JobID      string
	JobType    JobType
	OwnerID    string
	Status     string
	Progress   int
	Message    string
	Timestamp  time.Time
}

// Sink receives every scheduler event. Publish is invoked synchronously while
// the scheduler lock is held so that events for one pipeline arrive in exact
// mutation order; implementations must return quickly and must not call back
// into the Scheduler.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish implements Sink.
func (f SinkFunc) Publish(ev Event) { f(ev) }
