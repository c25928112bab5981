package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRetrying   Status = "retrying"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusRetrying,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// jobTransitions enumerates every legal job status transition. Terminal
// statuses have no outgoing edges, which is what rejects late Complete/Fail
// calls on cancelled jobs.
var jobTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusRetrying, StatusFailed, StatusCancelled},
	StatusRetrying:   {StatusQueued, StatusFailed, StatusCancelled},
}

// AllStatuses returns the ordered list of known job statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving a job from one status to another is
// legal under the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PipelineStatus represents the lifecycle of a pipeline.
type PipelineStatus string

const (
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
	PipelineCancelled PipelineStatus = "cancelled"
)

// IsTerminal reports whether the pipeline status permits no further transitions.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineCompleted, PipelineFailed, PipelineCancelled:
		return true
	default:
		return false
	}
}

// ParsePipelineStatus converts a string into a known PipelineStatus.
func ParsePipelineStatus(value string) (PipelineStatus, bool) {
	normalized := PipelineStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case PipelineRunning, PipelineCompleted, PipelineFailed, PipelineCancelled:
		return normalized, true
	default:
		return "", false
	}
}

// Priority orders dispatch across the per-level FIFO queues.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// priorityOrder is the fixed scan order used by DequeueNext.
var priorityOrder = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

// PriorityOrder returns the dispatch scan order, highest first.
func PriorityOrder() []Priority {
	cp := make([]Priority, len(priorityOrder))
	copy(cp, priorityOrder)
	return cp
}

// ParsePriority converts a string into a known Priority.
func ParsePriority(value string) (Priority, bool) {
	normalized := Priority(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return normalized, true
	default:
		return "", false
	}
}

// JobType identifies which handler processes a job.
type JobType string

const (
	JobAnalysis       JobType = "analysis"
	JobExtraction     JobType = "extraction"
	JobCategorization JobType = "categorization"
	JobBatch          JobType = "batch"
)

// DefaultPlan is the set of sub-jobs created per work item when a submission
// does not override it.
func DefaultPlan() []JobType {
	return []JobType{JobAnalysis, JobExtraction, JobCategorization}
}

// ParseJobType converts a string into a known JobType.
func ParseJobType(value string) (JobType, bool) {
	normalized := JobType(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case JobAnalysis, JobExtraction, JobCategorization, JobBatch:
		return normalized, true
	default:
		return "", false
	}
}

// Progress is the most recent progress snapshot reported for a job.
type Progress struct {
	Step      string
	Percent   int
	Message   string
	UpdatedAt time.Time
}

// Job is one atomic, independently retryable processing unit. Every job
// belongs to exactly one pipeline and is mutated only through the Scheduler.
type Job struct {
	ID           string
	Type         JobType
	ItemRef      string
	OwnerID      string
	PipelineID   string
	Status       Status
	Priority     Priority
	Progress     Progress
	Result       map[string]any
	ErrorMessage string
	RetryCount   int
	MaxRetries   int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// IsTerminal reports whether the job reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand outside the scheduler lock.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Result != nil {
		cp.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			cp.Result[k] = v
		}
	}
	if j.StartedAt != nil {
		started := *j.StartedAt
		cp.StartedAt = &started
	}
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

// Pipeline is the unit of work created from one batch submission, owning all
// jobs derived from its work items.
type Pipeline struct {
	ID              string
	ItemRefs        []string
	OwnerID         string
	JobIDs          []string
	OverallProgress int
	Status          PipelineStatus
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// IsTerminal reports whether the pipeline reached a terminal status.
func (p *Pipeline) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand outside the scheduler lock.
func (p *Pipeline) Clone() *Pipeline {
	if p == nil {
		return nil
	}
	cp := *p
	cp.ItemRefs = append([]string(nil), p.ItemRefs...)
	cp.JobIDs = append([]string(nil), p.JobIDs...)
	if p.StartedAt != nil {
		started := *p.StartedAt
		cp.StartedAt = &started
	}
	if p.CompletedAt != nil {
		completed := *p.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}
