package api

import (
	"time"

	"conveyor/internal/history"
	"conveyor/internal/hub"
	"conveyor/internal/queue"
)

// FormatTime renders a timestamp in the canonical API format.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}

// FromJob converts a queue job into its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	out := Job{
		ID:         job.ID,
		PipelineID: job.PipelineID,
		Type:       string(job.Type),
		ItemRef:    job.ItemRef,
		OwnerID:    job.OwnerID,
		Status:     string(job.Status),
		Priority:   string(job.Priority),
		Progress: JobProgress{
			Step:    job.Progress.Step,
			Percent: job.Progress.Percent,
			Message: job.Progress.Message,
		},
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		CreatedAt:    FormatTime(job.CreatedAt),
		StartedAt:    formatTimePtr(job.StartedAt),
		CompletedAt:  formatTimePtr(job.CompletedAt),
	}
	if len(job.Result) > 0 {
		out.Result = make(map[string]any, len(job.Result))
		for key, value := range job.Result {
			out.Result[key] = value
		}
	}
	return out
}

// FromJobs converts a slice of queue jobs into API representations.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromPipeline converts a queue pipeline into its API representation.
func FromPipeline(pipeline *queue.Pipeline) Pipeline {
	if pipeline == nil {
		return Pipeline{}
	}
	return Pipeline{
		ID:              pipeline.ID,
		OwnerID:         pipeline.OwnerID,
		ItemRefs:        append([]string(nil), pipeline.ItemRefs...),
		JobIDs:          append([]string(nil), pipeline.JobIDs...),
		Status:          string(pipeline.Status),
		OverallProgress: pipeline.OverallProgress,
		CreatedAt:       FormatTime(pipeline.CreatedAt),
		StartedAt:       formatTimePtr(pipeline.StartedAt),
		CompletedAt:     formatTimePtr(pipeline.CompletedAt),
	}
}

// FromPipelines converts a slice of queue pipelines into API representations.
func FromPipelines(pipelines []*queue.Pipeline) []Pipeline {
	out := make([]Pipeline, 0, len(pipelines))
	for _, pipeline := range pipelines {
		out = append(out, FromPipeline(pipeline))
	}
	return out
}

// Detail bundles a pipeline with its jobs for describe-style responses.
func Detail(pipeline *queue.Pipeline, jobs []*queue.Job) PipelineDetail {
	return PipelineDetail{
		Pipeline: FromPipeline(pipeline),
		Jobs:     FromJobs(jobs),
	}
}

// FromStats merges scheduler and hub counters into one API snapshot.
func FromStats(sched queue.Stats, conns hub.Stats) EngineStats {
	stats := EngineStats{
		TotalPipelines:     sched.TotalPipelines,
		ActivePipelines:    sched.ActivePipelines,
		CompletedPipelines: sched.CompletedPipelines,
		FailedPipelines:    sched.FailedPipelines,
		CancelledPipelines: sched.CancelledPipelines,
		TotalJobs:          sched.TotalJobs,
		JobsByStatus:       make(map[string]int, len(sched.JobsByStatus)),
		QueueDepths:        make(map[string]int, len(sched.QueueDepths)),
		Connections:        conns.Connections,
		Owners:             conns.Owners,
		Subscriptions:      conns.Subscriptions,
	}
	for status, count := range sched.JobsByStatus {
		stats.JobsByStatus[string(status)] = count
	}
	for priority, depth := range sched.QueueDepths {
		stats.QueueDepths[string(priority)] = depth
	}
	return stats
}

// FromHistoryPipeline converts an archived pipeline into a history entry.
func FromHistoryPipeline(rec *history.PipelineRecord) HistoryEntry {
	if rec == nil {
		return HistoryEntry{}
	}
	return HistoryEntry{
		ID:              rec.ID,
		OwnerID:         rec.OwnerID,
		Status:          string(rec.Status),
		OverallProgress: rec.OverallProgress,
		JobCount:        rec.JobCount,
		CreatedAt:       FormatTime(rec.CreatedAt),
		CompletedAt:     formatTimePtr(rec.CompletedAt),
	}
}

// FromHistoryPipelines converts archived pipelines into history entries.
func FromHistoryPipelines(recs []*history.PipelineRecord) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromHistoryPipeline(rec))
	}
	return out
}

// FromHistoryDetail rebuilds a pipeline detail from archive rows. The job
// owner is taken from the pipeline record since job rows do not carry it, and
// item refs are collected from the jobs because the archive stores them only
// there.
func FromHistoryDetail(rec *history.PipelineRecord, jobs []*history.JobRecord) PipelineDetail {
	detail := PipelineDetail{Jobs: make([]Job, 0, len(jobs))}
	seenRefs := make(map[string]struct{}, len(jobs))
	if rec != nil {
		detail.Pipeline = Pipeline{
			ID:              rec.ID,
			OwnerID:         rec.OwnerID,
			Status:          string(rec.Status),
			OverallProgress: rec.OverallProgress,
			CreatedAt:       FormatTime(rec.CreatedAt),
			StartedAt:       formatTimePtr(rec.StartedAt),
			CompletedAt:     formatTimePtr(rec.CompletedAt),
		}
	}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		converted := Job{
			ID:         job.ID,
			PipelineID: job.PipelineID,
			Type:       string(job.Type),
			ItemRef:    job.ItemRef,
			Status:     string(job.Status),
			Priority:   string(job.Priority),
			Progress: JobProgress{
				Step:    job.ProgressStep,
				Percent: job.ProgressPercent,
				Message: job.ProgressMessage,
			},
			ErrorMessage: job.ErrorMessage,
			RetryCount:   job.RetryCount,
			MaxRetries:   job.MaxRetries,
			CreatedAt:    FormatTime(job.CreatedAt),
			StartedAt:    formatTimePtr(job.StartedAt),
			CompletedAt:  formatTimePtr(job.CompletedAt),
		}
		if rec != nil {
			converted.OwnerID = rec.OwnerID
		}
		if len(job.Result) > 0 {
			converted.Result = job.Result
		}
		if _, ok := seenRefs[job.ItemRef]; !ok && job.ItemRef != "" {
			seenRefs[job.ItemRef] = struct{}{}
			detail.Pipeline.ItemRefs = append(detail.Pipeline.ItemRefs, job.ItemRef)
		}
		detail.Pipeline.JobIDs = append(detail.Pipeline.JobIDs, job.ID)
		detail.Jobs = append(detail.Jobs, converted)
	}
	return detail
}
