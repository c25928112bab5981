package queue

// Stats aggregates scheduler state for diagnostic output.
type Stats struct {
	TotalPipelines     int
	ActivePipelines    int
	CompletedPipelines int
	FailedPipelines    int
	CancelledPipelines int
	TotalJobs          int
	JobsByStatus       map[Status]int
	QueueDepths        map[Priority]int
}

// Stats returns a snapshot of pipeline and job counts grouped by status,
// plus the number of jobs waiting at each priority.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		JobsByStatus: make(map[Status]int),
		QueueDepths:  make(map[Priority]int),
	}
	for _, pipeline := range s.pipelines {
		stats.TotalPipelines++
		switch pipeline.Status {
		case PipelineRunning:
			stats.ActivePipelines++
		case PipelineCompleted:
			stats.CompletedPipelines++
		case PipelineFailed:
			stats.FailedPipelines++
		case PipelineCancelled:
			stats.CancelledPipelines++
		}
	}
	for _, job := range s.jobs {
		stats.TotalJobs++
		stats.JobsByStatus[job.Status]++
		if job.Status == StatusQueued {
			stats.QueueDepths[job.Priority]++
		}
	}
	return stats
}
