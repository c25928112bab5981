package api

import (
	"sort"
	"time"
)

// SortPipelinesNewestFirst orders pipelines by CreatedAt descending, breaking ties by ID descending.
func SortPipelinesNewestFirst(pipelines []Pipeline) []Pipeline {
	if len(pipelines) == 0 {
		return nil
	}
	sorted := make([]Pipeline, len(pipelines))
	copy(sorted, pipelines)
	sort.Slice(sorted, func(i, j int) bool {
		ti := parseAPITime(sorted[i].CreatedAt)
		tj := parseAPITime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})
	return sorted
}

// SortJobsOldestFirst orders jobs by CreatedAt ascending so describe output
// matches submission order, breaking ties by ID ascending.
func SortJobsOldestFirst(jobs []Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	sorted := make([]Job, len(jobs))
	copy(sorted, jobs)
	sort.Slice(sorted, func(i, j int) bool {
		ti := parseAPITime(sorted[i].CreatedAt)
		tj := parseAPITime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID < sorted[j].ID
		}
		return ti.Before(tj)
	})
	return sorted
}

func parseAPITime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// ParseAPITime exposes timestamp parsing for consumers that need display formatting.
func ParseAPITime(value string) time.Time {
	return parseAPITime(value)
}
