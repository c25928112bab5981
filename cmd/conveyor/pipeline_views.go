package main

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"conveyor/internal/api"
	"conveyor/internal/ipc"
)

var titleCaser = cases.Title(language.Und)

// formatStatusLabel renders a snake_case status or event type as a display
// label ("pipeline_complete" -> "Pipeline Complete").
func formatStatusLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(strings.ToLower(value), "_", " "))
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	t := api.ParseAPITime(value)
	if t.IsZero() {
		return value
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// shortID trims uuids for table cells; the full id stays available through
// submit output and describe.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func buildPipelineRows(pipelines []ipc.Pipeline) [][]string {
	sorted := api.SortPipelinesNewestFirst(pipelines)
	rows := make([][]string, 0, len(sorted))
	for _, pipeline := range sorted {
		rows = append(rows, []string{
			pipeline.ID,
			pipeline.OwnerID,
			formatStatusLabel(pipeline.Status),
			fmt.Sprintf("%d%%", pipeline.OverallProgress),
			fmt.Sprintf("%d", len(pipeline.ItemRefs)),
			formatDisplayTime(pipeline.CreatedAt),
		})
	}
	return rows
}

func buildJobRows(jobs []ipc.Job) [][]string {
	sorted := api.SortJobsOldestFirst(jobs)
	rows := make([][]string, 0, len(sorted))
	for _, job := range sorted {
		rows = append(rows, []string{
			shortID(job.ID),
			formatStatusLabel(job.Type),
			job.ItemRef,
			formatStatusLabel(job.Status),
			formatJobProgress(job),
			fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
		})
	}
	return rows
}

func formatJobProgress(job ipc.Job) string {
	if step := strings.TrimSpace(job.Progress.Step); step != "" {
		return fmt.Sprintf("%d%% (%s)", job.Progress.Percent, step)
	}
	return fmt.Sprintf("%d%%", job.Progress.Percent)
}

func buildHistoryRows(entries []ipc.HistoryEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.ID,
			entry.OwnerID,
			formatStatusLabel(entry.Status),
			fmt.Sprintf("%d%%", entry.OverallProgress),
			fmt.Sprintf("%d", entry.JobCount),
			formatDisplayTime(entry.CompletedAt),
		})
	}
	return rows
}

func printPipelineDetail(out io.Writer, detail ipc.PipelineDetail, archived bool) {
	pipeline := detail.Pipeline

	fmt.Fprintf(out, "Pipeline %s\n", pipeline.ID)
	fmt.Fprintf(out, "  Owner:     %s\n", pipeline.OwnerID)
	fmt.Fprintf(out, "  Status:    %s\n", formatStatusLabel(pipeline.Status))
	fmt.Fprintf(out, "  Progress:  %d%%\n", pipeline.OverallProgress)
	if len(pipeline.ItemRefs) > 0 {
		fmt.Fprintf(out, "  Items:     %s\n", strings.Join(pipeline.ItemRefs, ", "))
	}
	fmt.Fprintf(out, "  Created:   %s\n", formatDisplayTime(pipeline.CreatedAt))
	if pipeline.StartedAt != "" {
		fmt.Fprintf(out, "  Started:   %s\n", formatDisplayTime(pipeline.StartedAt))
	}
	if pipeline.CompletedAt != "" {
		fmt.Fprintf(out, "  Completed: %s\n", formatDisplayTime(pipeline.CompletedAt))
	}
	if archived {
		fmt.Fprintln(out, "  (served from the history archive)")
	}

	if len(detail.Jobs) == 0 {
		return
	}
	fmt.Fprintln(out)
	table := renderTable(
		[]string{"Job", "Type", "Item", "Status", "Progress", "Attempts"},
		buildJobRows(detail.Jobs),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
	fmt.Fprintln(out, table)

	for _, job := range api.SortJobsOldestFirst(detail.Jobs) {
		if msg := strings.TrimSpace(job.ErrorMessage); msg != "" {
			fmt.Fprintf(out, "Job %s error: %s\n", shortID(job.ID), msg)
		}
	}
}
