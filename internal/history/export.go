package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportXLSX renders the archive as an XLSX workbook with a Pipelines sheet
// and a Jobs sheet. A limit <= 0 exports every archived pipeline.
func (s *Store) ExportXLSX(ctx context.Context, limit int) ([]byte, error) {
	pipelines, err := s.ListPipelines(ctx, limit)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const pipelineSheet = "Pipelines"
	const jobSheet = "Jobs"

	if _, err := f.NewSheet(pipelineSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(jobSheet); err != nil {
		return nil, err
	}
	// Drop the workbook's default sheet so only ours remain.
	_ = f.DeleteSheet("Sheet1")
	if index, err := f.GetSheetIndex(pipelineSheet); err == nil {
		f.SetActiveSheet(index)
	}

	pipelineHeaders := []string{"Pipeline ID", "Owner", "Status", "Progress", "Jobs", "Created", "Completed"}
	for i, h := range pipelineHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(pipelineSheet, cell, h)
	}

	jobHeaders := []string{"Job ID", "Pipeline ID", "Type", "Item", "Priority", "Status", "Retries", "Progress", "Error", "Result", "Completed"}
	for i, h := range jobHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(jobSheet, cell, h)
	}

	jobRow := 2
	for row, pipeline := range pipelines {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row+2)
			_ = f.SetCellValue(pipelineSheet, cell, v)
		}
		write(1, pipeline.ID)
		write(2, pipeline.OwnerID)
		write(3, string(pipeline.Status))
		write(4, fmt.Sprintf("%d%%", pipeline.OverallProgress))
		write(5, pipeline.JobCount)
		write(6, formatExportTime(&pipeline.CreatedAt))
		write(7, formatExportTime(pipeline.CompletedAt))

		jobs, err := s.JobsForPipeline(ctx, pipeline.ID)
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			writeJob := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, jobRow)
				_ = f.SetCellValue(jobSheet, cell, v)
			}
			writeJob(1, job.ID)
			writeJob(2, job.PipelineID)
			writeJob(3, string(job.Type))
			writeJob(4, job.ItemRef)
			writeJob(5, string(job.Priority))
			writeJob(6, string(job.Status))
			writeJob(7, fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries))
			writeJob(8, fmt.Sprintf("%d%%", job.ProgressPercent))
			writeJob(9, truncate(job.ErrorMessage, 140))
			writeJob(10, truncate(compactResult(job.Result), 140))
			writeJob(11, formatExportTime(job.CompletedAt))
			jobRow++
		}
	}

	_ = f.SetColWidth(pipelineSheet, "A", "A", 38)
	_ = f.SetColWidth(pipelineSheet, "B", "B", 22)
	_ = f.SetColWidth(pipelineSheet, "F", "G", 22)
	_ = f.SetColWidth(jobSheet, "A", "B", 38)
	_ = f.SetColWidth(jobSheet, "D", "D", 28)
	_ = f.SetColWidth(jobSheet, "I", "J", 48)
	_ = f.SetColWidth(jobSheet, "K", "K", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func formatExportTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func compactResult(result map[string]any) string {
	if len(result) == 0 {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
