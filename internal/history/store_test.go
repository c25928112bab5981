package history_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"conveyor/internal/history"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
)

func samplePipeline(id, owner string, status queue.PipelineStatus, completed time.Time) *queue.Pipeline {
	created := completed.Add(-time.Minute)
	started := created.Add(time.Second)
	done := completed
	return &queue.Pipeline{
		ID:              id,
		OwnerID:         owner,
		ItemRefs:        []string{"doc-1"},
		JobIDs:          []string{id + "-job-1", id + "-job-2"},
		OverallProgress: 100,
		Status:          status,
		CreatedAt:       created,
		StartedAt:       &started,
		CompletedAt:     &done,
	}
}

func sampleJobs(pipeline *queue.Pipeline) []*queue.Job {
	completed := *pipeline.CompletedAt
	return []*queue.Job{
		{
			ID:          pipeline.JobIDs[0],
			PipelineID:  pipeline.ID,
			Type:        queue.JobAnalysis,
			ItemRef:     "doc-1",
			OwnerID:     pipeline.OwnerID,
			Status:      queue.StatusCompleted,
			Priority:    queue.PriorityMedium,
			Progress:    queue.Progress{Step: "completed", Percent: 100},
			Result:      map[string]any{"verdict": "ok", "score": float64(7)},
			MaxRetries:  3,
			CreatedAt:   pipeline.CreatedAt,
			CompletedAt: &completed,
		},
		{
			ID:           pipeline.JobIDs[1],
			PipelineID:   pipeline.ID,
			Type:         queue.JobExtraction,
			ItemRef:      "doc-1",
			OwnerID:      pipeline.OwnerID,
			Status:       queue.StatusFailed,
			Priority:     queue.PriorityMedium,
			Progress:     queue.Progress{Step: "failed", Percent: 40},
			ErrorMessage: "upstream timeout",
			RetryCount:   3,
			MaxRetries:   3,
			CreatedAt:    pipeline.CreatedAt.Add(time.Millisecond),
			CompletedAt:  &completed,
		},
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	pipeline := samplePipeline("pipe-1", "owner-a", queue.PipelineFailed, time.Now().UTC())
	jobs := sampleJobs(pipeline)
	if err := store.ArchivePipeline(ctx, pipeline, jobs); err != nil {
		t.Fatalf("ArchivePipeline failed: %v", err)
	}

	record, err := store.PipelineByID(ctx, "pipe-1")
	if err != nil {
		t.Fatalf("PipelineByID failed: %v", err)
	}
	if record == nil {
		t.Fatal("expected archived pipeline")
	}
	if record.OwnerID != "owner-a" || record.Status != queue.PipelineFailed || record.JobCount != 2 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.CompletedAt == nil || !record.CompletedAt.Equal(*pipeline.CompletedAt) {
		t.Fatalf("completed timestamp did not round-trip: %+v", record.CompletedAt)
	}

	archived, err := store.JobsForPipeline(ctx, "pipe-1")
	if err != nil {
		t.Fatalf("JobsForPipeline failed: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("expected 2 archived jobs, got %d", len(archived))
	}
	if archived[0].Type != queue.JobAnalysis || archived[1].Type != queue.JobExtraction {
		t.Fatalf("jobs out of order: %s, %s", archived[0].Type, archived[1].Type)
	}
	if archived[0].Result["verdict"] != "ok" {
		t.Fatalf("result did not round-trip: %#v", archived[0].Result)
	}
	if archived[1].ErrorMessage != "upstream timeout" || archived[1].RetryCount != 3 {
		t.Fatalf("failure detail lost: %+v", archived[1])
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary[queue.PipelineFailed] != 1 {
		t.Fatalf("unexpected summary: %#v", summary)
	}
}

func TestArchiveIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	pipeline := samplePipeline("pipe-1", "owner-a", queue.PipelineCompleted, time.Now().UTC())
	jobs := sampleJobs(pipeline)
	if err := store.ArchivePipeline(ctx, pipeline, jobs); err != nil {
		t.Fatalf("first archive failed: %v", err)
	}

	pipeline.Status = queue.PipelineFailed
	if err := store.ArchivePipeline(ctx, pipeline, jobs); err != nil {
		t.Fatalf("second archive failed: %v", err)
	}

	records, err := store.ListPipelines(ctx, 0)
	if err != nil {
		t.Fatalf("ListPipelines failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected a single pipeline row, got %d", len(records))
	}
	if records[0].Status != queue.PipelineFailed {
		t.Fatalf("re-archive did not update status: %s", records[0].Status)
	}

	archived, err := store.JobsForPipeline(ctx, "pipe-1")
	if err != nil {
		t.Fatalf("JobsForPipeline failed: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("expected 2 job rows after re-archive, got %d", len(archived))
	}
}

func TestListPipelinesOrdersNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		pipeline := samplePipeline(fmt.Sprintf("pipe-%d", i), "owner-a", queue.PipelineCompleted, base.Add(time.Duration(i)*time.Second))
		if err := store.ArchivePipeline(ctx, pipeline, nil); err != nil {
			t.Fatalf("ArchivePipeline failed: %v", err)
		}
	}

	records, err := store.ListPipelines(ctx, 0)
	if err != nil {
		t.Fatalf("ListPipelines failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 pipelines, got %d", len(records))
	}
	for i, want := range []string{"pipe-2", "pipe-1", "pipe-0"} {
		if records[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, records[i].ID)
		}
	}

	limited, err := store.ListPipelines(ctx, 2)
	if err != nil {
		t.Fatalf("ListPipelines with limit failed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "pipe-2" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestPipelineByIDMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	record, err := store.PipelineByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("PipelineByID failed: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil for unknown pipeline, got %+v", record)
	}
}

func waitForArchived(t *testing.T, store *history.Store, id string) *history.PipelineRecord {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		record, err := store.PipelineByID(context.Background(), id)
		if err != nil {
			t.Fatalf("PipelineByID failed: %v", err)
		}
		if record != nil {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline %s never archived", id)
	return nil
}

func TestSinkArchivesSettledPipelines(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	sched := queue.NewScheduler(cfg, logging.NewNop())
	t.Cleanup(sched.Close)
	sink := history.NewSink(store, sched, logging.NewNop())
	t.Cleanup(sink.Close)
	sched.AttachSink(sink)

	pipeline, err := sched.CreatePipeline([]string{"doc-1"}, "owner-a", queue.WithPlan(queue.JobAnalysis))
	if err != nil {
		t.Fatalf("CreatePipeline failed: %v", err)
	}
	job, ok := sched.DequeueNext()
	if !ok {
		t.Fatal("expected queued job")
	}
	if !sched.CompleteJob(job.ID, map[string]any{"verdict": "ok"}) {
		t.Fatal("CompleteJob failed")
	}

	record := waitForArchived(t, store, pipeline.ID)
	if record.Status != queue.PipelineCompleted || record.OverallProgress != 100 {
		t.Fatalf("unexpected archived pipeline: %+v", record)
	}
	jobs, err := store.JobsForPipeline(context.Background(), pipeline.ID)
	if err != nil {
		t.Fatalf("JobsForPipeline failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != queue.StatusCompleted {
		t.Fatalf("unexpected archived jobs: %+v", jobs)
	}
	if jobs[0].Result["verdict"] != "ok" {
		t.Fatalf("result missing from archive: %#v", jobs[0].Result)
	}

	cancelled, err := sched.CreatePipeline([]string{"doc-2"}, "owner-a", queue.WithPlan(queue.JobAnalysis))
	if err != nil {
		t.Fatalf("CreatePipeline failed: %v", err)
	}
	if !sched.CancelPipeline(cancelled.ID) {
		t.Fatal("CancelPipeline failed")
	}
	record = waitForArchived(t, store, cancelled.ID)
	if record.Status != queue.PipelineCancelled {
		t.Fatalf("expected cancelled archive, got %s", record.Status)
	}
}

func TestExportXLSX(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	pipeline := samplePipeline("pipe-export", "owner-a", queue.PipelineCompleted, time.Now().UTC())
	if err := store.ArchivePipeline(ctx, pipeline, sampleJobs(pipeline)); err != nil {
		t.Fatalf("ArchivePipeline failed: %v", err)
	}

	data, err := store.ExportXLSX(ctx, 0)
	if err != nil {
		t.Fatalf("ExportXLSX failed: %v", err)
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("exported bytes are not a workbook: %v", err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	foundPipelines, foundJobs := false, false
	for _, sheet := range sheets {
		switch sheet {
		case "Pipelines":
			foundPipelines = true
		case "Jobs":
			foundJobs = true
		case "Sheet1":
			t.Fatal("default sheet should be removed")
		}
	}
	if !foundPipelines || !foundJobs {
		t.Fatalf("missing sheets: %v", sheets)
	}

	id, err := workbook.GetCellValue("Pipelines", "A2")
	if err != nil {
		t.Fatalf("GetCellValue failed: %v", err)
	}
	if id != "pipe-export" {
		t.Fatalf("unexpected pipeline cell: %q", id)
	}
	jobPipeline, err := workbook.GetCellValue("Jobs", "B2")
	if err != nil {
		t.Fatalf("GetCellValue failed: %v", err)
	}
	if jobPipeline != "pipe-export" {
		t.Fatalf("unexpected job cell: %q", jobPipeline)
	}
}
