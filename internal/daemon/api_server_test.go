package daemon_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"conveyor/internal/api"
	"conveyor/internal/daemon"
	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
)

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, body)
		}
	}
	return resp.StatusCode
}

func TestAPIServerEndpoints(t *testing.T) {
	d, _, cfg := newTestDaemon(t)
	testsupport.WriteItem(t, cfg, "doc-1", "Invoice #42 from Acme Corp.")

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(d.Stop)
	base := "http://" + d.APIAddr()

	var health map[string]string
	if code := getJSON(t, base+"/healthz", &health); code != http.StatusOK {
		t.Fatalf("healthz returned %d", code)
	}
	if health["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp, err := http.Post(base+"/healthz", "application/json", nil)
	if err != nil {
		t.Fatalf("POST healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", resp.StatusCode)
	}

	pipeline, err := d.Submit(daemon.SubmitRequest{Items: []string{"doc-1"}, OwnerID: "alice", Plan: []string{"analysis"}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForPipeline(t, d, pipeline.ID, queue.PipelineCompleted)

	var status api.DaemonStatus
	if code := getJSON(t, base+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status returned %d", code)
	}
	if !status.Running || status.Stats.TotalPipelines != 1 || len(status.Preflight) != 4 {
		t.Fatalf("unexpected status payload: %+v", status)
	}

	var stats api.EngineStats
	if code := getJSON(t, base+"/api/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats returned %d", code)
	}
	if stats.CompletedPipelines != 1 {
		t.Fatalf("unexpected stats payload: %+v", stats)
	}

	var list api.PipelineListResponse
	if code := getJSON(t, base+"/api/pipelines", &list); code != http.StatusOK {
		t.Fatalf("pipelines returned %d", code)
	}
	if len(list.Pipelines) != 1 || list.Pipelines[0].ID != pipeline.ID {
		t.Fatalf("unexpected pipeline list: %+v", list)
	}

	var filtered api.PipelineListResponse
	if code := getJSON(t, base+"/api/pipelines?status=running", &filtered); code != http.StatusOK {
		t.Fatalf("filtered pipelines returned %d", code)
	}
	if len(filtered.Pipelines) != 0 {
		t.Fatalf("expected no running pipelines, got %+v", filtered.Pipelines)
	}

	var detail api.PipelineDetailResponse
	if code := getJSON(t, base+"/api/pipelines/"+pipeline.ID, &detail); code != http.StatusOK {
		t.Fatalf("pipeline detail returned %d", code)
	}
	if detail.Detail.Pipeline.ID != pipeline.ID || len(detail.Detail.Jobs) != 1 {
		t.Fatalf("unexpected detail payload: %+v", detail)
	}
	if detail.Detail.Jobs[0].Status != string(queue.StatusCompleted) {
		t.Fatalf("unexpected job status: %+v", detail.Detail.Jobs[0])
	}

	if code := getJSON(t, base+"/api/pipelines/does-not-exist", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown pipeline, got %d", code)
	}
	if code := getJSON(t, base+"/api/history?limit=nope", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}

	// The archive catches up asynchronously.
	deadline := time.Now().Add(3 * time.Second)
	for {
		var hist api.HistoryListResponse
		if code := getJSON(t, base+"/api/history", &hist); code != http.StatusOK {
			t.Fatalf("history returned %d", code)
		}
		if len(hist.Entries) == 1 {
			if hist.Entries[0].ID != pipeline.ID {
				t.Fatalf("unexpected history entry: %+v", hist.Entries[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("history never caught up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAPIServerRequiresConfiguredToken(t *testing.T) {
	d, _, _ := newTestDaemon(t, testsupport.WithAPIToken("sekrit"))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(d.Stop)
	base := "http://" + d.APIAddr()

	if code := getJSON(t, base+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz should stay open, got %d", code)
	}
	if code := getJSON(t, base+"/api/stats", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/stats", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with bad token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", resp.StatusCode)
	}

	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestAPIServerServesArchivedPipelines(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(d.Stop)

	now := time.Now().UTC().Truncate(time.Second)
	done := now.Add(30 * time.Second)
	pipeline := &queue.Pipeline{
		ID:              "pipe-archived",
		OwnerID:         "alice",
		ItemRefs:        []string{"doc-9"},
		JobIDs:          []string{"job-9"},
		Status:          queue.PipelineCompleted,
		OverallProgress: 100,
		CreatedAt:       now,
		StartedAt:       &now,
		CompletedAt:     &done,
	}
	jobs := []*queue.Job{{
		ID:          "job-9",
		PipelineID:  "pipe-archived",
		Type:        queue.JobAnalysis,
		ItemRef:     "doc-9",
		OwnerID:     "alice",
		Status:      queue.StatusCompleted,
		Priority:    queue.PriorityMedium,
		Result:      map[string]any{"summary": "done"},
		CreatedAt:   now,
		StartedAt:   &now,
		CompletedAt: &done,
	}}
	if err := store.ArchivePipeline(context.Background(), pipeline, jobs); err != nil {
		t.Fatalf("ArchivePipeline failed: %v", err)
	}

	// The scheduler has never seen this pipeline, so the handler must fall
	// back to the archive.
	base := "http://" + d.APIAddr()
	var detail api.PipelineDetailResponse
	if code := getJSON(t, base+"/api/pipelines/pipe-archived", &detail); code != http.StatusOK {
		t.Fatalf("archived detail returned %d", code)
	}
	if detail.Detail.Pipeline.ID != "pipe-archived" || detail.Detail.Pipeline.Status != string(queue.PipelineCompleted) {
		t.Fatalf("unexpected archived pipeline: %+v", detail.Detail.Pipeline)
	}
	if len(detail.Detail.Jobs) != 1 || detail.Detail.Jobs[0].ID != "job-9" {
		t.Fatalf("unexpected archived jobs: %+v", detail.Detail.Jobs)
	}
}
