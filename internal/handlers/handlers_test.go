package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"conveyor/internal/handlers"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/services/llm"
	"conveyor/internal/testsupport"
	"conveyor/internal/worker"
)

type recordingReporter struct {
	mu    sync.Mutex
	steps []string
}

func (r *recordingReporter) Progress(step string, percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recordingReporter) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

func writeCompletion(w http.ResponseWriter, content string) {
	payload := map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{"content": content},
			},
		},
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func fixedModelServer(content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, content)
	}))
}

func testClient(serverURL string) *llm.Client {
	return llm.NewClient(
		llm.Config{APIKey: "test", BaseURL: serverURL, Model: "demo-model"},
		llm.WithRetryMaxAttempts(1),
	)
}

func analysisJob(ref string) *queue.Job {
	return &queue.Job{ID: "job-1", Type: queue.JobAnalysis, ItemRef: ref, PipelineID: "pipe-1"}
}

func TestSpoolSourceFetch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteItem(t, cfg, "doc-1", "  Invoice #42 from Acme Corp.  \n")
	source := handlers.NewSpoolSource(cfg)
	ctx := context.Background()

	content, err := source.Fetch(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if content != "Invoice #42 from Acme Corp." {
		t.Fatalf("content not trimmed: %q", content)
	}

	if _, err := source.Fetch(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	for _, ref := range []string{"", "../etc/passwd", `..\secrets`, "a/b"} {
		if _, err := source.Fetch(ctx, ref); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("ref %q: expected validation error, got %v", ref, err)
		}
	}

	testsupport.WriteItem(t, cfg, "blank", "   \n\t")
	if _, err := source.Fetch(ctx, "blank"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty item, got %v", err)
	}
}

func TestAnalysisHandlerProducesValidatedResult(t *testing.T) {
	server := fixedModelServer(`{"summary":"quarterly invoice from acme","language":"en","urgency":0.4}`)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	testsupport.WriteItem(t, cfg, "doc-1", "Please pay invoice #42 by March 1st.")

	handler := handlers.NewAnalysisHandler(handlers.NewSpoolSource(cfg), testClient(server.URL))
	reporter := &recordingReporter{}
	result, err := handler.Handle(context.Background(), analysisJob("doc-1"), reporter)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result["summary"] != "quarterly invoice from acme" || result["language"] != "en" {
		t.Fatalf("unexpected result: %#v", result)
	}
	if result["urgency"] != 0.4 {
		t.Fatalf("unexpected urgency: %#v", result["urgency"])
	}

	steps := reporter.seen()
	if len(steps) < 3 || steps[0] != "fetching" || steps[len(steps)-1] != "validating" {
		t.Fatalf("unexpected progress steps: %v", steps)
	}
}

func TestAnalysisHandlerRejectsSchemaViolation(t *testing.T) {
	server := fixedModelServer(`{"summary":"missing the rest"}`)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	testsupport.WriteItem(t, cfg, "doc-1", "some content")

	handler := handlers.NewAnalysisHandler(handlers.NewSpoolSource(cfg), testClient(server.URL))
	_, err := handler.Handle(context.Background(), analysisJob("doc-1"), &recordingReporter{})
	if !errors.Is(err, services.ErrHandler) {
		t.Fatalf("expected handler error for schema violation, got %v", err)
	}
}

func TestAnalysisHandlerRejectsNonJSON(t *testing.T) {
	server := fixedModelServer(`I am sorry, I cannot help with that.`)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	testsupport.WriteItem(t, cfg, "doc-1", "some content")

	handler := handlers.NewAnalysisHandler(handlers.NewSpoolSource(cfg), testClient(server.URL))
	_, err := handler.Handle(context.Background(), analysisJob("doc-1"), &recordingReporter{})
	if !errors.Is(err, services.ErrHandler) {
		t.Fatalf("expected handler error for unusable payload, got %v", err)
	}
}

func TestExtractionHandlerAllowsEmptyEntityLists(t *testing.T) {
	server := fixedModelServer(`{"people":[],"organizations":[],"dates":[],"amounts":[]}`)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	testsupport.WriteItem(t, cfg, "doc-1", "nothing interesting here")

	handler := handlers.NewExtractionHandler(handlers.NewSpoolSource(cfg), testClient(server.URL))
	job := &queue.Job{ID: "job-1", Type: queue.JobExtraction, ItemRef: "doc-1"}
	result, err := handler.Handle(context.Background(), job, &recordingReporter{})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	people, ok := result["people"].([]any)
	if !ok || len(people) != 0 {
		t.Fatalf("expected empty people list, got %#v", result["people"])
	}
}

func TestCategorizationHandlerNormalizesCategory(t *testing.T) {
	server := fixedModelServer(`{"category":" Invoice ","confidence":0.93}`)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	testsupport.WriteItem(t, cfg, "doc-1", "Please pay invoice #42.")

	handler := handlers.NewCategorizationHandler(handlers.NewSpoolSource(cfg), testClient(server.URL))
	job := &queue.Job{ID: "job-1", Type: queue.JobCategorization, ItemRef: "doc-1"}
	result, err := handler.Handle(context.Background(), job, &recordingReporter{})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result["category"] != "invoice" {
		t.Fatalf("category not normalized: %#v", result["category"])
	}
}

func TestCategorizationHandlerRejectsUnknownCategory(t *testing.T) {
	server := fixedModelServer(`{"category":"pizza","confidence":0.99}`)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	testsupport.WriteItem(t, cfg, "doc-1", "some content")

	handler := handlers.NewCategorizationHandler(handlers.NewSpoolSource(cfg), testClient(server.URL))
	job := &queue.Job{ID: "job-1", Type: queue.JobCategorization, ItemRef: "doc-1"}
	_, err := handler.Handle(context.Background(), job, &recordingReporter{})
	if !errors.Is(err, services.ErrHandler) {
		t.Fatalf("expected handler error for unknown category, got %v", err)
	}
}

func TestRegisteredHandlersDrivePipelineThroughPool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		system := req.Messages[0].Content
		switch {
		case strings.Contains(system, "analyzes a work item"):
			writeCompletion(w, `{"summary":"invoice from acme","language":"en","urgency":0.4}`)
		case strings.Contains(system, "extracts structured entities"):
			writeCompletion(w, `{"people":["Jane Doe"],"organizations":["Acme Corp"],"dates":["2026-03-01"],"amounts":["EUR 1,200.00"]}`)
		default:
			writeCompletion(w, `{"category":"invoice","confidence":0.93}`)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithLLMBaseURL(server.URL), testsupport.WithWorkers(2))
	testsupport.WriteItem(t, cfg, "doc-1", "Invoice #42 from Acme Corp, due 2026-03-01, EUR 1,200.00. Contact Jane Doe.")

	sched := queue.NewScheduler(cfg, logging.NewNop())
	t.Cleanup(sched.Close)
	pool := worker.NewPool(cfg, sched, logging.NewNop(), worker.WithIdleInterval(5*time.Millisecond))
	handlers.Register(pool, cfg, logging.NewNop())
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(pool.Stop)

	pipeline, err := sched.CreatePipeline([]string{"doc-1"}, "owner-a")
	if err != nil {
		t.Fatalf("CreatePipeline failed: %v", err)
	}
	if len(pipeline.JobIDs) != 3 {
		t.Fatalf("expected default plan to fan into 3 jobs, got %d", len(pipeline.JobIDs))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		current, ok := sched.GetPipeline(pipeline.ID)
		if !ok {
			t.Fatal("pipeline disappeared")
		}
		if current.Status.IsTerminal() {
			if current.Status != queue.PipelineCompleted {
				t.Fatalf("pipeline finished %s", current.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline stuck in %s", current.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	jobs, _ := sched.JobsForPipeline(pipeline.ID)
	for _, job := range jobs {
		if job.Status != queue.StatusCompleted {
			t.Fatalf("job %s finished %s: %s", job.Type, job.Status, job.ErrorMessage)
		}
		if len(job.Result) == 0 {
			t.Fatalf("job %s missing result", job.Type)
		}
	}
}
