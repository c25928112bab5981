package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	payload := notifications.Payload{"pipelineId": "pipe-1"}
	if err := svc.Publish(context.Background(), notifications.EventPipelineCompleted, payload); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "pipeline completed",
			event: notifications.EventPipelineCompleted,
			payload: notifications.Payload{
				"pipelineId": "pipe-7",
				"ownerId":    "alice",
				"jobCount":   "6",
				"duration":   "42s",
			},
			expectTitle:   "Conveyor - Pipeline Complete",
			expectMessage: "✅ Pipeline pipe-7 complete: 6 jobs for alice in 42s",
			expectTags:    "conveyor,pipeline,completed",
		},
		{
			name:  "pipeline failed",
			event: notifications.EventPipelineFailed,
			payload: notifications.Payload{
				"pipelineId":  "pipe-8",
				"jobCount":    "3",
				"failedCount": "1",
				"detail":      "upstream timeout",
			},
			expectTitle:    "Conveyor - Pipeline Failed",
			expectMessage:  "❌ Pipeline pipe-8 failed: 1 of 3 jobs failed\nupstream timeout",
			expectTags:     "conveyor,pipeline,failed",
			expectPriority: "high",
		},
		{
			name:  "pipeline cancelled",
			event: notifications.EventPipelineCancelled,
			payload: notifications.Payload{
				"pipelineId": "pipe-9",
				"ownerId":    "bob",
			},
			expectTitle:   "Conveyor - Pipeline Cancelled",
			expectMessage: "Pipeline pipe-9 cancelled for bob",
			expectTags:    "conveyor,pipeline,cancelled",
		},
		{
			name:          "engine started",
			event:         notifications.EventEngineStarted,
			payload:       notifications.Payload{"workers": "4"},
			expectTitle:   "Conveyor - Engine Started",
			expectMessage: "Engine started with 4 workers",
			expectTags:    "conveyor,engine,started",
		},
		{
			name:  "error",
			event: notifications.EventError,
			payload: notifications.Payload{
				"context": "archive",
				"error":   "disk full",
			},
			expectTitle:    "Conveyor - Error",
			expectMessage:  "❌ Error with archive: disk full",
			expectTags:     "conveyor,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			payload:        notifications.Payload{},
			expectTitle:    "Conveyor - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "conveyor,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonoursEventToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.PipelineCancelled = false
	cfg.Notifications.EngineLifecycle = false

	svc := notifications.NewService(&cfg)
	disabled := []notifications.Event{
		notifications.EventPipelineCancelled,
		notifications.EventEngineStarted,
		notifications.EventEngineStopped,
	}
	for _, event := range disabled {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"pipelineId": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "ntfy returned 429") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

type capturingServer struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (c *capturingServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		c.mu.Lock()
		c.titles = append(c.titles, r.Header.Get("Title"))
		c.bodies = append(c.bodies, string(body))
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *capturingServer) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.titles...), append([]string(nil), c.bodies...)
}

func TestSinkNotifiesOnTerminalPipelines(t *testing.T) {
	capture := &capturingServer{}
	server := httptest.NewServer(capture.handler())
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5

	sched := queue.NewScheduler(nil, logging.NewNop())
	t.Cleanup(sched.Close)

	sink := notifications.NewSink(notifications.NewService(&cfg), sched, logging.NewNop())
	t.Cleanup(sink.Close)
	sched.AttachSink(sink)

	pipeline, err := sched.CreatePipeline([]string{"doc-1"}, "alice", queue.WithPlan(queue.JobAnalysis))
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	job, ok := sched.DequeueNext()
	if !ok {
		t.Fatal("expected a queued job")
	}
	if !sched.CompleteJob(job.ID, map[string]any{"summary": "done"}) {
		t.Fatal("complete job failed")
	}

	waitForNotification(t, capture, "Conveyor - Pipeline Complete", pipeline.ID)

	cancelled, err := sched.CreatePipeline([]string{"doc-2"}, "bob", queue.WithPlan(queue.JobAnalysis))
	if err != nil {
		t.Fatalf("create second pipeline: %v", err)
	}
	if !sched.CancelPipeline(cancelled.ID) {
		t.Fatal("cancel pipeline failed")
	}

	waitForNotification(t, capture, "Conveyor - Pipeline Cancelled", cancelled.ID)
}

func waitForNotification(t *testing.T, capture *capturingServer, title, pipelineID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		titles, bodies := capture.snapshot()
		for i, got := range titles {
			if got == title && strings.Contains(bodies[i], pipelineID) {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	titles, bodies := capture.snapshot()
	t.Fatalf("notification %q for %s not observed; saw titles=%v bodies=%v", title, pipelineID, titles, bodies)
}
