package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conveyor/internal/config"
)

const userAgent = "Conveyor/0.1.0"

// Event identifies a notification class. Which classes actually reach ntfy is
// controlled by the notifications section of the config.
type Event string

const (
	EventPipelineCompleted Event = "pipeline_completed"
	EventPipelineFailed    Event = "pipeline_failed"
	EventPipelineCancelled Event = "pipeline_cancelled"
	EventEngineStarted     Event = "engine_started"
	EventEngineStopped     Event = "engine_stopped"
	EventError             Event = "error"
	EventTest              Event = "test"
)

// Payload carries event-specific fields used to format the message.
type Payload map[string]string

// Service is the notification surface exposed to the daemon.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		prefs:    cfg.Notifications,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	prefs    config.Notifications
}

// Publish formats and sends the event when its class is enabled. Disabled and
// unknown events are silently dropped.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled(event) {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventPipelineCompleted:
		return n.prefs.PipelineCompleted
	case EventPipelineFailed:
		return n.prefs.PipelineFailed
	case EventPipelineCancelled:
		return n.prefs.PipelineCancelled
	case EventEngineStarted, EventEngineStopped:
		return n.prefs.EngineLifecycle
	case EventError:
		return n.prefs.Errors
	case EventTest:
		return true
	default:
		return false
	}
}

func format(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }

	switch event {
	case EventPipelineCompleted:
		body := fmt.Sprintf("✅ Pipeline %s complete", get("pipelineId"))
		if jobs := get("jobCount"); jobs != "" {
			body = fmt.Sprintf("%s: %s jobs", body, jobs)
		}
		if owner := get("ownerId"); owner != "" {
			body = fmt.Sprintf("%s for %s", body, owner)
		}
		if d := get("duration"); d != "" {
			body = fmt.Sprintf("%s in %s", body, d)
		}
		return message{
			title: "Conveyor - Pipeline Complete",
			body:  body,
			tags:  []string{"conveyor", "pipeline", "completed"},
		}, true
	case EventPipelineFailed:
		body := fmt.Sprintf("❌ Pipeline %s failed", get("pipelineId"))
		if failed, total := get("failedCount"), get("jobCount"); failed != "" && total != "" {
			body = fmt.Sprintf("%s: %s of %s jobs failed", body, failed, total)
		}
		if detail := get("detail"); detail != "" {
			body = fmt.Sprintf("%s\n%s", body, detail)
		}
		return message{
			title:    "Conveyor - Pipeline Failed",
			body:     body,
			tags:     []string{"conveyor", "pipeline", "failed"},
			priority: "high",
		}, true
	case EventPipelineCancelled:
		return message{
			title: "Conveyor - Pipeline Cancelled",
			body:  fmt.Sprintf("Pipeline %s cancelled for %s", get("pipelineId"), get("ownerId")),
			tags:  []string{"conveyor", "pipeline", "cancelled"},
		}, true
	case EventEngineStarted:
		return message{
			title: "Conveyor - Engine Started",
			body:  fmt.Sprintf("Engine started with %s workers", get("workers")),
			tags:  []string{"conveyor", "engine", "started"},
		}, true
	case EventEngineStopped:
		body := "Engine stopped"
		if uptime := get("uptime"); uptime != "" {
			body = fmt.Sprintf("%s after %s", body, uptime)
		}
		return message{
			title: "Conveyor - Engine Stopped",
			body:  body,
			tags:  []string{"conveyor", "engine", "stopped"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := get("context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := get("error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Conveyor - Error",
			body:     builder.String(),
			tags:     []string{"conveyor", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Conveyor - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"conveyor", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
