package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conveyor/internal/services"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": content,
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
}

func TestClientHealthCheck(t *testing.T) {
	server := completionServer(t, `{"ok":true}`)
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckCodeFence(t *testing.T) {
	server := completionServer(t, "```json\n{\"ok\":true}\n```")
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	err := client.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected health check to fail")
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected external classification, got %v", err)
	}
}

func TestCompleteJSONValidation(t *testing.T) {
	client := NewClient(Config{APIKey: "test", Model: "demo"})
	if _, err := client.CompleteJSON(context.Background(), "", "user"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for blank system prompt, got %v", err)
	}
	if _, err := client.CompleteJSON(context.Background(), "system", "  "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for blank user prompt, got %v", err)
	}

	keyless := NewClient(Config{Model: "demo"})
	if _, err := keyless.CompleteJSON(context.Background(), "system", "user"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without api key, got %v", err)
	}
}

func TestCompleteJSONPreservesRawContent(t *testing.T) {
	server := completionServer(t, "```json\n{\"summary\":\"ok\",\"confidence\":0.82}\n```")
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if !strings.Contains(content, "```") {
		t.Fatalf("expected raw payload to retain code fence, got %q", content)
	}

	var parsed struct {
		Summary    string  `json:"summary"`
		Confidence float64 `json:"confidence"`
	}
	if err := DecodeJSON(content, &parsed); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if parsed.Summary != "ok" || parsed.Confidence != 0.82 {
		t.Fatalf("unexpected decode result: %+v", parsed)
	}
}

func TestCompleteJSONToolCallArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "tool_calls",
					"message": map[string]any{
						"content": "",
						"tool_calls": []any{
							map[string]any{
								"type": "function",
								"id":   "call_1",
								"function": map[string]any{
									"name":      "emit_result",
									"arguments": `{"category":"invoice"}`,
								},
							},
						},
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if !strings.Contains(content, `"category"`) {
		t.Fatalf("expected tool call arguments, got %q", content)
	}
}

func TestCompleteJSONDeltaContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "",
					"delta": map[string]any{
						"content": `{"category":"report"}`,
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"category":"report"}` {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestCompleteJSONLegacyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"text":          `{"category":"memo"}`,
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"category":"memo"}` {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestCompleteJSONEmptyContentHasSnippet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"message": map[string]any{
						"content": "",
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.CompleteJSON(context.Background(), "system prompt", "user prompt")
	if err == nil {
		t.Fatal("expected completion to fail")
	}
	if !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error to include snippet, got %v", err)
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected external classification, got %v", err)
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"category":"invoice"}`,
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	content, err := client.CompleteJSON(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"category":"invoice"}` {
		t.Fatalf("unexpected content %q", content)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestCompleteJSONRetriesOnEmptyContentThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := ""
		if calls >= 3 {
			content = `{"category":"invoice"}`
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"message": map[string]any{
						"content": content,
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(5),
	)
	content, err := client.CompleteJSON(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"category":"invoice"}` {
		t.Fatalf("unexpected content %q", content)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDecodeJSONExtractsEmbeddedObject(t *testing.T) {
	var parsed struct {
		Category string `json:"category"`
	}
	cases := []string{
		`{"category":"invoice"}`,
		"```json\n{\"category\":\"invoice\"}\n```",
		`Here is the result you asked for: {"category":"invoice"} hope that helps!`,
	}
	for _, payload := range cases {
		parsed.Category = ""
		if err := DecodeJSON(payload, &parsed); err != nil {
			t.Fatalf("DecodeJSON(%q) failed: %v", payload, err)
		}
		if parsed.Category != "invoice" {
			t.Fatalf("DecodeJSON(%q): unexpected result %+v", payload, parsed)
		}
	}

	if err := DecodeJSON("", &parsed); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if err := DecodeJSON("no json here", &parsed); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
}
