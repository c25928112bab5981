// Package llm provides an OpenRouter chat client shared by the job handlers.
//
// This package is used by:
//   - Analysis handler: summarize and assess work items
//   - Extraction handler: pull structured entities out of item content
//   - Categorization handler: assign category labels
//
// # Configuration
//
// Requires api_key, model, and optionally base_url, referer, title, timeout.
// NewClientFrom bridges the daemon configuration into a client.
//
// # Entry Points
//
// NewClient / NewClientFrom: construct a client.
// Client.CompleteJSON: send system/user prompts, receive a JSON payload.
// Client.HealthCheck: verify API key and model availability.
// DecodeJSON: decode model output, tolerating code fences and prose padding.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff (base 1s, max 10s, up to 5 attempts by default).
// Context cancellation aborts retries immediately. Exhausted retries and
// non-retryable provider failures surface as services.ErrExternal so handlers
// can classify them without string matching.
package llm
