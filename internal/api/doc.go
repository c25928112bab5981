// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates internal queue models into transport-friendly DTOs
// that CLI and stream consumers can render without coupling to internal types.
//
// # Key Types
//
// Job/Pipeline: transport representations of scheduler records with progress,
// retry counters, and result payloads.
//
// PipelineDetail: a pipeline bundled with its jobs for describe-style views.
//
// EngineStats: scheduler counters merged with hub connection counts.
//
// DaemonStatus: aggregated runtime information including preflight results.
//
// HistoryEntry: archived pipeline summary backed by the history store.
//
// # Converters
//
// FromJob/FromPipeline: queue models -> DTOs with UTC timestamp formatting.
//
// FromStats: queue.Stats + hub.Stats -> EngineStats with string-keyed maps.
//
// FromHistoryDetail: archive rows -> PipelineDetail for offline describe.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (queue.Status, queue.Priority) are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds. Job results are copied rather than
// aliased so callers can mutate DTOs freely.
package api
