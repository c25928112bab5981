package ipc

import "conveyor/internal/api"

// PingRequest checks daemon liveness.
type PingRequest struct{}

// PingResponse reports the daemon process id.
type PingResponse struct {
	PID int `json:"pid"`
}

// StartRequest triggers engine startup.
type StartRequest struct{}

// StartResponse indicates whether the engine was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the engine.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// Pipeline mirrors the HTTP API pipeline DTO for internal IPC callers.
type Pipeline = api.Pipeline

// Job mirrors the HTTP API job DTO for internal IPC callers.
type Job = api.Job

// PipelineDetail bundles a pipeline with its jobs.
type PipelineDetail = api.PipelineDetail

// EngineStats aggregates scheduler and hub counters.
type EngineStats = api.EngineStats

// HistoryEntry describes an archived pipeline.
type HistoryEntry = api.HistoryEntry

// PreflightResult mirrors a startup environment check.
type PreflightResult = api.PreflightResult

// StatusResponse represents combined daemon/engine status information.
type StatusResponse struct {
	Running       bool              `json:"running"`
	Workers       int               `json:"workers"`
	StartedAt     string            `json:"started_at,omitempty"`
	HistoryDBPath string            `json:"history_db_path"`
	LockPath      string            `json:"lock_path"`
	APIAddr       string            `json:"api_addr,omitempty"`
	StreamAddr    string            `json:"stream_addr,omitempty"`
	Stats         EngineStats       `json:"stats"`
	Preflight     []PreflightResult `json:"preflight,omitempty"`
	PID           int               `json:"pid"`
}

// SubmitRequest creates a pipeline for a batch of work item references.
type SubmitRequest struct {
	Items      []string `json:"items"`
	OwnerID    string   `json:"owner_id"`
	Priority   string   `json:"priority,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty"`
	Plan       []string `json:"plan,omitempty"`
}

// SubmitResponse returns the created pipeline.
type SubmitResponse struct {
	Pipeline Pipeline `json:"pipeline"`
}

// ListRequest filters pipeline listing by status.
type ListRequest struct {
	Statuses []string `json:"statuses"`
}

// ListResponse contains live pipelines, newest first.
type ListResponse struct {
	Pipelines []Pipeline `json:"pipelines"`
}

// DescribeRequest fetches a single pipeline by id.
type DescribeRequest struct {
	ID string `json:"id"`
}

// DescribeResponse contains a pipeline with its jobs. Archived is set when
// the pipeline was served from the history archive instead of the scheduler.
type DescribeResponse struct {
	Detail   PipelineDetail `json:"detail"`
	Archived bool           `json:"archived"`
}

// CancelRequest cancels a pipeline by id.
type CancelRequest struct {
	ID string `json:"id"`
}

// CancelResponse reports whether any job was cancelled.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// StatsRequest fetches engine counters.
type StatsRequest struct{}

// StatsResponse contains a snapshot of scheduler and hub counters.
type StatsResponse struct {
	Stats EngineStats `json:"stats"`
}

// HistoryRequest lists archived pipelines. Zero limit applies the default
// page size.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse contains archived pipelines, most recently completed first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
