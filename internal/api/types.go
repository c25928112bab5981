package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a sub-job in a transport-friendly format.
type Job struct {
	ID           string         `json:"id"`
	PipelineID   string         `json:"pipelineId"`
	Type         string         `json:"type"`
	ItemRef      string         `json:"itemRef"`
	OwnerID      string         `json:"ownerId"`
	Status       string         `json:"status"`
	Priority     string         `json:"priority"`
	Progress     JobProgress    `json:"progress"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	RetryCount   int            `json:"retryCount"`
	MaxRetries   int            `json:"maxRetries"`
	CreatedAt    string         `json:"createdAt,omitempty"`
	StartedAt    string         `json:"startedAt,omitempty"`
	CompletedAt  string         `json:"completedAt,omitempty"`
}

// JobProgress captures the most recent progress snapshot for a job.
type JobProgress struct {
	Step    string `json:"step"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Pipeline describes a pipeline in a transport-friendly format.
type Pipeline struct {
	ID              string   `json:"id"`
	OwnerID         string   `json:"ownerId"`
	ItemRefs        []string `json:"itemRefs"`
	JobIDs          []string `json:"jobIds"`
	Status          string   `json:"status"`
	OverallProgress int      `json:"overallProgress"`
	CreatedAt       string   `json:"createdAt,omitempty"`
	StartedAt       string   `json:"startedAt,omitempty"`
	CompletedAt     string   `json:"completedAt,omitempty"`
}

// PipelineDetail bundles a pipeline with its jobs.
type PipelineDetail struct {
	Pipeline Pipeline `json:"pipeline"`
	Jobs     []Job    `json:"jobs"`
}

// EngineStats aggregates scheduler and hub counters for one snapshot.
type EngineStats struct {
	TotalPipelines     int            `json:"totalPipelines"`
	ActivePipelines    int            `json:"activePipelines"`
	CompletedPipelines int            `json:"completedPipelines"`
	FailedPipelines    int            `json:"failedPipelines"`
	CancelledPipelines int            `json:"cancelledPipelines"`
	TotalJobs          int            `json:"totalJobs"`
	JobsByStatus       map[string]int `json:"jobsByStatus"`
	QueueDepths        map[string]int `json:"queueDepths"`
	Connections        int            `json:"connections"`
	Owners             int            `json:"owners"`
	Subscriptions      int            `json:"subscriptions"`
}

// PreflightResult mirrors a startup environment check.
type PreflightResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool              `json:"running"`
	PID           int               `json:"pid"`
	Workers       int               `json:"workers"`
	HistoryDBPath string            `json:"historyDbPath"`
	LockFilePath  string            `json:"lockFilePath"`
	Stats         EngineStats       `json:"stats"`
	Preflight     []PreflightResult `json:"preflight,omitempty"`
}

// HistoryEntry describes an archived pipeline.
type HistoryEntry struct {
	ID              string `json:"id"`
	OwnerID         string `json:"ownerId"`
	Status          string `json:"status"`
	OverallProgress int    `json:"overallProgress"`
	JobCount        int    `json:"jobCount"`
	CreatedAt       string `json:"createdAt,omitempty"`
	CompletedAt     string `json:"completedAt,omitempty"`
}

// PipelineListResponse wraps a collection of pipelines for API responses.
type PipelineListResponse struct {
	Pipelines []Pipeline `json:"pipelines"`
}

// PipelineDetailResponse wraps a single pipeline with its jobs.
type PipelineDetailResponse struct {
	Detail PipelineDetail `json:"detail"`
}

// HistoryListResponse wraps archived pipelines.
type HistoryListResponse struct {
	Entries []HistoryEntry `json:"entries"`
}
