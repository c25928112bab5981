package handlers

import (
	"context"

	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/services/llm"
	"conveyor/internal/worker"
)

// AnalysisHandler summarizes a work item and scores its urgency.
type AnalysisHandler struct {
	source ItemSource
	client *llm.Client
}

// NewAnalysisHandler constructs the handler for analysis jobs.
func NewAnalysisHandler(source ItemSource, client *llm.Client) *AnalysisHandler {
	return &AnalysisHandler{source: source, client: client}
}

// Handle fetches the item, asks the model for an assessment, and returns the
// validated payload as the job result.
func (h *AnalysisHandler) Handle(ctx context.Context, job *queue.Job, report worker.Reporter) (map[string]any, error) {
	report.Progress("fetching", 10, "loading item content")
	content, err := h.source.Fetch(ctx, job.ItemRef)
	if err != nil {
		return nil, err
	}

	report.Progress("analyzing", 35, "waiting for model")
	payload, err := h.client.CompleteJSON(ctx, AnalysisPrompt, content)
	if err != nil {
		return nil, err
	}

	report.Progress("validating", 85, "checking model output")
	var result map[string]any
	if err := llm.DecodeJSON(payload, &result); err != nil {
		return nil, services.Wrap(services.ErrHandler, "analysis", "decode", "model returned unusable JSON", err)
	}
	if err := validateAgainstSchema(analysisSchema(), result); err != nil {
		return nil, services.Wrap(services.ErrHandler, "analysis", "validate", "", err)
	}
	return result, nil
}
