package handlers

import (
	"context"

	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/services/llm"
	"conveyor/internal/worker"
)

// ExtractionHandler pulls structured entities out of a work item.
type ExtractionHandler struct {
	source ItemSource
	client *llm.Client
}

// NewExtractionHandler constructs the handler for extraction jobs.
func NewExtractionHandler(source ItemSource, client *llm.Client) *ExtractionHandler {
	return &ExtractionHandler{source: source, client: client}
}

// Handle fetches the item and returns the entities the model found in it.
// Empty entity lists are a valid result; hallucinated fields are not, which
// is why the output is schema-checked before it becomes the job result.
func (h *ExtractionHandler) Handle(ctx context.Context, job *queue.Job, report worker.Reporter) (map[string]any, error) {
	report.Progress("fetching", 10, "loading item content")
	content, err := h.source.Fetch(ctx, job.ItemRef)
	if err != nil {
		return nil, err
	}

	report.Progress("extracting", 35, "waiting for model")
	payload, err := h.client.CompleteJSON(ctx, ExtractionPrompt, content)
	if err != nil {
		return nil, err
	}

	report.Progress("validating", 85, "checking model output")
	var result map[string]any
	if err := llm.DecodeJSON(payload, &result); err != nil {
		return nil, services.Wrap(services.ErrHandler, "extraction", "decode", "model returned unusable JSON", err)
	}
	if err := validateAgainstSchema(extractionSchema(), result); err != nil {
		return nil, services.Wrap(services.ErrHandler, "extraction", "validate", "", err)
	}
	return result, nil
}
