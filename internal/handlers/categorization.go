package handlers

import (
	"context"
	"strings"

	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/services/llm"
	"conveyor/internal/worker"
)

// CategorizationHandler files a work item into the fixed taxonomy.
type CategorizationHandler struct {
	source ItemSource
	client *llm.Client
}

// NewCategorizationHandler constructs the handler for categorization jobs.
func NewCategorizationHandler(source ItemSource, client *llm.Client) *CategorizationHandler {
	return &CategorizationHandler{source: source, client: client}
}

// Handle fetches the item and returns the category the model picked along
// with its confidence. The schema's enum rejects categories outside the
// taxonomy, so a hallucinated label fails the job instead of polluting
// downstream consumers.
func (h *CategorizationHandler) Handle(ctx context.Context, job *queue.Job, report worker.Reporter) (map[string]any, error) {
	report.Progress("fetching", 10, "loading item content")
	content, err := h.source.Fetch(ctx, job.ItemRef)
	if err != nil {
		return nil, err
	}

	report.Progress("categorizing", 35, "waiting for model")
	payload, err := h.client.CompleteJSON(ctx, CategorizationPrompt, content)
	if err != nil {
		return nil, err
	}

	report.Progress("validating", 85, "checking model output")
	var result map[string]any
	if err := llm.DecodeJSON(payload, &result); err != nil {
		return nil, services.Wrap(services.ErrHandler, "categorization", "decode", "model returned unusable JSON", err)
	}
	if category, ok := result["category"].(string); ok {
		result["category"] = strings.ToLower(strings.TrimSpace(category))
	}
	if err := validateAgainstSchema(categorizationSchema(), result); err != nil {
		return nil, services.Wrap(services.ErrHandler, "categorization", "validate", "", err)
	}
	return result, nil
}
