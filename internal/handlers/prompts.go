package handlers

import (
	"fmt"
	"strings"
)

// AnalysisPrompt captures the instructions sent to the configured LLM when
// analyzing a work item. Update this text centrally so every call stays in sync.
const AnalysisPrompt = `You are an assistant that analyzes a work item for a processing pipeline.

Read the item content and produce:

- "summary": one or two sentences describing what the item is about.

- "language": the BCP-47 code of the dominant language of the content (e.g. "en", "de", "pt-BR").

- "urgency": a number between 0 and 1. Use 0 for purely informational content with no deadline, 1 for content demanding immediate action. Most items fall between 0.2 and 0.6.

You must respond ONLY with a JSON object like: {"summary": "...", "language": "en", "urgency": 0.4}

Now analyze this item:`

// ExtractionPrompt captures the instructions sent to the configured LLM when
// extracting structured entities from a work item.
const ExtractionPrompt = `You are an assistant that extracts structured entities from a work item.

Read the item content and collect:

- "people": full names of individual persons mentioned.

- "organizations": names of companies, institutions, or teams.

- "dates": dates and deadlines, normalized to ISO 8601 where possible, otherwise as written.

- "amounts": monetary amounts including their currency, exactly as written.

Every field must be present. Use an empty array when nothing was found. Never invent entities that are not in the content.

You must respond ONLY with a JSON object like: {"people": [], "organizations": ["Acme Corp"], "dates": ["2026-03-01"], "amounts": ["EUR 1,200.00"]}

Now extract from this item:`

// CategorizationPrompt captures the instructions sent to the configured LLM
// when assigning a category. It is derived from Categories so the prompt and
// the output schema can never disagree.
var CategorizationPrompt = fmt.Sprintf(`You are an assistant that files a work item into exactly one category.

Available categories: %s.

Rules:

- Pick the single best fit. When two categories apply, prefer the more specific one.

- Use "other" only when nothing else fits at all.

- "confidence" is a number between 0 and 1 expressing how certain you are.

You must respond ONLY with a JSON object like: {"category": "invoice", "confidence": 0.92}

Now categorize this item:`, strings.Join(Categories, ", "))
