// Package handlers ships the built-in job handlers: analysis, extraction,
// and categorization, all backed by the shared LLM client. Each handler
// fetches its item through an ItemSource, reports staged progress, and
// schema-validates the model output before returning it as the job result.
// Handlers return errors rather than retrying themselves; the scheduler owns
// the retry budget.
package handlers
