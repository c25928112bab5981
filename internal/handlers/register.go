package handlers

import (
	"log/slog"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services/llm"
	"conveyor/internal/worker"
)

// Register wires the shipped LLM handlers into the pool. Callers embedding the
// engine can skip this and register their own handlers instead; the pool only
// requires that every job type in the submission plan has one.
func Register(pool *worker.Pool, cfg *config.Config, logger *slog.Logger) {
	client := llm.NewClientFrom(cfg.GetLLM())
	source := NewSpoolSource(cfg)

	pool.Register(queue.JobAnalysis, NewAnalysisHandler(source, client))
	pool.Register(queue.JobExtraction, NewExtractionHandler(source, client))
	pool.Register(queue.JobCategorization, NewCategorizationHandler(source, client))

	logging.NewComponentLogger(logger, "handlers").Debug("registered llm handlers",
		logging.Args(
			logging.String("types", "analysis, extraction, categorization"),
			logging.String("model", cfg.LLM.Model),
		)...)
}
