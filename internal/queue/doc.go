// Package queue holds the in-memory scheduling core: pipelines, their typed
// sub-jobs, the priority queues workers drain, and the event stream emitted as
// state changes.
//
// The Scheduler owns every mutation. Submissions fan a batch of work item
// refs into one job per (item, plan entry) pair; workers pull jobs with
// DequeueNext and report back through ReportProgress, CompleteJob, and
// FailJob. Failed jobs retry with exponential backoff until their budget is
// spent. Aggregate pipeline progress is maintained incrementally, so a pool
// of workers hammering a wide batch never triggers full rescans.
//
// State lives in memory only. Terminal pipelines are archived by the history
// package, which subscribes to the event stream like any other sink.
//
// Treat this package as the single source of truth for lifecycle semantics;
// when you add new statuses, update the transition table in models.go.
package queue
