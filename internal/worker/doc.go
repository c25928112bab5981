// Package worker runs the goroutine pool that drains the scheduler's queues.
//
// Each worker loops: dequeue, dispatch to the handler registered for the
// job's type, then report completion or failure back to the scheduler. The
// pool never re-raises handler errors; a returned error or panic simply
// becomes a FailJob, and the retry budget decides what happens next. Stop is
// cooperative: in-flight handlers finish and report back before the pool
// returns.
package worker
