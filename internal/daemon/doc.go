// Package daemon coordinates the long-running Conveyor process and its
// serving surfaces.
//
// It wires configuration, the scheduler, the worker pool, the notification
// hub, the history archive, and ntfy notifications into a single lifecycle
// with flock-based locking to prevent multiple instances. The daemon owns two
// listeners: a read-only HTTP API for status and pipeline inspection, and a
// TCP stream endpoint that adapts line-framed connections onto the hub for
// live progress watching.
//
// Keep orchestration logic here: job execution lives in the worker and
// handler packages while the daemon focuses on startup, shutdown, and
// high-level coordination.
package daemon
