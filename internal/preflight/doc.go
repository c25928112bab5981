// Package preflight provides readiness checks for external services
// and filesystem paths that Conveyor depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll during startup. Failures are reported through
//     the status surface rather than aborting, so a daemon with a broken LLM
//     key still serves status queries.
//   - The CLI "conveyor status" command uses individual check functions
//     (CheckNtfyFromConfig, ProbeSpool) to display service health.
//
// The ntfy check is gated by its config topic -- when unset it is skipped.
package preflight
