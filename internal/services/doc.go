// Package services defines shared utilities consumed by the engine components
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp pipeline IDs, job IDs, owners, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (validation vs handler vs transport) consistent across
//     the scheduler, workers, and transports.
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability, retries) stays uniform across the engine.
package services
