// Package notifications delivers engine events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover pipeline outcomes and engine
// lifecycle so the daemon can emit consistent, user-friendly messages without
// duplicating HTTP glue.
//
// Sink adapts the scheduler's event stream to the service: it filters for
// terminal pipeline events and posts them off the scheduler goroutine.
//
// Extend this package if you need alternative transports; all daemon code
// depends only on the simple Service interface.
package notifications
