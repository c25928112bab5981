// Package history persists terminal pipelines to SQLite so finished work
// survives daemon restarts. The scheduler owns live state; this package only
// ever sees snapshots, delivered through Sink when a pipeline settles. The
// archive backs the CLI history commands and the XLSX export.
package history
