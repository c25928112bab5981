// Package config loads, normalizes, and validates Conveyor configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENROUTER_API_KEY. The Config type centralizes every knob the daemon and
// CLI need, from engine tuning to bind addresses and LLM credentials.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
