// Package config loads, normalizes, and validates folderwatch configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FOLDERWATCH_DB_PASSWORD. The Config type centralizes every knob the daemon
// and CLI need so the watched layout, database connection, and logging output
// are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical extensions, and clear validation errors.
package config
