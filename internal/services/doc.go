// Package services defines shared helpers consumed by every ingestion
// component.
//
// Key responsibilities:
//   - Context helpers that stamp file paths, fingerprints, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures as
//     startup-fatal (connection, schema) or per-file recoverable (parse,
//     persistence, I/O).
//
// Use these helpers when wiring new components so error classification and
// observability stay uniform across the pipeline.
package services
