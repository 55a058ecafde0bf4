// Package ingest implements the single per-file ingestion path shared by the
// startup sweep, live filesystem events, and the one-shot CLI.
//
// For one path the pipeline reads the bytes once, fingerprints them, consults
// the ledger, parses, commits the records in one transaction, records the
// outcome, and finally relocates the file. Per-file failures never escape:
// they are logged with path, fingerprint, and reason, marked failed in the
// ledger, and reported through Result.
package ingest
