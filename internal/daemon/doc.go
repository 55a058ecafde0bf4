// Package daemon coordinates the long-running folderwatch process.
//
// It wires configuration, the storage gateway, the ingest pipeline, and the
// directory watcher into a single lifecycle with flock-based locking to
// prevent two watchers from ingesting the same directory. Startup runs in a
// fixed order (lock, connect, schema, folders, sweep, watch) and any failure
// along the way is fatal, unless the run context was cancelled first, in which
// case Run treats it as a normal shutdown. Shutdown stops the watcher, closes
// the database and releases the lock.
//
// Keep orchestration logic here: parsing, ledger rules, and relocation live
// in their own packages while the daemon focuses on startup, shutdown, and
// one-shot ingestion from the CLI.
package daemon
