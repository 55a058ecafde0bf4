// Package storage owns the relational store behind folderwatch: the
// employees table that receives parsed records, the ingestion ledger that
// remembers which file contents were settled, and the schema_version marker.
//
// A Gateway is created from configuration, connected once at startup, and is
// the only owner of the database/sql pool. SQLite (modernc.org/sqlite) is the
// default dialect; PostgreSQL is reached through github.com/lib/pq. Statements
// are written with "?" placeholders and rebound for PostgreSQL. SQLite writes
// retry on SQLITE_BUSY with bounded exponential backoff so the CLI can touch
// the ledger while the daemon runs.
package storage
