// Command folderwatch runs the ingestion daemon and the maintenance commands
// around it.
//
// `folderwatch run` starts the long-running watcher. `ingest` pushes specific
// files through the same pipeline once, `ledger` inspects or re-arms the
// ingestion ledger, and `config` writes or checks the TOML configuration.
package main
