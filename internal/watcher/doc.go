// Package watcher drives discovery of files in the watched directory.
//
// A Watcher moves through three states. From stopped it prepares the folder
// layout, sweeps the files already present (state sweeping), and then
// subscribes to filesystem events (state watching). StopWatching returns it to
// stopped. Sweep and live events hand every candidate to the same ingestion
// path one file at a time; live events for a path are coalesced until the path
// has been quiet for the configured settle delay.
package watcher
