// Package session manages the lifecycle of research sessions: starting and
// resuming runs, answering status and report queries, deletion, and
// retention cleanup.
//
// In-flight runs live in an in-memory registry so status reads never wait
// on storage; everything else is served from the store. A session has
// exactly one writer, its run goroutine, and the registry hands out deep
// snapshots to readers.
package session
