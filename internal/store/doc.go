// Package store provides persistent storage for research sessions using SQLite.
//
// # Architecture
//
// The Store interface exposes session persistence as whole-record operations:
// SaveSession, GetSession, DeleteSession, ListSessions and age-based eviction.
// Each session is persisted as one row keyed by session ID. Frequently queried
// columns (stage, progress, timestamps) are duplicated out of the JSON state
// document so listing never deserializes full sessions.
//
// # Data Models
//
//   - Session: The full research session with tasks, summaries and progress log
//   - ResearchTask: One planner-generated sub-question with scope description
//   - ResearchSummary: The synthesized result of one completed task
//   - ProgressEvent: An observational notification from the workflow engine
//   - SessionSummary: Lightweight listing view
//
// # Forward Evolution
//
// Session state is stored as JSON. Unknown fields are ignored on load and
// missing fields default through Session.migrate, so records written by older
// builds remain loadable.
//
// # Concurrency
//
// The store tolerates concurrent save/load for different session IDs. For the
// same ID the workflow engine guarantees single-writer access; the store only
// guarantees atomic record replacement.
package store
