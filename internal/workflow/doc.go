// Package workflow drives research sessions through the stage pipeline:
// clarification, brief writing, planning, an iterated research loop, and
// synthesis into a final report.
//
// Stage functions are pure with respect to session state: each receives a
// snapshot and returns a typed update naming exactly the fields its stage
// may change. The engine applies updates, decides when to checkpoint to the
// store, and fans progress events out through a notify.Sink. Resuming a
// checkpointed session is just another Run call; the stage recorded in the
// session decides where execution picks up.
package workflow
