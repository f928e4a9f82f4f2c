// Package runner drives one pipeline invocation through its stages.
//
// The Runner walks the configured stages in stage order starting after the
// state's current stage, merges every stage update into the state and writes a
// checkpoint after each transition. A stage that panics is recovered and the
// run still ends in a terminal state. When the latest checkpoint for a
// conversation is unfinished and belongs to the same message, Invoke resumes
// it instead of starting over, so committed stages are never repeated.
//
// # Responsibilities (abridged)
//   - Stage ordering and resume from checkpoints
//   - Update merging and checkpoint persistence
//   - Panic isolation per stage
//   - Invocation lifecycle management & cancellation
package runner
