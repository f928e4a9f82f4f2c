// Package agent contains the four pipeline stages of one invocation:
//
//  1. Observer gathers best-effort context (summary, actor note, recent turns)
//  2. Decider asks the model for a structured decision and sanitizes it
//  3. Executor applies the decision (or not, in shadow mode) through tools
//  4. Recorder persists the bot's own output and logs the outcome
//
// Every stage implements Stage. Stages never return errors: failures are
// folded into the returned core.Update so the runner always reaches a
// terminal state.
package agent
