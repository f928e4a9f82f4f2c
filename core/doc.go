// Package core provides the domain types and collaborator interfaces shared by
// the chat agent runtime. It defines:
//
//   - Events (normalized inbound chat messages)
//   - Context bundles assembled before a decision
//   - Decisions (a total, sanitizable tagged union built from untrusted values)
//   - Action results and the per-invocation pipeline State
//   - Pluggable stores for checkpoints, chat history and outbound messaging
//
// Implementation concerns (persistence, provider access, concurrency gating)
// live in sibling packages; core only exposes small interfaces so backends can
// be swapped without touching the pipeline.
package core
