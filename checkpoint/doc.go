// Package checkpoint persists pipeline state after every stage so an
// interrupted invocation can be resumed.
//
// SQLite is the durable backend. Its lifecycle is explicit: Start opens the
// database and returns a Saver (calling it again returns the same Saver), Stop
// closes it, and a stopped store may be started again. The latest state per
// conversation lives in agent_checkpoints; every write is also appended to
// agent_checkpoint_writes for inspection.
//
// InMemoryStore offers the same Checkpointer contract without durability.
package checkpoint
