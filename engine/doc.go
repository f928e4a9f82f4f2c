// Package engine is the runtime of the autonomous chat agent.
//
// The Engine ties the conversation gate to the checkpointed pipeline and owns
// checkpoint storage. Every inbound event goes through the same sequence:
//
//	enabled? ─► eligible? ─► Observe ─► Admit ─► Observe/Decide/Act/Record ─► release
//
// Skipped events return immediately with a reason. Admitted events run the
// whole pipeline on the caller's goroutine while the conversation lock is
// held, so at most one invocation is in flight per conversation and a busy
// conversation drops new events instead of queueing them.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                      Engine                             │
//	│  ┌─────────────┐ ┌─────────────┐ ┌─────────────────┐    │
//	│  │ HandleEvent │ │ UpdateConfig│ │ Start / Recover │    │
//	│  └─────────────┘ └─────────────┘ └─────────────────┘    │
//	├─────────────────────────────────────────────────────────┤
//	│  ┌─────────────┐ ┌─────────────┐ ┌─────────────────┐    │
//	│  │    Gate     │ │   Runner    │ │   Callbacks     │    │
//	│  └─────────────┘ └─────────────┘ └─────────────────┘    │
//	├─────────────────────────────────────────────────────────┤
//	│  Observer · Decider · Executor · Recorder               │
//	├─────────────────────────────────────────────────────────┤
//	│  ContextSource · Model · Messenger · Checkpointer       │
//	└─────────────────────────────────────────────────────────┘
//
// # Usage
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Config = cfg
//	    o.Model = openai.NewModel()
//	    o.Messenger = vkClient
//	    o.Context = store
//	    o.History = store
//	    o.Logger = logger
//	})
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	defer eng.Stop()
//
//	out := eng.HandleEvent(ctx, core.NewEvent(peerID, fromID, cmid, text))
//
// # Configuration reload
//
// UpdateConfig swaps the live configuration atomically. The gate reads the
// admission policy on every attempt and new invocations pick up rebuilt
// stages; invocations already running finish with the settings they started
// with.
//
// # Durability
//
// Start opens the SQLite checkpoint store and resumes unfinished invocations
// younger than the configured resume age. When storage cannot be opened the
// engine logs the failure and runs without durability.
package engine
