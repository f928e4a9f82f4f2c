package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/chatagent/agent"
	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/logging"
)

// NopCheckpointer satisfies core.Checkpointer without storing anything.
type NopCheckpointer struct{}

var _ core.Checkpointer = NopCheckpointer{}

// Put discards st.
func (NopCheckpointer) Put(context.Context, *core.State) error { return nil }

// Get always returns nil.
func (NopCheckpointer) Get(context.Context, int64) (*core.State, error) { return nil, nil }

// Delete is a no-op.
func (NopCheckpointer) Delete(context.Context, int64) error { return nil }

// Pending returns nothing.
func (NopCheckpointer) Pending(context.Context) ([]*core.State, error) { return nil, nil }

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Checkpointer persists state after every stage.
	Checkpointer core.Checkpointer
	// BeforeStage is called before a stage runs.
	BeforeStage func(ctx context.Context, st *core.State, stage core.Stage)
	// AfterStage is called once the stage update has been merged.
	AfterStage func(ctx context.Context, st *core.State, stage core.Stage, u core.Update)
	// Logging services.
	Logger logging.Logger
}

// Runner executes pipeline invocations. Public methods are safe for
// concurrent use; serializing invocations per conversation is the caller's
// job.
type Runner struct {
	stages []agent.Stage
	opts   Options

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Runner over stages. Stages are ordered by the stage they
// produce.
func New(stages []agent.Stage, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Checkpointer: NopCheckpointer{},
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NopCheckpointer{}
	}

	ordered := append([]agent.Stage(nil), stages...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Name() < ordered[j].Name() })

	return &Runner{
		stages:     ordered,
		opts:       opts,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// SetCheckpointer swaps the checkpoint backend. It affects invocations
// started afterwards.
func (r *Runner) SetCheckpointer(cp core.Checkpointer) {
	if cp == nil {
		cp = NopCheckpointer{}
	}
	r.mu.Lock()
	r.opts.Checkpointer = cp
	r.mu.Unlock()
}

// Checkpointer returns the active checkpoint backend.
func (r *Runner) Checkpointer() core.Checkpointer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts.Checkpointer
}

// Invoke runs the pipeline for ev. An unfinished checkpoint for the same
// conversation and message is resumed; anything else starts a new state.
func (r *Runner) Invoke(ctx context.Context, ev core.Event, mode core.Mode) *core.State {
	cp := r.Checkpointer()

	st, err := cp.Get(ctx, ev.ConversationID)
	if err != nil {
		r.opts.Logger.Warn("runner.checkpoint.load_failed", "conversation_id", ev.ConversationID, "error", err.Error())
		st = nil
	}

	if st != nil && !st.Stage.Terminal() && st.Event.MessageID == ev.MessageID {
		r.opts.Logger.Info("runner.resume", "conversation_id", ev.ConversationID,
			"invocation_id", st.InvocationID, "stage", st.Stage.String())
		return r.run(ctx, cp, st)
	}

	st = core.NewState(ev, mode)
	r.save(ctx, cp, st)
	return r.run(ctx, cp, st)
}

// Resume continues a previously checkpointed state.
func (r *Runner) Resume(ctx context.Context, st *core.State) *core.State {
	return r.run(ctx, r.Checkpointer(), st.Clone())
}

func (r *Runner) run(ctx context.Context, cp core.Checkpointer, st *core.State) *core.State {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.activeRuns[st.InvocationID] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.activeRuns, st.InvocationID)
		r.mu.Unlock()
	}()

	for _, stage := range r.stages {
		name := stage.Name()
		if name <= st.Stage {
			continue
		}

		if r.opts.BeforeStage != nil {
			r.opts.BeforeStage(ctx, st, name)
		}

		u := r.runStage(ctx, stage, st)
		u.Stage = name
		st.Apply(u)

		r.opts.Logger.Debug("runner.stage.done", "conversation_id", st.Event.ConversationID,
			"invocation_id", st.InvocationID, "stage", name.String())

		r.save(ctx, cp, st)

		if r.opts.AfterStage != nil {
			r.opts.AfterStage(ctx, st, name, u)
		}
	}

	return st
}

// runStage runs stage with panic isolation. A panic becomes an update that
// carries the error and a neutral value for the stage's output.
func (r *Runner) runStage(ctx context.Context, stage agent.Stage, st *core.State) (u core.Update) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}

		name := stage.Name()
		msg := fmt.Sprintf("stage %s panicked: %v", name, rec)
		r.opts.Logger.Error("runner.stage.panic", "conversation_id", st.Event.ConversationID,
			"invocation_id", st.InvocationID, "stage", name.String(), "panic", fmt.Sprint(rec))

		u = core.Update{Stage: name, Error: msg}
		switch name {
		case core.StageObserved:
			u.Context = &core.ContextBundle{}
		case core.StageDecided:
			d := core.NoAction(core.ReasonDecideError)
			u.Decision = &d
		case core.StageActed:
			res := core.NoOpResult(msg)
			u.Result = &res
		}
	}()

	return stage.Run(ctx, st.Clone())
}

func (r *Runner) save(ctx context.Context, cp core.Checkpointer, st *core.State) {
	if err := cp.Put(context.WithoutCancel(ctx), st); err != nil {
		r.opts.Logger.Warn("runner.checkpoint.save_failed", "conversation_id", st.Event.ConversationID,
			"stage", st.Stage.String(), "error", err.Error())
	}
}

// Active returns the number of invocations currently running.
func (r *Runner) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activeRuns)
}

// CancelAll cancels every running invocation. Stages observe the canceled
// context and the runs still finish with a terminal state.
func (r *Runner) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cancel := range r.activeRuns {
		cancel()
	}
}
