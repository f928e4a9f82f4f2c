package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/chatagent/agent"
	"github.com/hupe1980/chatagent/checkpoint"
	"github.com/hupe1980/chatagent/config"
	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/flow"
	"github.com/hupe1980/chatagent/gate"
	"github.com/hupe1980/chatagent/logging"
	"github.com/hupe1980/chatagent/model"
	"github.com/hupe1980/chatagent/runner"
	"github.com/hupe1980/chatagent/tool"
)

// Skip reasons reported on an Outcome that was not admitted.
const (
	ReasonDisabled   = "disabled"
	ReasonIneligible = "ineligible"
	ReasonStopped    = "stopped"
	ReasonPanic      = "panic"
)

// Outcome summarizes what HandleEvent did with one event.
type Outcome struct {
	// Admitted is true when the pipeline ran.
	Admitted bool
	// Executed is true when a platform call succeeded.
	Executed bool
	Result   core.ActionResult
	// Reason is the skip reason when not admitted (ReasonDisabled,
	// ReasonIneligible or a gate rejection), otherwise the decision reason.
	Reason string
	// State is the terminal state of an admitted invocation.
	State *core.State
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Config is the initial configuration. Defaults to config.Default().
	Config *config.Config

	// Model answers the decide stage. Without one every decision is
	// decide_error.
	Model model.Model

	// Messenger receives executed actions.
	Messenger core.Messenger

	// Context feeds the observer; History receives the bot's sent text.
	Context core.ContextSource
	History core.HistoryWriter

	// Checkpointer overrides the SQLite checkpoint store opened by Start.
	Checkpointer core.Checkpointer

	// Callbacks receives lifecycle hooks. Defaults to an empty manager.
	Callbacks *CallbackManager

	// Rand and Now are injected into the gate.
	Rand func() float64
	Now  func() time.Time

	// Logging services.
	Logger logging.Logger
}

// stages is the set of stage implementations built from one configuration
// snapshot. It is swapped as a whole on reload.
type stages struct {
	observer *agent.Observer
	decider  *agent.Decider
	executor *agent.Executor
	recorder *agent.Recorder
}

// Engine is the runtime of the autonomous agent. It filters and admits
// events through the gate, runs the checkpointed pipeline while holding the
// conversation lock, and owns checkpoint storage.
type Engine struct {
	opts      Options
	cfg       atomic.Pointer[config.Config]
	stages    atomic.Pointer[stages]
	gate      *gate.Gate
	runner    *runner.Runner
	tools     *tool.Registry
	callbacks *CallbackManager

	mu       sync.Mutex
	store    *checkpoint.SQLite
	stopped  bool
	inflight sync.WaitGroup
}

// New constructs an Engine. The engine does not touch storage until Start.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}

	cfg := opts.Config.Clone()
	cfg.Normalize()

	e := &Engine{
		opts:      opts,
		callbacks: opts.Callbacks,
		tools:     tool.NewRegistry(),
	}
	e.cfg.Store(cfg)

	if opts.Messenger != nil {
		e.tools = tool.NewPlatformRegistry(opts.Messenger, func(o *tool.FunctionOptions) {
			o.Logger = opts.Logger
		})
	}

	e.gate = gate.New(func(o *gate.Options) {
		o.Policy = e.policy
		o.SelfID = cfg.Agent.BotID
		o.CommandPrefix = cfg.Agent.CommandPrefix
		o.MinTextLength = cfg.Agent.MinTextLength
		if opts.Rand != nil {
			o.Rand = opts.Rand
		}
		o.Now = opts.Now
		o.Logger = opts.Logger
	})

	e.stages.Store(e.buildStages(cfg))

	e.runner = runner.New([]agent.Stage{
		agent.StageFunc{Stage: core.StageObserved, Fn: func(ctx context.Context, st *core.State) core.Update {
			return e.stages.Load().observer.Run(ctx, st)
		}},
		agent.StageFunc{Stage: core.StageDecided, Fn: func(ctx context.Context, st *core.State) core.Update {
			return e.stages.Load().decider.Run(ctx, st)
		}},
		agent.StageFunc{Stage: core.StageActed, Fn: func(ctx context.Context, st *core.State) core.Update {
			return e.stages.Load().executor.Run(ctx, st)
		}},
		agent.StageFunc{Stage: core.StageRecorded, Fn: func(ctx context.Context, st *core.State) core.Update {
			return e.stages.Load().recorder.Run(ctx, st)
		}},
	}, func(o *runner.Options) {
		if opts.Checkpointer != nil {
			o.Checkpointer = opts.Checkpointer
		}
		o.BeforeStage = e.beforeStage
		o.AfterStage = e.afterStage
		o.Logger = opts.Logger
	})

	return e
}

func (e *Engine) policy() gate.Policy {
	a := e.cfg.Load().Agent
	return gate.Policy{
		Cooldown:    a.Cooldown(),
		MinMessages: a.MinMessagesSinceAction,
		Probability: a.TriggerProbability,
	}
}

func sanitizePolicy(a config.AgentConfig) core.SanitizePolicy {
	return core.SanitizePolicy{
		MaxChars:           a.MaxResponseChars,
		AllowThreadedReply: a.AllowThreadedReply,
		AllowReactions:     a.AllowReactions,
		MaxReactionID:      int64(a.MaxReactionID),
	}
}

func (e *Engine) buildStages(cfg *config.Config) *stages {
	a := cfg.Agent
	temperature := a.Temperature

	decideFlow := flow.NewDefault(func(o *flow.Options) {
		o.Instructions = a.SystemPrompt
		o.TurnLimit = a.ContextTurnLimit
		o.MaxTokens = a.MaxTokens
		o.Temperature = &temperature
		o.MaxReactionID = int64(a.MaxReactionID)
	})

	return &stages{
		observer: agent.NewObserver(func(o *agent.ObserverOptions) {
			o.Source = e.opts.Context
			o.Snapshot = e.gate.Snapshot
			o.TurnLimit = a.ContextTurnLimit
			o.Timeout = config.Seconds(a.Timeouts.ObserveSeconds)
			o.MaxChars = a.ContextMaxChars
			o.Logger = e.opts.Logger
		}),
		decider: agent.NewDecider(func(o *agent.DeciderOptions) {
			o.Model = e.opts.Model
			o.Flow = decideFlow
			o.Policy = func() core.SanitizePolicy { return sanitizePolicy(a) }
			o.Timeout = config.Seconds(a.Timeouts.DecideSeconds)
			o.Logger = e.opts.Logger
		}),
		executor: agent.NewExecutor(func(o *agent.ExecutorOptions) {
			o.Tools = e.tools
			o.Timeout = config.Seconds(a.Timeouts.ActionSeconds)
			o.OnAction = e.gate.MarkAction
			o.Logger = e.opts.Logger
		}),
		recorder: agent.NewRecorder(func(o *agent.RecorderOptions) {
			o.History = e.opts.History
			o.Timeout = config.Seconds(a.Timeouts.HistorySeconds)
			o.Now = e.opts.Now
			o.Logger = e.opts.Logger
		}),
	}
}

// Config returns the live configuration. Callers must not modify it.
func (e *Engine) Config() *config.Config { return e.cfg.Load() }

// Gate exposes the conversation gate.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// Callbacks exposes the callback manager for registration.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// UpdateConfig atomically replaces the live configuration. Invocations
// already running keep the settings they started with. The bot id, command
// prefix and minimum text length are fixed at construction.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	next := cfg.Clone()
	next.Normalize()

	e.cfg.Store(next)
	e.stages.Store(e.buildStages(next))

	e.opts.Logger.Info("engine.config.updated",
		"enabled", next.Agent.Enabled,
		"mode", next.Agent.Mode,
		"probability", next.Agent.TriggerProbability,
		"cooldown_seconds", next.Agent.CooldownSeconds,
	)
}

// HandleEvent processes one inbound event. It never blocks on a busy
// conversation and never panics.
func (e *Engine) HandleEvent(ctx context.Context, ev core.Event) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error("engine.handle.panic", "conversation_id", ev.ConversationID,
				"message_id", ev.MessageID, "panic", fmt.Sprint(r))
			out = Outcome{Admitted: out.Admitted, Reason: ReasonPanic}
		}
	}()

	cfg := e.cfg.Load()
	if !cfg.Agent.Enabled {
		return Outcome{Reason: ReasonDisabled}
	}
	if !e.gate.IsEligible(ev) {
		return Outcome{Reason: ReasonIneligible}
	}

	e.gate.Observe(ev.ConversationID)

	release, rejection := e.gate.Admit(ev.ConversationID)
	if rejection != gate.Admitted {
		e.opts.Logger.Debug("engine.skip", "conversation_id", ev.ConversationID,
			"message_id", ev.MessageID, "reason", string(rejection))
		return Outcome{Reason: string(rejection)}
	}
	defer release()

	if !e.enter() {
		return Outcome{Reason: ReasonStopped}
	}
	defer e.inflight.Done()

	st := e.runner.Invoke(ctx, ev, core.ParseMode(cfg.Agent.Mode))

	return outcomeOf(st)
}

func outcomeOf(st *core.State) Outcome {
	out := Outcome{Admitted: true, State: st}
	if st.Result != nil {
		out.Result = *st.Result
		out.Executed = st.Result.Executed
	}
	if st.Decision != nil {
		out.Reason = st.Decision.Reason
	}
	return out
}

// enter registers an in-flight invocation unless the engine is stopped.
func (e *Engine) enter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.inflight.Add(1)
	return true
}

// Start opens checkpoint storage and recovers unfinished invocations. A
// storage failure is logged and the engine keeps running without
// durability. Calling Start on a started engine is a no-op for storage.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = false
	needStore := e.opts.Checkpointer == nil && e.store == nil
	e.mu.Unlock()

	if needStore {
		path := e.cfg.Load().Agent.CheckpointStoragePath
		store := checkpoint.NewSQLite(path, func(o *checkpoint.Options) {
			o.Logger = e.opts.Logger
		})

		saver, err := store.Start(ctx)
		if err != nil {
			e.opts.Logger.Error("engine.checkpoint.unavailable", "path", path, "error", err.Error())
		} else {
			e.mu.Lock()
			e.store = store
			e.mu.Unlock()
			e.runner.SetCheckpointer(saver)
			e.opts.Logger.Info("engine.checkpoint.started", "path", path)
		}
	}

	if _, err := e.Recover(ctx); err != nil {
		e.opts.Logger.Warn("engine.recover.failed", "error", err.Error())
	}
	return nil
}

// Recover resumes unfinished checkpoints that are not older than the
// configured resume age and discards the rest. Each resume holds the
// conversation lock; a busy conversation is left for a later call. It
// returns the number of resumed invocations.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	cp := e.runner.Checkpointer()

	pending, err := cp.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending checkpoints: %w", err)
	}

	maxAge := e.cfg.Load().Agent.ResumeMaxAge()
	now := e.opts.Now()
	resumed := 0

	for _, st := range pending {
		conv := st.Event.ConversationID

		if maxAge > 0 && now.Sub(st.Updated) > maxAge {
			if err := cp.Delete(ctx, conv); err != nil {
				e.opts.Logger.Warn("engine.recover.discard_failed", "conversation_id", conv, "error", err.Error())
			}
			e.opts.Logger.Info("engine.recover.discarded", "conversation_id", conv,
				"invocation_id", st.InvocationID, "stage", st.Stage.String())
			continue
		}

		release, ok := e.gate.Acquire(conv)
		if !ok {
			continue
		}
		if !e.enter() {
			release()
			break
		}

		e.opts.Logger.Info("engine.recover.resume", "conversation_id", conv,
			"invocation_id", st.InvocationID, "stage", st.Stage.String())
		e.runner.Resume(ctx, st)
		resumed++

		e.inflight.Done()
		release()
	}

	return resumed, nil
}

// Stop cancels running invocations, waits for them to finish and closes
// checkpoint storage. Events arriving afterwards are skipped until Start is
// called again.
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.runner.CancelAll()
	e.inflight.Wait()

	e.mu.Lock()
	store := e.store
	e.store = nil
	e.mu.Unlock()

	if store == nil {
		return nil
	}
	e.runner.SetCheckpointer(nil)
	if err := store.Stop(); err != nil {
		return fmt.Errorf("stop checkpoint store: %w", err)
	}
	return nil
}

func (e *Engine) beforeStage(ctx context.Context, st *core.State, stage core.Stage) {
	e.fire(ctx, CallbackBeforeStage, &CallbackContext{State: st.Clone(), Stage: stage})
}

func (e *Engine) afterStage(ctx context.Context, st *core.State, stage core.Stage, u core.Update) {
	e.fire(ctx, CallbackAfterStage, &CallbackContext{State: st.Clone(), Stage: stage})

	if u.Error != "" {
		e.fire(ctx, CallbackOnError, &CallbackContext{State: st.Clone(), Stage: stage, Error: u.Error})
	}
	if stage == core.StageActed && u.Result != nil && u.Result.Executed {
		e.fire(ctx, CallbackOnAction, &CallbackContext{State: st.Clone(), Stage: stage})
	}
}

func (e *Engine) fire(ctx context.Context, t CallbackType, cc *CallbackContext) {
	if e.callbacks.Len(t) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error("engine.callback.panic", "callback", string(t), "panic", fmt.Sprint(r))
		}
	}()
	if err := e.callbacks.ExecuteCallbacks(ctx, t, cc); err != nil {
		e.opts.Logger.Warn("engine.callback.failed", "callback", string(t),
			"stage", cc.Stage.String(), "error", err.Error())
	}
}
