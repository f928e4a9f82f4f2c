package agent

import (
	"context"
	"time"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/logging"
	"github.com/hupe1980/chatagent/tool"
)

// ExecutorOptions configure the Executor.
type ExecutorOptions struct {
	// Tools must provide tool.SendMessageName and tool.SendReactionName.
	Tools *tool.Registry
	// Timeout bounds the single platform call.
	Timeout time.Duration
	// OnAction is called after every executed action, typically the gate's
	// MarkAction.
	OnAction func(conversationID int64)
	Logger   logging.Logger
}

// Executor applies a decision. In shadow mode it never calls a tool.
type Executor struct {
	opts ExecutorOptions
}

var _ Stage = (*Executor)(nil)

// NewExecutor creates an Executor.
func NewExecutor(optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		Timeout: 10 * time.Second,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	return &Executor{opts: opts}
}

// Name returns core.StageActed.
func (e *Executor) Name() core.Stage { return core.StageActed }

// Run executes st.Decision according to st.Mode.
func (e *Executor) Run(ctx context.Context, st *core.State) core.Update {
	result := e.Execute(ctx, st)
	return core.Update{Stage: core.StageActed, Result: &result}
}

// Execute returns the ActionResult for st. At most one tool call is made.
func (e *Executor) Execute(ctx context.Context, st *core.State) core.ActionResult {
	d := core.NoAction(core.ReasonNoAction)
	if st.Decision != nil {
		d = *st.Decision
	}
	ev := st.Event

	if d.Action == core.ActionNone || !d.Action.Valid() {
		return core.NoOpResult(d.Reason)
	}

	if st.Mode == core.ModeShadow {
		e.opts.Logger.Info("act.shadow", "conversation_id", ev.ConversationID, "actor_id", ev.ActorID,
			"action", string(d.Action), "text", d.Text, "reply_to_id", d.ReplyToID,
			"target_id", d.TargetID, "reaction_id", d.ReactionID, "reason", d.Reason)
		return core.ActionResult{Executed: false, Method: core.MethodShadow}
	}

	var (
		name   string
		method string
		args   map[string]any
	)

	switch d.Action {
	case core.ActionSendMessage:
		name, method = tool.SendMessageName, core.MethodSendMessage
		args = map[string]any{
			"conversation_id": ev.ConversationID,
			"text":            d.Text,
			"reply_to_id":     d.ReplyToID,
		}
	case core.ActionReact:
		target := d.TargetID
		if target <= 0 {
			target = ev.MessageID
		}
		name, method = tool.SendReactionName, core.MethodSendReaction
		args = map[string]any{
			"conversation_id": ev.ConversationID,
			"target_id":       target,
			"reaction_id":     d.ReactionID,
		}
	}

	actx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	start := time.Now()
	res, err := e.opts.Tools.Call(actx, name, args)
	e.logToolCall(name, time.Since(start), err)
	if err != nil {
		e.opts.Logger.Error("act.failed", "conversation_id", ev.ConversationID, "actor_id", ev.ActorID,
			"action", string(d.Action), "error", err.Error())
		return core.ActionResult{Executed: false, Method: method, Error: err.Error()}
	}

	if e.opts.OnAction != nil {
		e.opts.OnAction(ev.ConversationID)
	}

	return core.ActionResult{Executed: true, Method: method, ExternalID: core.CoerceID(res)}
}

func (e *Executor) logToolCall(name string, dur time.Duration, err error) {
	if al, ok := e.opts.Logger.(*logging.AgentLogger); ok {
		al.LogToolCall(name, dur, err == nil, err)
	}
}
