package agent

import (
	"context"
	"time"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/logging"
)

// RecorderOptions configure the Recorder.
type RecorderOptions struct {
	// History receives the bot's sent messages. Nil disables persistence.
	History core.HistoryWriter
	Timeout time.Duration
	Now     func() time.Time
	Logger  logging.Logger
}

// Recorder closes an invocation: it stores sent text as an assistant turn
// and logs the (event, decision, result) tuple.
type Recorder struct {
	opts RecorderOptions
}

var _ Stage = (*Recorder)(nil)

// NewRecorder creates a Recorder.
func NewRecorder(optFns ...func(o *RecorderOptions)) *Recorder {
	opts := RecorderOptions{
		Timeout: 3 * time.Second,
		Now:     time.Now,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Recorder{opts: opts}
}

// Name returns core.StageRecorded.
func (r *Recorder) Name() core.Stage { return core.StageRecorded }

// Run records st. History failures are logged at debug level only.
func (r *Recorder) Run(ctx context.Context, st *core.State) core.Update {
	ev := st.Event

	if r.opts.History != nil && sentMessage(st) {
		hctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		err := r.opts.History.AppendAssistant(hctx, ev.ConversationID, st.Decision.Text, r.opts.Now().UTC())
		cancel()
		if err != nil {
			r.opts.Logger.Debug("record.history_failed", "conversation_id", ev.ConversationID, "error", err.Error())
		}
	}

	args := []any{
		"conversation_id", ev.ConversationID,
		"actor_id", ev.ActorID,
		"message_id", ev.MessageID,
		"mode", string(st.Mode),
	}
	if d := st.Decision; d != nil {
		args = append(args, "action", string(d.Action), "reason", d.Reason)
	}
	if res := st.Result; res != nil {
		args = append(args, "executed", res.Executed, "method", res.Method, "external_id", res.ExternalID)
		if res.Error != "" {
			args = append(args, "action_error", res.Error)
		}
	}
	if st.Error != "" {
		args = append(args, "error", st.Error)
	}
	r.opts.Logger.Info("agent.recorded", args...)

	return core.Update{Stage: core.StageRecorded}
}

func sentMessage(st *core.State) bool {
	return st.Result != nil && st.Result.Executed &&
		st.Result.Method == core.MethodSendMessage &&
		st.Decision != nil && st.Decision.Text != ""
}
