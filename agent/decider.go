package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/flow"
	internalutil "github.com/hupe1980/chatagent/internal/util"
	"github.com/hupe1980/chatagent/logging"
	"github.com/hupe1980/chatagent/model"
)

// DecisionSchemaName names the strict response schema sent to providers.
const DecisionSchemaName = "chat_action"

// ErrUnparsable is returned when a response holds no JSON object.
var ErrUnparsable = errors.New("response is not a JSON object")

// ErrNoModel is recorded when the decider has no model configured.
var ErrNoModel = errors.New("no model configured")

// decisionPayload is the wire shape requested from the model.
type decisionPayload struct {
	Action     string `json:"action" description:"One of none, send_message, react"`
	Text       string `json:"text" description:"Message text for send_message, otherwise empty"`
	ReplyToID  int64  `json:"reply_to_id" description:"Message id to reply to, 0 for none"`
	TargetID   int64  `json:"target_id" description:"Message id to react to, 0 for the current message"`
	ReactionID int64  `json:"reaction_id" description:"Reaction id for react, otherwise 0"`
	Reason     string `json:"reason" description:"Short explanation of the choice"`
}

// DecisionSchema returns the strict JSON schema of a decision: every field
// required, no additional properties, action limited to the known values.
func DecisionSchema() *model.ResponseSchema {
	schema := internalutil.CreateSchema(decisionPayload{})
	props := schema["properties"].(map[string]any)
	props["action"].(map[string]any)["enum"] = []string{
		string(core.ActionNone), string(core.ActionSendMessage), string(core.ActionReact),
	}
	schema["additionalProperties"] = false

	return &model.ResponseSchema{
		Name:        DecisionSchemaName,
		Description: "The single action to take for the current chat message",
		Schema:      schema,
		Strict:      true,
	}
}

// DeciderOptions configure the Decider.
type DeciderOptions struct {
	Model model.Model
	// Flow builds provider requests. Defaults to flow.NewDefault().
	Flow *flow.Flow
	// Policy returns the live sanitization policy.
	Policy func() core.SanitizePolicy
	// Timeout bounds each provider attempt.
	Timeout time.Duration
	// MaxAttempts bounds provider calls per decision (strict plus relaxed).
	MaxAttempts int
	Logger      logging.Logger
}

// Decider turns observed context into a sanitized Decision.
type Decider struct {
	opts DeciderOptions
}

var _ Stage = (*Decider)(nil)

// NewDecider creates a Decider.
func NewDecider(optFns ...func(o *DeciderOptions)) *Decider {
	opts := DeciderOptions{
		Timeout:     20 * time.Second,
		MaxAttempts: 2,
		Logger:      logging.NoOpLogger{},
		Policy: func() core.SanitizePolicy {
			return core.SanitizePolicy{MaxChars: 260, AllowThreadedReply: true, AllowReactions: true}
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Flow == nil {
		opts.Flow = flow.NewDefault()
	}
	return &Decider{opts: opts}
}

// Name returns core.StageDecided.
func (d *Decider) Name() core.Stage { return core.StageDecided }

// Run decides on st. Provider failures and unparsable output on both
// attempts yield a none decision with reason decide_error.
func (d *Decider) Run(ctx context.Context, st *core.State) core.Update {
	decision, err := d.Decide(ctx, st)
	if err != nil {
		d.opts.Logger.Warn("decide.failed", "conversation_id", st.Event.ConversationID,
			"message_id", st.Event.MessageID, "error", err.Error())

		failed := core.NoAction(core.ReasonDecideError)
		return core.Update{Stage: core.StageDecided, Decision: &failed, Error: "decide: " + err.Error()}
	}

	sanitized := decision.Sanitize(d.opts.Policy(), st.Event.MessageID)

	d.opts.Logger.Debug("decide.done", "conversation_id", st.Event.ConversationID,
		"action", string(sanitized.Action), "reason", sanitized.Reason)

	return core.Update{Stage: core.StageDecided, Decision: &sanitized}
}

// Decide runs the strict attempt and, if it fails, one relaxed attempt. The
// returned decision is not sanitized.
func (d *Decider) Decide(ctx context.Context, st *core.State) (core.Decision, error) {
	if d.opts.Model == nil {
		return core.Decision{}, ErrNoModel
	}

	req, err := d.opts.Flow.BuildRequest(st)
	if err != nil {
		return core.Decision{}, err
	}

	limiter := core.NewModelLimiter(d.opts.MaxAttempts)

	strict := req
	strict.Schema = DecisionSchema()

	decision, strictErr := d.attempt(ctx, st, strict, limiter, "strict")
	if strictErr == nil {
		return decision, nil
	}

	d.opts.Logger.Debug("decide.strict_failed", "conversation_id", st.Event.ConversationID, "error", strictErr.Error())

	relaxed := req
	relaxed.Schema = nil

	decision, relaxedErr := d.attempt(ctx, st, relaxed, limiter, "relaxed")
	if relaxedErr != nil {
		return core.Decision{}, fmt.Errorf("strict: %v; relaxed: %w", strictErr, relaxedErr)
	}
	return decision, nil
}

func (d *Decider) attempt(ctx context.Context, st *core.State, req model.Request, limiter *core.ModelLimiter, kind string) (core.Decision, error) {
	if err := limiter.Acquire(); err != nil {
		return core.Decision{}, err
	}

	actx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.opts.Model.Generate(actx, req)
	d.logCall(kind, time.Since(start), err)
	if err != nil {
		return core.Decision{}, err
	}

	if err := d.opts.Flow.ProcessResponse(st, &resp); err != nil {
		return core.Decision{}, err
	}

	v, ok := ParseObject(resp.Text)
	if !ok {
		return core.Decision{}, ErrUnparsable
	}
	return core.DecisionFromValue(v), nil
}

func (d *Decider) logCall(kind string, dur time.Duration, err error) {
	name := d.opts.Model.Info().Name
	if al, ok := d.opts.Logger.(*logging.AgentLogger); ok {
		al.LogLLMCall(name, kind, dur, err == nil, err)
		return
	}
	if err != nil {
		d.opts.Logger.Debug("llm.call", "model", name, "attempt", kind, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	d.opts.Logger.Debug("llm.call", "model", name, "attempt", kind, "duration_ms", dur.Milliseconds())
}

// ParseObject extracts a JSON object from text. It first parses the whole
// (fence-stripped) text, then the substring from the first '{' to the last
// '}'. Numbers are kept as json.Number.
func ParseObject(text string) (map[string]any, bool) {
	text = flow.StripCodeFence(text)
	if text == "" {
		return nil, false
	}

	if m, ok := decodeObject(text); ok {
		return m, true
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return decodeObject(text[start : end+1])
}

func decodeObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return m, true
}
