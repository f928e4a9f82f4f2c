package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Action enumerates the side effects a Decision may request.
type Action string

const (
	ActionNone        Action = "none"
	ActionSendMessage Action = "send_message"
	ActionReact       Action = "react"
)

// Valid reports whether a is one of the enumerated actions.
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionSendMessage, ActionReact:
		return true
	default:
		return false
	}
}

// Downgrade reasons recorded on a Decision when it is forced to ActionNone.
const (
	ReasonInvalidPayload       = "invalid_payload"
	ReasonEmptySendMessage     = "empty_send_message"
	ReasonReactionsDisabled    = "reactions_disabled"
	ReasonReactionIDOutOfRange = "reaction_id_out_of_range"
	ReasonMissingTarget        = "missing_target"
	ReasonNoAction             = "no_action"
	ReasonDecideError          = "decide_error"
)

// DefaultMaxReactionID is the highest reaction id the platform accepts.
const DefaultMaxReactionID = 16

const maxReasonLen = 200

// Decision is the validated output of the decide stage. Only the fields that
// belong to Action are meaningful; the rest stay zero.
type Decision struct {
	Action     Action `json:"action"`
	Text       string `json:"text"`
	ReplyToID  int64  `json:"reply_to_id"`
	TargetID   int64  `json:"target_id"`
	ReactionID int64  `json:"reaction_id"`
	Reason     string `json:"reason"`
}

// NoAction returns a none decision carrying reason.
func NoAction(reason string) Decision {
	return Decision{Action: ActionNone, Reason: reason}
}

// decisionKeys lists accepted aliases per field. Providers are asked for the
// snake_case names but camelCase output is tolerated.
var decisionKeys = map[string][]string{
	"reply":    {"reply_to_id", "replyToId", "reply_to"},
	"target":   {"target_id", "targetId"},
	"reaction": {"reaction_id", "reactionId"},
}

// DecisionFromValue converts an untrusted value (typically a decoded JSON
// object) into a Decision. It never fails: anything that is not an object
// yields ActionNone with ReasonInvalidPayload, unknown actions become
// ActionNone and numeric fields that cannot be coerced become 0.
func DecisionFromValue(v any) Decision {
	switch d := v.(type) {
	case Decision:
		return d
	case *Decision:
		if d == nil {
			return NoAction(ReasonInvalidPayload)
		}
		return *d
	}

	m, ok := v.(map[string]any)
	if !ok {
		return NoAction(ReasonInvalidPayload)
	}

	action := Action(strings.ToLower(strings.TrimSpace(stringValue(m["action"]))))
	if action == "" || !action.Valid() {
		action = ActionNone
	}

	return Decision{
		Action:     action,
		Text:       strings.TrimSpace(stringValue(m["text"])),
		ReplyToID:  lookupID(m, "reply"),
		TargetID:   lookupID(m, "target"),
		ReactionID: lookupID(m, "reaction"),
		Reason:     strings.TrimSpace(stringValue(m["reason"])),
	}
}

func lookupID(m map[string]any, field string) int64 {
	for _, k := range decisionKeys[field] {
		if v, ok := m[k]; ok && v != nil {
			return CoerceID(v)
		}
	}
	return 0
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64, float32, int, int64, int32, bool:
		return fmt.Sprint(s)
	default:
		return ""
	}
}

// CoerceID converts v to a non-negative integer. Values that are negative or
// not integer-like become 0.
func CoerceID(v any) int64 {
	var n int64

	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint32:
		n = int64(x)
	case float32:
		return CoerceID(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x >= math.MaxInt64 {
			return 0
		}
		n = int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			n = i
		} else if f, err := x.Float64(); err == nil {
			return CoerceID(f)
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0
		}
		n = i
	default:
		return 0
	}

	if n < 0 {
		return 0
	}
	return n
}

// SanitizePolicy bounds what a Decision may do.
type SanitizePolicy struct {
	MaxChars           int
	AllowThreadedReply bool
	AllowReactions     bool
	MaxReactionID      int64
}

// Sanitize enforces the policy on d and returns the result. It is pure and
// total: every output is ActionNone, a send_message with non-empty text, or a
// react with a reaction id in [1, MaxReactionID] and a positive target.
// fallbackTarget is used when a react decision names no target.
func (d Decision) Sanitize(p SanitizePolicy, fallbackTarget int64) Decision {
	if !d.Action.Valid() {
		d.Action = ActionNone
	}

	maxReaction := p.MaxReactionID
	if maxReaction <= 0 {
		maxReaction = DefaultMaxReactionID
	}

	text := strings.TrimSpace(ClipRunes(d.Text, p.MaxChars))
	reason := ClipRunes(d.Reason, maxReasonLen)

	switch d.Action {
	case ActionSendMessage:
		if text == "" {
			return NoAction(ReasonEmptySendMessage)
		}
		reply := d.ReplyToID
		if !p.AllowThreadedReply || reply < 0 {
			reply = 0
		}
		return Decision{Action: ActionSendMessage, Text: text, ReplyToID: reply, Reason: reason}
	case ActionReact:
		if !p.AllowReactions {
			return NoAction(ReasonReactionsDisabled)
		}
		if d.ReactionID < 1 || d.ReactionID > maxReaction {
			return NoAction(ReasonReactionIDOutOfRange)
		}
		target := d.TargetID
		if target <= 0 {
			target = fallbackTarget
		}
		if target <= 0 {
			return NoAction(ReasonMissingTarget)
		}
		return Decision{Action: ActionReact, TargetID: target, ReactionID: d.ReactionID, Reason: reason}
	default:
		if reason == "" {
			reason = ReasonNoAction
		}
		return NoAction(reason)
	}
}

// ClipRunes truncates s to at most max runes. max <= 0 disables clipping.
func ClipRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
