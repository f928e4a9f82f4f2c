package core

import (
	"context"
	"strings"
)

// Mode selects whether decided actions are applied.
type Mode string

const (
	// ModeActive executes decisions against the messaging platform.
	ModeActive Mode = "active"
	// ModeShadow computes and logs decisions without any platform call.
	ModeShadow Mode = "shadow"
)

// ParseMode maps free-form input onto a Mode. Anything unrecognized is active.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeShadow)) {
		return ModeShadow
	}
	return ModeActive
}

// Checkpointer persists pipeline state keyed by conversation. Only the most
// recent state per conversation is retained. The encoding is opaque to callers.
type Checkpointer interface {
	Put(ctx context.Context, st *State) error
	// Get returns nil and no error when nothing is stored.
	Get(ctx context.Context, conversationID int64) (*State, error)
	Delete(ctx context.Context, conversationID int64) error
	// Pending lists states that have not reached StageRecorded.
	Pending(ctx context.Context) ([]*State, error)
}

// Messenger is the outbound side of the messaging platform. These are the only
// two side-effecting verbs the executor may call.
type Messenger interface {
	SendMessage(ctx context.Context, conversationID int64, text string, replyTo int64) (int64, error)
	SendReaction(ctx context.Context, conversationID, targetID, reactionID int64) (int64, error)
}
