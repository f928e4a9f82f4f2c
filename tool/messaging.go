package tool

import (
	"context"
	"errors"
	"strings"

	"github.com/hupe1980/chatagent/core"
)

// Names of the platform tools.
const (
	SendMessageName  = "send_message"
	SendReactionName = "send_reaction"
)

// ErrNilMessenger is returned when a platform tool has no messenger.
var ErrNilMessenger = errors.New("tool: messenger is nil")

// SendMessageArgs are the arguments of the send_message tool.
type SendMessageArgs struct {
	ConversationID int64  `json:"conversation_id" description:"Conversation to post into"`
	Text           string `json:"text" description:"Message text"`
	ReplyToID      int64  `json:"reply_to_id,omitempty" description:"Message id to reply to, 0 for none"`
}

// SendReactionArgs are the arguments of the send_reaction tool.
type SendReactionArgs struct {
	ConversationID int64 `json:"conversation_id" description:"Conversation of the target message"`
	TargetID       int64 `json:"target_id" description:"Message id to react to"`
	ReactionID     int64 `json:"reaction_id" description:"Platform reaction id"`
}

func sendMessageSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conversation_id": map[string]any{"type": "integer", "minimum": 1},
			"text":            map[string]any{"type": "string", "minLength": 1},
			"reply_to_id":     map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"conversation_id", "text"},
	}
}

func sendReactionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conversation_id": map[string]any{"type": "integer", "minimum": 1},
			"target_id":       map[string]any{"type": "integer", "minimum": 1},
			"reaction_id":     map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []string{"conversation_id", "target_id", "reaction_id"},
	}
}

// NewSendMessageTool returns a tool posting a text message through m. The
// result is the platform message id (int64).
func NewSendMessageTool(m core.Messenger, optFns ...func(o *FunctionOptions)) *FunctionTool {
	return NewFunctionTool(SendMessageName, "Send a text message to a conversation", sendMessageSchema(),
		func(ctx context.Context, args map[string]any) (any, error) {
			if m == nil {
				return nil, ErrNilMessenger
			}
			return m.SendMessage(ctx,
				core.CoerceID(args["conversation_id"]),
				strings.TrimSpace(args["text"].(string)),
				core.CoerceID(args["reply_to_id"]),
			)
		}, optFns...)
}

// NewSendReactionTool returns a tool putting a reaction on a message through
// m. The result is the platform acknowledgement id (int64).
func NewSendReactionTool(m core.Messenger, optFns ...func(o *FunctionOptions)) *FunctionTool {
	return NewFunctionTool(SendReactionName, "Put a reaction on a message", sendReactionSchema(),
		func(ctx context.Context, args map[string]any) (any, error) {
			if m == nil {
				return nil, ErrNilMessenger
			}
			return m.SendReaction(ctx,
				core.CoerceID(args["conversation_id"]),
				core.CoerceID(args["target_id"]),
				core.CoerceID(args["reaction_id"]),
			)
		}, optFns...)
}

// NewPlatformRegistry returns a registry with both platform tools bound to m.
func NewPlatformRegistry(m core.Messenger, optFns ...func(o *FunctionOptions)) *Registry {
	return NewRegistry(NewSendMessageTool(m, optFns...), NewSendReactionTool(m, optFns...))
}
