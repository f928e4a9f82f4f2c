package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a normalized inbound chat message. It is produced by the platform
// adapter and consumed by exactly one pipeline invocation. Treat as immutable.
type Event struct {
	ConversationID int64     `json:"conversation_id"`
	ActorID        int64     `json:"actor_id"`
	MessageID      int64     `json:"message_id"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewEvent creates an event stamped with the current UTC time. Text is trimmed.
func NewEvent(conversationID, actorID, messageID int64, text string) Event {
	return Event{
		ConversationID: conversationID,
		ActorID:        actorID,
		MessageID:      messageID,
		Text:           strings.TrimSpace(text),
		Timestamp:      time.Now().UTC(),
	}
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single line of recent conversation handed to the provider.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context fragment names.
const (
	FragmentSummary     = "summary"
	FragmentActorNote   = "actorNote"
	FragmentRecentTurns = "recentTurns"
)

// ContextBundle holds the best-effort context gathered by the observer. Any
// fragment may be empty. It is owned by the invocation that built it.
type ContextBundle struct {
	Summary             string    `json:"summary,omitempty"`
	ActorNote           string    `json:"actor_note,omitempty"`
	RecentTurns         []Turn    `json:"recent_turns,omitempty"`
	MessagesSinceAction int       `json:"messages_since_action"`
	LastActionAt        time.Time `json:"last_action_at,omitempty"`
}

// Fragments returns the non-empty text fragments keyed by fragment name.
func (b ContextBundle) Fragments() map[string]string {
	out := make(map[string]string, 3)
	if b.Summary != "" {
		out[FragmentSummary] = b.Summary
	}
	if b.ActorNote != "" {
		out[FragmentActorNote] = b.ActorNote
	}
	if len(b.RecentTurns) > 0 {
		lines := make([]string, 0, len(b.RecentTurns))
		for _, t := range b.RecentTurns {
			lines = append(lines, t.Content)
		}
		out[FragmentRecentTurns] = strings.Join(lines, "\n")
	}
	return out
}

// Size returns the aggregate character count over all fragments.
func (b ContextBundle) Size() int {
	n := len([]rune(b.Summary)) + len([]rune(b.ActorNote))
	for _, t := range b.RecentTurns {
		n += len([]rune(t.Content))
	}
	return n
}

// NewID returns a new random identifier (UUIDv4 string).
func NewID() string { return uuid.NewString() }
