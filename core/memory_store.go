package core

import (
	"context"
	"time"
)

// ContextSource answers the observer's lookups. Every method is independent;
// an implementation may return empty values when it has nothing.
type ContextSource interface {
	Summary(ctx context.Context, conversationID int64) (string, error)
	ActorNote(ctx context.Context, conversationID, actorID int64) (string, error)
	// RecentTurns returns at most limit turns in chronological order, skipping
	// the message with id excludeMessageID.
	RecentTurns(ctx context.Context, conversationID int64, limit int, excludeMessageID int64) ([]Turn, error)
}

// HistoryWriter stores the bot's own visible output for future context.
type HistoryWriter interface {
	AppendAssistant(ctx context.Context, conversationID int64, text string, at time.Time) error
}

// MemoryStore is a chat history backend usable as both context source and
// recorder sink.
type MemoryStore interface {
	ContextSource
	HistoryWriter
}
