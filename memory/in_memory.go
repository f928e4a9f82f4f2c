package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/chatagent/core"
)

// InMemoryStore is a process-local history store for tests and single-process
// deployments. Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu        sync.RWMutex
	opts      Options
	messages  map[int64][]Message
	summaries map[int64]string
	notes     map[int64]map[int64]string // conversation -> actor -> note
}

// NewInMemoryStore creates a new in-memory history store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &InMemoryStore{
		opts:      opts,
		messages:  make(map[int64][]Message),
		summaries: make(map[int64]string),
		notes:     make(map[int64]map[int64]string),
	}
}

// AppendMessage stores an inbound message.
func (s *InMemoryStore) AppendMessage(_ context.Context, m Message) error {
	m = normalize(m)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

// AppendAssistant stores the bot's own message.
func (s *InMemoryStore) AppendAssistant(ctx context.Context, conversationID int64, text string, at time.Time) error {
	return s.AppendMessage(ctx, Message{ConversationID: conversationID, Role: RoleAssistant, Text: text, Timestamp: at})
}

// SetSummary replaces the conversation summary.
func (s *InMemoryStore) SetSummary(_ context.Context, conversationID int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[conversationID] = strings.TrimSpace(summary)
	return nil
}

// SetActorNote replaces the note kept about actorID in the conversation.
func (s *InMemoryStore) SetActorNote(_ context.Context, conversationID, actorID int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[conversationID]; !ok {
		s.notes[conversationID] = make(map[int64]string)
	}
	s.notes[conversationID][actorID] = strings.TrimSpace(note)
	return nil
}

// Summary returns the conversation summary or "".
func (s *InMemoryStore) Summary(_ context.Context, conversationID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[conversationID], nil
}

// ActorNote returns the note about actorID or "".
func (s *InMemoryStore) ActorNote(_ context.Context, conversationID, actorID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notes[conversationID][actorID], nil
}

// RecentTurns returns the newest limit messages as chronological turns.
func (s *InMemoryStore) RecentTurns(ctx context.Context, conversationID int64, limit int, excludeMessageID int64) ([]core.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	stored := s.messages[conversationID]
	msgs := make([]Message, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		msgs = append(msgs, stored[i])
	}
	s.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.After(msgs[j].Timestamp) })
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}

	return buildTurns(msgs, excludeMessageID, s.opts), nil
}

// Len returns the number of stored messages for the conversation.
func (s *InMemoryStore) Len(conversationID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID])
}
