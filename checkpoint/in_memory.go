package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/chatagent/core"
)

// InMemoryStore is a volatile Checkpointer storing states in a process local
// map. It is safe for concurrent access. Every returned state is cloned to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[int64]*core.State
	writes []Write
}

var _ core.Checkpointer = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[int64]*core.State)}
}

// Put stores a clone of st.
func (s *InMemoryStore) Put(_ context.Context, st *core.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ConversationKey()] = st.Clone()
	s.writes = append(s.writes, Write{
		ID:             uuid.NewString(),
		InvocationID:   st.InvocationID,
		ConversationID: st.ConversationKey(),
		Stage:          st.Stage,
		State:          st.Clone(),
		Created:        time.Now().UTC(),
	})
	return nil
}

// Get returns a clone of the conversation's checkpoint, or nil.
func (s *InMemoryStore) Get(_ context.Context, conversationID int64) (*core.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[conversationID]; ok {
		return st.Clone(), nil
	}
	return nil, nil
}

// Delete removes the conversation's checkpoint.
func (s *InMemoryStore) Delete(_ context.Context, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	return nil
}

// Pending lists unfinished checkpoints, oldest first.
func (s *InMemoryStore) Pending(_ context.Context) ([]*core.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.State
	for _, st := range s.states {
		if !st.Stage.Terminal() {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.Before(out[j].Updated) })
	return out, nil
}

// Writes returns the logged writes of one invocation in order.
func (s *InMemoryStore) Writes(_ context.Context, invocationID string) ([]Write, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Write
	for _, w := range s.writes {
		if w.InvocationID == invocationID {
			w.State = w.State.Clone()
			out = append(out, w)
		}
	}
	return out, nil
}
