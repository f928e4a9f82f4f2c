package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/chatagent/core"
)

// Call is one platform call captured by RecordingMessenger.
type Call struct {
	Method         string
	ConversationID int64
	Text           string
	ReplyToID      int64
	TargetID       int64
	ReactionID     int64
}

// RecordingMessenger is a core.Messenger that records every call. A send
// returns MessageID (default 101) and a reaction returns 1.
type RecordingMessenger struct {
	mu    sync.Mutex
	calls []Call

	MessageID int64
	Err       error
	// Block, when set, is received from before a call returns.
	Block <-chan struct{}
}

var _ core.Messenger = (*RecordingMessenger)(nil)

// NewRecordingMessenger creates a messenger returning message id 101.
func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{MessageID: 101}
}

// SendMessage records a message call.
func (m *RecordingMessenger) SendMessage(ctx context.Context, conversationID int64, text string, replyTo int64) (int64, error) {
	m.record(Call{Method: "send_message", ConversationID: conversationID, Text: text, ReplyToID: replyTo})
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	if m.Err != nil {
		return 0, m.Err
	}
	return m.MessageID, nil
}

// SendReaction records a reaction call.
func (m *RecordingMessenger) SendReaction(ctx context.Context, conversationID, targetID, reactionID int64) (int64, error) {
	m.record(Call{Method: "send_reaction", ConversationID: conversationID, TargetID: targetID, ReactionID: reactionID})
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	if m.Err != nil {
		return 0, m.Err
	}
	return 1, nil
}

// Calls returns a copy of the recorded calls.
func (m *RecordingMessenger) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *RecordingMessenger) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *RecordingMessenger) wait(ctx context.Context) error {
	if m.Block == nil {
		return nil
	}
	select {
	case <-m.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ContextSource is a scripted core.ContextSource. Each lookup returns its
// configured value or error, optionally after Delay.
type ContextSource struct {
	SummaryText string
	SummaryErr  error
	NoteText    string
	NoteErr     error
	Turns       []core.Turn
	TurnsErr    error
	Delay       time.Duration

	mu          sync.Mutex
	lastLimit   int
	lastExclude int64
}

var _ core.ContextSource = (*ContextSource)(nil)

// Summary returns SummaryText or SummaryErr.
func (s *ContextSource) Summary(ctx context.Context, _ int64) (string, error) {
	if err := s.sleep(ctx); err != nil {
		return "", err
	}
	return s.SummaryText, s.SummaryErr
}

// ActorNote returns NoteText or NoteErr.
func (s *ContextSource) ActorNote(ctx context.Context, _, _ int64) (string, error) {
	if err := s.sleep(ctx); err != nil {
		return "", err
	}
	return s.NoteText, s.NoteErr
}

// RecentTurns returns Turns or TurnsErr and remembers the arguments.
func (s *ContextSource) RecentTurns(ctx context.Context, _ int64, limit int, exclude int64) ([]core.Turn, error) {
	s.mu.Lock()
	s.lastLimit, s.lastExclude = limit, exclude
	s.mu.Unlock()

	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	if s.TurnsErr != nil {
		return nil, s.TurnsErr
	}
	return append([]core.Turn(nil), s.Turns...), nil
}

// LastTurnsQuery returns the limit and exclude id of the last RecentTurns call.
func (s *ContextSource) LastTurnsQuery() (int, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLimit, s.lastExclude
}

func (s *ContextSource) sleep(ctx context.Context) error {
	if s.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HistoryEntry is one AppendAssistant call.
type HistoryEntry struct {
	ConversationID int64
	Text           string
	At             time.Time
}

// HistoryRecorder is a core.HistoryWriter capturing appended turns.
type HistoryRecorder struct {
	mu      sync.Mutex
	entries []HistoryEntry
	Err     error
}

var _ core.HistoryWriter = (*HistoryRecorder)(nil)

// AppendAssistant records the entry unless Err is set.
func (h *HistoryRecorder) AppendAssistant(_ context.Context, conversationID int64, text string, at time.Time) error {
	if h.Err != nil {
		return h.Err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, HistoryEntry{ConversationID: conversationID, Text: text, At: at})
	return nil
}

// Entries returns a copy of the recorded entries.
func (h *HistoryRecorder) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryEntry(nil), h.entries...)
}
