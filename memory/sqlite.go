package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/internal/sqlitedb"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		message_id      INTEGER NOT NULL DEFAULT 0,
		actor_id        INTEGER NOT NULL DEFAULT 0,
		name            TEXT NOT NULL DEFAULT '',
		role            TEXT NOT NULL DEFAULT 'user',
		text            TEXT NOT NULL,
		ts              INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_conv_ts ON chat_messages (conversation_id, ts)`,
	`CREATE TABLE IF NOT EXISTS chat_summaries (
		conversation_id INTEGER PRIMARY KEY,
		summary         TEXT NOT NULL,
		updated_at      INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS actor_notes (
		conversation_id INTEGER NOT NULL,
		actor_id        INTEGER NOT NULL,
		note            TEXT NOT NULL,
		updated_at      INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, actor_id)
	)`,
}

// SQLiteStore keeps chat history in a SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// OpenSQLite opens (or creates) the history database at path.
func OpenSQLite(ctx context.Context, path string, optFns ...func(o *Options)) (*SQLiteStore, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sqlitedb.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := sqlitedb.Exec(ctx, db, sqliteSchema...); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory schema: %w", err)
	}

	return &SQLiteStore{db: db, opts: opts}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// AppendMessage stores an inbound message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m Message) error {
	m = normalize(m)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (conversation_id, message_id, actor_id, name, role, text, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.MessageID, m.ActorID, m.Name, m.Role, m.Text, m.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// AppendAssistant stores the bot's own message.
func (s *SQLiteStore) AppendAssistant(ctx context.Context, conversationID int64, text string, at time.Time) error {
	return s.AppendMessage(ctx, Message{ConversationID: conversationID, Role: RoleAssistant, Text: text, Timestamp: at})
}

// SetSummary replaces the conversation summary.
func (s *SQLiteStore) SetSummary(ctx context.Context, conversationID int64, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_summaries (conversation_id, summary, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		conversationID, strings.TrimSpace(summary), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// SetActorNote replaces the note kept about actorID in the conversation.
func (s *SQLiteStore) SetActorNote(ctx context.Context, conversationID, actorID int64, note string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actor_notes (conversation_id, actor_id, note, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id, actor_id) DO UPDATE SET note = excluded.note, updated_at = excluded.updated_at`,
		conversationID, actorID, strings.TrimSpace(note), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set actor note: %w", err)
	}
	return nil
}

// Summary returns the conversation summary or "".
func (s *SQLiteStore) Summary(ctx context.Context, conversationID int64) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM chat_summaries WHERE conversation_id = ?`, conversationID,
	).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load summary: %w", err)
	}
	return summary, nil
}

// ActorNote returns the note about actorID or "".
func (s *SQLiteStore) ActorNote(ctx context.Context, conversationID, actorID int64) (string, error) {
	var note string
	err := s.db.QueryRowContext(ctx,
		`SELECT note FROM actor_notes WHERE conversation_id = ? AND actor_id = ?`, conversationID, actorID,
	).Scan(&note)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load actor note: %w", err)
	}
	return note, nil
}

// RecentTurns returns the newest limit messages as chronological turns.
func (s *SQLiteStore) RecentTurns(ctx context.Context, conversationID int64, limit int, excludeMessageID int64) ([]core.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, actor_id, name, role, text, ts FROM chat_messages
		 WHERE conversation_id = ?
		 ORDER BY ts DESC, id DESC
		 LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m := Message{ConversationID: conversationID}
		var ts int64
		if err := rows.Scan(&m.MessageID, &m.ActorID, &m.Name, &m.Role, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return buildTurns(msgs, excludeMessageID, s.opts), nil
}
