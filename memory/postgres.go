package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/chatagent/core"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL,
		message_id      BIGINT NOT NULL DEFAULT 0,
		actor_id        BIGINT NOT NULL DEFAULT 0,
		name            TEXT NOT NULL DEFAULT '',
		role            TEXT NOT NULL DEFAULT 'user'
		                CHECK (role IN ('user', 'assistant')),
		text            TEXT NOT NULL,
		ts              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_conv_ts ON chat_messages (conversation_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS chat_summaries (
		conversation_id BIGINT PRIMARY KEY,
		summary         TEXT NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS actor_notes (
		conversation_id BIGINT NOT NULL,
		actor_id        BIGINT NOT NULL,
		note            TEXT NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (conversation_id, actor_id)
	)`,
}

// PostgresStore keeps chat history in Postgres through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string, optFns ...func(o *Options)) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgresStore(pool, optFns...)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// NewPostgresStore wraps an existing pool. The caller owns the pool.
func NewPostgresStore(pool *pgxpool.Pool, optFns ...func(o *Options)) *PostgresStore {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &PostgresStore{pool: pool, opts: opts}
}

// EnsureSchema creates the history tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memory schema: %w", err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// AppendMessage stores an inbound message.
func (s *PostgresStore) AppendMessage(ctx context.Context, m Message) error {
	m = normalize(m)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (conversation_id, message_id, actor_id, name, role, text, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ConversationID, m.MessageID, m.ActorID, m.Name, m.Role, m.Text, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// AppendAssistant stores the bot's own message.
func (s *PostgresStore) AppendAssistant(ctx context.Context, conversationID int64, text string, at time.Time) error {
	return s.AppendMessage(ctx, Message{ConversationID: conversationID, Role: RoleAssistant, Text: text, Timestamp: at})
}

// SetSummary replaces the conversation summary.
func (s *PostgresStore) SetSummary(ctx context.Context, conversationID int64, summary string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_summaries (conversation_id, summary, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (conversation_id) DO UPDATE SET summary = EXCLUDED.summary, updated_at = now()`,
		conversationID, strings.TrimSpace(summary),
	)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// SetActorNote replaces the note kept about actorID in the conversation.
func (s *PostgresStore) SetActorNote(ctx context.Context, conversationID, actorID int64, note string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO actor_notes (conversation_id, actor_id, note, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (conversation_id, actor_id) DO UPDATE SET note = EXCLUDED.note, updated_at = now()`,
		conversationID, actorID, strings.TrimSpace(note),
	)
	if err != nil {
		return fmt.Errorf("set actor note: %w", err)
	}
	return nil
}

// Summary returns the conversation summary or "".
func (s *PostgresStore) Summary(ctx context.Context, conversationID int64) (string, error) {
	var summary string
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM chat_summaries WHERE conversation_id = $1`, conversationID,
	).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load summary: %w", err)
	}
	return summary, nil
}

// ActorNote returns the note about actorID or "".
func (s *PostgresStore) ActorNote(ctx context.Context, conversationID, actorID int64) (string, error) {
	var note string
	err := s.pool.QueryRow(ctx,
		`SELECT note FROM actor_notes WHERE conversation_id = $1 AND actor_id = $2`, conversationID, actorID,
	).Scan(&note)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load actor note: %w", err)
	}
	return note, nil
}

// RecentTurns returns the newest limit messages as chronological turns.
func (s *PostgresStore) RecentTurns(ctx context.Context, conversationID int64, limit int, excludeMessageID int64) ([]core.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT message_id, actor_id, name, role, text, ts FROM chat_messages
		 WHERE conversation_id = $1
		 ORDER BY ts DESC, id DESC
		 LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m := Message{ConversationID: conversationID}
		if err := rows.Scan(&m.MessageID, &m.ActorID, &m.Name, &m.Role, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return buildTurns(msgs, excludeMessageID, s.opts), nil
}
