package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/internal/sqlitedb"
	"github.com/hupe1980/chatagent/logging"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS agent_checkpoints (
		conversation_id INTEGER PRIMARY KEY,
		invocation_id   TEXT NOT NULL,
		message_id      INTEGER NOT NULL,
		stage           INTEGER NOT NULL,
		payload         BLOB NOT NULL,
		updated_at      INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_checkpoint_writes (
		id              TEXT PRIMARY KEY,
		invocation_id   TEXT NOT NULL,
		conversation_id INTEGER NOT NULL,
		stage           INTEGER NOT NULL,
		payload         BLOB NOT NULL,
		created_at      INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_checkpoint_writes_invocation
		ON agent_checkpoint_writes (invocation_id, created_at)`,
}

// Options configure the SQLite store.
type Options struct {
	// KeepWrites disables the append-only write log when false.
	KeepWrites bool
	Logger     logging.Logger
}

// SQLite owns the checkpoint database lifecycle.
type SQLite struct {
	path string
	opts Options

	mu    sync.Mutex
	db    *sql.DB
	saver *Saver
}

// NewSQLite creates a store for path. Nothing is opened until Start.
func NewSQLite(path string, optFns ...func(o *Options)) *SQLite {
	opts := Options{KeepWrites: true, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if path == "" {
		path = DefaultPath
	}
	return &SQLite{path: path, opts: opts}
}

// Path returns the database path.
func (s *SQLite) Path() string { return s.path }

// Start opens the database, creating the directory and schema as needed. It
// is idempotent: a started store returns its existing Saver.
func (s *SQLite) Start(ctx context.Context) (*Saver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saver != nil {
		return s.saver, nil
	}

	db, err := sqlitedb.Open(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	if err := sqlitedb.Exec(ctx, db, schema...); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint schema: %w", err)
	}

	s.db = db
	s.saver = &Saver{store: s}

	s.opts.Logger.Info("checkpoint.started", "path", s.path)

	return s.saver, nil
}

// Stop closes the database. Stopping a stopped store is a no-op.
func (s *SQLite) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	s.saver = nil

	s.opts.Logger.Info("checkpoint.stopped", "path", s.path)

	if err != nil {
		return fmt.Errorf("checkpoint: close: %w", err)
	}
	return nil
}

// Started reports whether the store is open.
func (s *SQLite) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

func (s *SQLite) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotStarted
	}
	return s.db, nil
}

// Saver implements core.Checkpointer over a started SQLite store. After Stop
// every method returns ErrNotStarted.
type Saver struct {
	store *SQLite
}

var _ core.Checkpointer = (*Saver)(nil)

// Put replaces the conversation's checkpoint with st and logs the write.
func (v *Saver) Put(ctx context.Context, st *core.State) error {
	db, err := v.store.conn()
	if err != nil {
		return err
	}

	payload, err := encodeState(st)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO agent_checkpoints (conversation_id, invocation_id, message_id, stage, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
		   invocation_id = excluded.invocation_id,
		   message_id    = excluded.message_id,
		   stage         = excluded.stage,
		   payload       = excluded.payload,
		   updated_at    = excluded.updated_at`,
		st.ConversationKey(), st.InvocationID, st.Event.MessageID, int(st.Stage), payload, now,
	); err != nil {
		return fmt.Errorf("checkpoint: put: %w", err)
	}

	if v.store.opts.KeepWrites {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_checkpoint_writes (id, invocation_id, conversation_id, stage, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), st.InvocationID, st.ConversationKey(), int(st.Stage), payload, now,
		); err != nil {
			return fmt.Errorf("checkpoint: log write: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("checkpoint: commit: %w", err)
	}
	return nil
}

// Get returns the latest checkpoint for the conversation, or nil.
func (v *Saver) Get(ctx context.Context, conversationID int64) (*core.State, error) {
	db, err := v.store.conn()
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx,
		`SELECT payload FROM agent_checkpoints WHERE conversation_id = ?`, conversationID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get: %w", err)
	}
	return decodeState(payload)
}

// Delete removes the conversation's checkpoint. The write log is kept.
func (v *Saver) Delete(ctx context.Context, conversationID int64) error {
	db, err := v.store.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM agent_checkpoints WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}

// Pending lists unfinished checkpoints, oldest first.
func (v *Saver) Pending(ctx context.Context) ([]*core.State, error) {
	return v.query(ctx,
		`SELECT payload FROM agent_checkpoints WHERE stage < ? ORDER BY updated_at ASC`, int(core.StageRecorded))
}

// List returns every checkpoint, most recently updated first.
func (v *Saver) List(ctx context.Context) ([]*core.State, error) {
	return v.query(ctx, `SELECT payload FROM agent_checkpoints ORDER BY updated_at DESC`)
}

// Writes returns the logged writes of one invocation in order.
func (v *Saver) Writes(ctx context.Context, invocationID string) ([]Write, error) {
	db, err := v.store.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, conversation_id, stage, payload, created_at FROM agent_checkpoint_writes
		 WHERE invocation_id = ? ORDER BY created_at ASC, stage ASC`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: writes: %w", err)
	}
	defer rows.Close()

	var out []Write
	for rows.Next() {
		w := Write{InvocationID: invocationID}
		var (
			stage   int
			payload []byte
			created int64
		)
		if err := rows.Scan(&w.ID, &w.ConversationID, &stage, &payload, &created); err != nil {
			return nil, fmt.Errorf("checkpoint: scan write: %w", err)
		}
		st, err := decodeState(payload)
		if err != nil {
			return nil, err
		}
		w.Stage = core.Stage(stage)
		w.State = st
		w.Created = time.UnixMilli(created).UTC()
		out = append(out, w)
	}
	return out, rows.Err()
}

// Clear removes all checkpoints and the write log.
func (v *Saver) Clear(ctx context.Context) error {
	db, err := v.store.conn()
	if err != nil {
		return err
	}
	return sqlitedb.Exec(ctx, db, `DELETE FROM agent_checkpoints`, `DELETE FROM agent_checkpoint_writes`)
}

func (v *Saver) query(ctx context.Context, q string, args ...any) ([]*core.State, error) {
	db, err := v.store.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: query: %w", err)
	}
	defer rows.Close()

	var out []*core.State
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("checkpoint: scan: %w", err)
		}
		st, err := decodeState(payload)
		if err != nil {
			v.store.opts.Logger.Warn("checkpoint.decode_failed", "error", err.Error())
			continue
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
