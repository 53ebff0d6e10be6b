package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/remote"
)

// Store implements remote.Store on a PostgreSQL chat_sessions table.
type Store struct {
	db *sql.DB
}

// Open opens a connection pool for dsn. No connection is made until Initialize.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required: %w", chatsync.ErrInvalidConfig)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Initialize pings the server and creates the schema.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("initialize", err)
	}
	if err := s.EnsureTables(ctx); err != nil {
		return classify("initialize", err)
	}
	return nil
}

// EnsureTables creates chat_sessions if missing.
func (s *Store) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			user_id    TEXT        NOT NULL,
			id         TEXT        NOT NULL,
			date       TEXT        NOT NULL,
			messages   JSONB       NOT NULL DEFAULT '[]',
			summary    TEXT        NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			version    BIGINT      NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_date ON chat_sessions(user_id, date)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Upsert implements remote.Store. An older copy never replaces a newer one.
func (s *Store) Upsert(ctx context.Context, userID string, session *chatsync.ChatSession) error {
	msgs := session.Messages
	if msgs == nil {
		msgs = []chatsync.ChatMessage{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return remote.NewError("upsert", remote.KindUnknown, err)
	}

	stmt := `INSERT INTO chat_sessions (user_id, id, date, messages, summary, created_at, updated_at, version)
	         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	         ON CONFLICT (user_id, id) DO UPDATE SET
	           date = EXCLUDED.date,
	           messages = EXCLUDED.messages,
	           summary = EXCLUDED.summary,
	           updated_at = EXCLUDED.updated_at,
	           version = EXCLUDED.version
	         WHERE chat_sessions.updated_at < EXCLUDED.updated_at
	            OR (chat_sessions.updated_at = EXCLUDED.updated_at AND chat_sessions.version <= EXCLUDED.version)`
	if _, err := s.db.ExecContext(ctx, stmt,
		userID, session.ID, session.Date, data, session.Summary,
		session.CreatedAt, session.UpdatedAt, session.Version,
	); err != nil {
		return classify("upsert", err)
	}
	return nil
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE user_id = $1 AND id = $2`, userID, sessionID,
	); err != nil {
		return classify("delete", err)
	}
	return nil
}

// List implements remote.Store.
func (s *Store) List(ctx context.Context, userID string) ([]*chatsync.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, messages, summary, created_at, updated_at, version
		 FROM chat_sessions WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	var list []*chatsync.ChatSession
	for rows.Next() {
		sess := &chatsync.ChatSession{}
		var data []byte
		if err := rows.Scan(&sess.ID, &sess.Date, &data, &sess.Summary,
			&sess.CreatedAt, &sess.UpdatedAt, &sess.Version); err != nil {
			return nil, classify("list", err)
		}
		if err := json.Unmarshal(data, &sess.Messages); err != nil {
			return nil, remote.NewError("list", remote.KindUnknown, fmt.Errorf("session %s: %w", sess.ID, err))
		}
		list = append(list, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list", err)
	}
	return list, nil
}

// HealthCheck implements remote.Store.
func (s *Store) HealthCheck(ctx context.Context) remote.Health {
	start := time.Now()
	err := s.db.PingContext(ctx)
	if err != nil {
		err = classify("health", err)
	}
	return remote.Health{Reachable: err == nil, Latency: time.Since(start), CheckedAt: start, Err: err}
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// classify maps PostgreSQL SQLSTATE codes to remote kinds.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.Canceled) {
			return remote.NewError(op, remote.KindUnreachable, err)
		}
		return remote.Classify(op, err)
	}

	switch pqErr.Code {
	case "28P01", "28000", "42501":
		return remote.NewError(op, remote.KindUnauthorized, err)
	case "42P01", "3D000":
		return remote.NewError(op, remote.KindNotFound, err)
	case "53300", "53400", "40001", "40P01":
		return remote.NewError(op, remote.KindThrottled, err)
	}
	switch pqErr.Code.Class() {
	case "08", "57":
		return remote.NewError(op, remote.KindUnreachable, err)
	}
	return remote.NewError(op, remote.KindUnknown, err)
}

// Compile-time check that Store implements remote.Store
var _ remote.Store = (*Store)(nil)
