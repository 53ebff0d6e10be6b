package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/creastat/chatsync"
)

// SQLiteStore implements Store on a single on-device SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteStore opens (or creates) the database at path and applies the schema.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open database: %w", err)
	}
	// One writer keeps the file consistent for a single device.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id         TEXT PRIMARY KEY,
			date       TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			data       TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chat_sessions_date ON chat_sessions(date, created_at, id);

		CREATE TABLE IF NOT EXISTS chat_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*chatsync.ChatSession, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM chat_sessions WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, ok := s.decode(id, raw)
	if !ok {
		return nil, nil
	}
	return data, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, session *chatsync.ChatSession) error {
	val, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, date, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			data = excluded.data`,
		session.ID, session.Date, session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(), string(val),
	)
	return err
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	return err
}

// ListDates implements Store.
func (s *SQLiteStore) ListDates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT date FROM chat_sessions ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dates := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// ListSessionsForDate implements Store.
func (s *SQLiteStore) ListSessionsForDate(ctx context.Context, date string) ([]*chatsync.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM chat_sessions WHERE date = ? ORDER BY created_at ASC, id ASC`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*chatsync.ChatSession{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		if data, ok := s.decode(id, raw); ok {
			out = append(out, data)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSessions(out)
	return out, nil
}

// GetMeta implements Store.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM chat_meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetMeta implements Store.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// DeleteMeta implements Store.
func (s *SQLiteStore) DeleteMeta(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_meta WHERE key = ?`, key)
	return err
}

// ListMeta implements Store.
func (s *SQLiteStore) ListMeta(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM chat_meta WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) decode(id, raw string) (*chatsync.ChatSession, bool) {
	var data chatsync.ChatSession
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		s.logger.Warn("skipping corrupted local session", "session", id, "err", err)
		return nil, false
	}
	return &data, true
}

var _ Store = (*SQLiteStore)(nil)
