package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// Compile-time interface guards.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

const schema = `CREATE TABLE IF NOT EXISTS conversation_history (
	user_id    TEXT PRIMARY KEY,
	turns      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore keeps one row per user holding the JSON turn list.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and ensures the schema.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}

	// One writer; WAL lets readers proceed.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", dsn, err)
	}

	// modernc.org/sqlite takes pragmas as statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load returns the stored turns for userID.
func (s *SQLiteStore) Load(ctx context.Context, userID domain.UserID) (domain.History, error) {
	if userID.IsAnonymous() {
		return domain.History{}, nil
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT turns FROM conversation_history WHERE user_id = ?", string(userID),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", userID, err)
	}

	var h domain.History
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", userID, err)
	}
	if h == nil {
		h = domain.History{}
	}
	return h, nil
}

// Save upserts the turns for userID.
func (s *SQLiteStore) Save(ctx context.Context, userID domain.UserID, h domain.History) error {
	if userID.IsAnonymous() {
		return nil
	}
	if h == nil {
		h = domain.History{}
	}

	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode history for %s: %w", userID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_history (user_id, turns, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET turns = excluded.turns, updated_at = CURRENT_TIMESTAMP`,
		string(userID), string(data),
	)
	if err != nil {
		return fmt.Errorf("save history for %s: %w", userID, err)
	}
	return nil
}

// Clear deletes the row for userID.
func (s *SQLiteStore) Clear(ctx context.Context, userID domain.UserID) error {
	if userID.IsAnonymous() {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversation_history WHERE user_id = ?", string(userID)); err != nil {
		return fmt.Errorf("clear history for %s: %w", userID, err)
	}
	return nil
}

// Count returns the number of stored histories.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversation_history").Scan(&n); err != nil {
		return 0, fmt.Errorf("count histories: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
