// Package history persists per-user conversation histories.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// ErrInvalidUserID is returned for user ids that cannot be used as a storage key.
var ErrInvalidUserID = errors.New("invalid user id")

// Store is the keyed history contract used by the orchestrator.
// Anonymous users are never read or written.
type Store interface {
	// Load returns the stored history, or an empty one when nothing is stored.
	Load(ctx context.Context, userID domain.UserID) (domain.History, error)

	// Save replaces the stored history.
	Save(ctx context.Context, userID domain.UserID, h domain.History) error

	// Clear removes the stored history. Clearing a missing history is not an error.
	Clear(ctx context.Context, userID domain.UserID) error

	// Count returns the number of stored histories.
	Count(ctx context.Context) (int, error)
}

// validateUserID rejects ids that would escape the storage namespace.
func validateUserID(userID domain.UserID) error {
	id := string(userID)
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, id)
	}
	return nil
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open builds the Store named by backend. The returned close func is never nil.
func Open(ctx context.Context, backend, dir, dsn string) (Store, func() error, error) {
	noop := func() error { return nil }

	switch backend {
	case BackendFile, "":
		s, err := NewFileStore(dir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case BackendSQLite:
		s, err := NewSQLiteStore(ctx, dsn)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendMemory:
		return NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown history backend %q", backend)
	}
}
