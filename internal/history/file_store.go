package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// fileSuffix is appended to the user id to form the history file name.
const fileSuffix = "_history.json"

// FileStore keeps one indented JSON file per user under a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed and returns a FileStore over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file backing userID.
func (s *FileStore) Path(userID domain.UserID) string {
	return filepath.Join(s.dir, string(userID)+fileSuffix)
}

// Load reads the history for userID.
func (s *FileStore) Load(_ context.Context, userID domain.UserID) (domain.History, error) {
	if userID.IsAnonymous() {
		return domain.History{}, nil
	}
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", userID, err)
	}

	var h domain.History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", userID, err)
	}
	if h == nil {
		h = domain.History{}
	}
	return h, nil
}

// Save writes the history through a temp file and rename so readers never see a partial file.
func (s *FileStore) Save(_ context.Context, userID domain.UserID, h domain.History) error {
	if userID.IsAnonymous() {
		return nil
	}
	if err := validateUserID(userID); err != nil {
		return err
	}
	if h == nil {
		h = domain.History{}
	}

	data, err := json.MarshalIndent(h, "", "    ")
	if err != nil {
		return fmt.Errorf("encode history for %s: %w", userID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".history-*")
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write history for %s: %w", userID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close history for %s: %w", userID, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(userID)); err != nil {
		return fmt.Errorf("replace history for %s: %w", userID, err)
	}
	return nil
}

// Clear deletes the history file for userID.
func (s *FileStore) Clear(_ context.Context, userID domain.UserID) error {
	if userID.IsAnonymous() {
		return nil
	}
	if err := validateUserID(userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(userID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove history for %s: %w", userID, err)
	}
	return nil
}

// Count returns the number of history files in the directory.
func (s *FileStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileSuffix))
	if err != nil {
		return 0, fmt.Errorf("list history dir %q: %w", s.dir, err)
	}
	return len(matches), nil
}
