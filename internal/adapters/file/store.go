package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/hs2pool/pkg/domain"
)

// Store implements ports.SessionStore using the local filesystem.
// It stores each session as a JSON file under one directory per pool key.
// It is safe for concurrent use within one process only.
type Store struct {
	BasePath string

	mu sync.RWMutex
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".hs2pool/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".hs2pool", "sessions")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) dir(key domain.PoolKey) string {
	return filepath.Join(s.BasePath, url.PathEscape(key.String()))
}

func (s *Store) path(key domain.PoolKey, id string) string {
	return filepath.Join(s.dir(key), id+".json")
}

// List returns every record of the key, oldest first.
func (s *Store) List(ctx context.Context, key domain.PoolKey) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(key)
}

func (s *Store) list(key domain.PoolKey) ([]*domain.Session, error) {
	entries, err := os.ReadDir(s.dir(key))
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.Session{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		sess, err := s.read(filepath.Join(s.dir(key), name))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	domain.SortByCreation(sessions)
	return sessions, nil
}

// CountActive returns the number of open sessions for the key.
func (s *Store) CountActive(ctx context.Context, key domain.PoolKey) (int, error) {
	sessions, err := s.List(ctx, key)
	if err != nil {
		return 0, err
	}
	return domain.CountOpen(sessions), nil
}

// MostRecent returns the newest open session for the key.
func (s *Store) MostRecent(ctx context.Context, key domain.PoolKey) (*domain.Session, error) {
	sessions, err := s.List(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess := domain.SelectMostRecent(sessions); sess != nil {
		return sess, nil
	}
	return nil, domain.ErrSessionNotFound
}

// LeastRecentlyUsedFree returns the least recently used free session among the first limit.
func (s *Store) LeastRecentlyUsedFree(ctx context.Context, key domain.PoolKey, limit int) (*domain.Session, error) {
	sessions, err := s.List(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess := domain.SelectLeastRecentlyUsedFree(sessions, limit); sess != nil {
		return sess, nil
	}
	return nil, domain.ErrSessionNotFound
}

// Get retrieves one session record from its JSON file.
func (s *Store) Get(ctx context.Context, key domain.PoolKey, id string) (*domain.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(s.path(key, id))
}

// Insert persists a new session record.
func (s *Store) Insert(ctx context.Context, sess *domain.Session) error {
	if len(sess.GUID) == 0 {
		return errors.New("session has no GUID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(sess)
}

// Update replaces an existing record.
func (s *Store) Update(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(sess.Key(), sess.ID())); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("failed to stat session file: %w", err)
	}
	return s.write(sess)
}

// Delete removes the session file.
func (s *Store) Delete(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(sess.Key(), sess.ID()))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

func (s *Store) read(path string) (*domain.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// write persists the session to a JSON file atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) write(sess *domain.Session) error {
	key := sess.Key()
	dir := s.dir(key)

	// Ensure directory exists
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// 1. Create Temp File in the same directory (atomic rename needs one filesystem)
	tmpFile, err := os.CreateTemp(dir, "tmp-"+sess.ID()+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // Gone already after a successful rename
	}()

	// 2. Write Data
	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	// 3. Fsync to ensure durability
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}

	// 4. Close File (cannot rename open file on Windows)
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// 5. Atomic Rename
	destPath := s.path(key, sess.ID())
	if _, err := os.Stat(destPath); err == nil {
		// On Windows, os.Rename fails if dest exists.
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing session file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to valid session: %w", err)
	}
	return nil
}
