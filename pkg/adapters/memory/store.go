package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/hs2pool/pkg/domain"
)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[domain.PoolKey]map[string]*domain.Session
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[domain.PoolKey]map[string]*domain.Session),
	}
}

// snapshot copies the records of a key so callers can't mutate store state by pointer.
// Callers hold at least the read lock.
func (s *Store) snapshot(key domain.PoolKey) []*domain.Session {
	records := s.data[key]
	out := make([]*domain.Session, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Clone())
	}
	return out
}

// CountActive returns the number of open sessions for the key.
func (s *Store) CountActive(ctx context.Context, key domain.PoolKey) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CountOpen(s.snapshot(key)), nil
}

// MostRecent returns the newest open session for the key.
func (s *Store) MostRecent(ctx context.Context, key domain.PoolKey) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess := domain.SelectMostRecent(s.snapshot(key)); sess != nil {
		return sess, nil
	}
	return nil, domain.ErrSessionNotFound
}

// LeastRecentlyUsedFree returns the least recently used free session among the first limit.
func (s *Store) LeastRecentlyUsedFree(ctx context.Context, key domain.PoolKey, limit int) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess := domain.SelectLeastRecentlyUsedFree(s.snapshot(key), limit); sess != nil {
		return sess, nil
	}
	return nil, domain.ErrSessionNotFound
}

// Get retrieves one record.
func (s *Store) Get(ctx context.Context, key domain.PoolKey, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[key][id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return rec.Clone(), nil
}

// List returns every record of the key, oldest first.
func (s *Store) List(ctx context.Context, key domain.PoolKey) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := s.snapshot(key)
	domain.SortByCreation(sessions)
	return sessions, nil
}

// Insert persists a new record.
func (s *Store) Insert(ctx context.Context, sess *domain.Session) error {
	if len(sess.GUID) == 0 {
		return fmt.Errorf("session GUID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sess.Key()
	if s.data[key] == nil {
		s.data[key] = make(map[string]*domain.Session)
	}
	s.data[key][sess.ID()] = sess.Clone()
	return nil
}

// Update replaces an existing record.
func (s *Store) Update(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.data[sess.Key()]
	if _, ok := records[sess.ID()]; !ok {
		return domain.ErrSessionNotFound
	}
	records[sess.ID()] = sess.Clone()
	return nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sess.Key()
	delete(s.data[key], sess.ID())
	if len(s.data[key]) == 0 {
		delete(s.data, key)
	}
	return nil
}
