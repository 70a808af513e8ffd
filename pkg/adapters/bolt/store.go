// Package bolt persists session records in a single bbolt file. Unlike the
// file store it keeps every pool in one database with transactional updates.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/hs2pool/pkg/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names.
var bucketSessions = []byte("sessions") // pool key -> (session id -> record)

// DefaultTimeout bounds how long Open waits for the file lock.
const DefaultTimeout = time.Second

// Store implements ports.SessionStore on bbolt.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Create directory if it doesn't exist.
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := NewFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewFromDB wraps an open database and creates the root bucket.
func NewFromDB(db *bolt.DB) (*Store, error) {
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func poolBucket(tx *bolt.Tx, key domain.PoolKey) *bolt.Bucket {
	return tx.Bucket(bucketSessions).Bucket([]byte(key.String()))
}

// List returns every record of the key, oldest first.
func (s *Store) List(ctx context.Context, key domain.PoolKey) ([]*domain.Session, error) {
	sessions := []*domain.Session{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := poolBucket(tx, key)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			sess, err := decode(v)
			if err != nil {
				return err
			}
			sessions = append(sessions, sess)
			return nil
		})
	})
	if err != nil {
		return nil, err
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

// Get retrieves one session record.
func (s *Store) Get(ctx context.Context, key domain.PoolKey, id string) (*domain.Session, error) {
	var sess *domain.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := poolBucket(tx, key)
		if b == nil {
			return domain.ErrSessionNotFound
		}
		v := b.Get([]byte(id))
		if v == nil {
			return domain.ErrSessionNotFound
		}
		var err error
		sess, err = decode(v)
		return err
	})
	return sess, err
}

// Insert persists a new session record.
func (s *Store) Insert(ctx context.Context, sess *domain.Session) error {
	if len(sess.GUID) == 0 {
		return errors.New("session has no GUID")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketSessions).CreateBucketIfNotExists([]byte(sess.Key().String()))
		if err != nil {
			return fmt.Errorf("failed to create pool bucket: %w", err)
		}
		return b.Put([]byte(sess.ID()), data)
	})
}

// Update replaces an existing record.
func (s *Store) Update(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := poolBucket(tx, sess.Key())
		if b == nil || b.Get([]byte(sess.ID())) == nil {
			return domain.ErrSessionNotFound
		}
		return b.Put([]byte(sess.ID()), data)
	})
}

// Delete removes the record. Empty pool buckets are dropped.
func (s *Store) Delete(ctx context.Context, sess *domain.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketSessions)
		name := []byte(sess.Key().String())
		b := root.Bucket(name)
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(sess.ID())); err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k == nil {
			return root.DeleteBucket(name)
		}
		return nil
	})
}

// Pools lists the pool keys that have at least one record.
func (s *Store) Pools(ctx context.Context) ([]string, error) {
	var pools []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEachBucket(func(k []byte) error {
			pools = append(pools, string(k))
			return nil
		})
	})
	return pools, err
}

func decode(v []byte) (*domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal(v, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}
