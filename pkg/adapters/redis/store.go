package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/hs2pool/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store and the locker.
const DefaultPrefix = "hs2pool:"

// Store implements ports.SessionStore using Redis.
//
// Each record is a JSON string at <prefix>session:<pool>:<id>. A sorted set at
// <prefix>index:<pool> scored by creation time lists the records of a pool.
// Index members whose record expired are pruned lazily on read.
type Store struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for session records. Every update refreshes it.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client exposes the underlying client, e.g. to build a Locker on it.
func (s *Store) Client() backend.UniversalClient {
	return s.client
}

// Prefix returns the configured key prefix.
func (s *Store) Prefix() string {
	return s.prefix
}

func (s *Store) key(pool domain.PoolKey, id string) string {
	return s.prefix + "session:" + pool.String() + ":" + id
}

func (s *Store) indexKey(pool domain.PoolKey) string {
	return s.prefix + "index:" + pool.String()
}

// List returns every record of the key, oldest first.
func (s *Store) List(ctx context.Context, key domain.PoolKey) ([]*domain.Session, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(key, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(vals))
	var expired []any
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok {
			// Lazy Cleanup: the record expired, drop it from the index
			expired = append(expired, ids[i])
			continue
		}
		sess, err := decode(raw)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(key), expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
		}
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
	val, err := s.client.Get(ctx, s.key(key, id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decode(val)
}

// Insert persists a new session record and indexes it.
func (s *Store) Insert(ctx context.Context, sess *domain.Session) error {
	if len(sess.GUID) == 0 {
		return errors.New("session has no GUID")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := sess.Key()
	pipe := s.client.TxPipeline()
	// Use 0 for no expiration if ttl is not set.
	pipe.Set(ctx, s.key(key, sess.ID()), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(key), backend.Z{
		Score:  float64(sess.CreatedAt.UnixMilli()),
		Member: sess.ID(),
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Update replaces an existing record. SET XX never resurrects a deleted one.
func (s *Store) Update(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.key(sess.Key(), sess.ID()), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Delete removes the record and its index entry.
func (s *Store) Delete(ctx context.Context, sess *domain.Session) error {
	key := sess.Key()
	pipe := s.client.TxPipeline()

	pipe.Del(ctx, s.key(key, sess.ID()))
	pipe.ZRem(ctx, s.indexKey(key), sess.ID())

	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decode(raw string) (*domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}
