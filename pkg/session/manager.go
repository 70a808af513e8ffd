package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/hs2pool/internal/logging"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed pool lock may be held.
const DefaultLockTTL = 30 * time.Second

// Policy is the admission and disposal policy of a Manager.
type Policy struct {
	// MaxSessions caps open sessions per pool key. Zero or negative means unbounded.
	MaxSessions int `yaml:"max_sessions" mapstructure:"max_sessions" env:"HS2POOL_POOL_MAX_SESSIONS"`

	// CloseAfterCall closes every session the manager opened as soon as its call completes.
	CloseAfterCall bool `yaml:"close_after_call" mapstructure:"close_after_call" env:"HS2POOL_POOL_CLOSE_AFTER_CALL"`
}

// DefaultPolicy is an unbounded pool that keeps sessions for reuse.
func DefaultPolicy() Policy {
	return Policy{MaxSessions: -1}
}

// Bounded reports whether MaxSessions applies.
func (p Policy) Bounded() bool {
	return p.MaxSessions > 0
}

// lockEntry holds the mutex, the reference count and the open slots reserved
// for the pool key. reserved is only touched while mu is held.
type lockEntry struct {
	mu       sync.Mutex
	refs     int
	reserved int
}

// Manager decides, per call, which remote session runs it.
// It uses Reference Counting to garbage collect unused pool locks.
type Manager struct {
	store   ports.SessionStore
	gateway ports.Gateway
	policy  Policy

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active pool locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	hooks   domain.PoolHooks
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithPolicy sets the admission and disposal policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithLocker enables distributed locking of pool keys.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.PoolHooks) Option {
	return func(m *Manager) {
		m.hooks = hooks
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new Session Manager over the given store and gateway.
func NewManager(store ports.SessionStore, gateway ports.Gateway, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		gateway: gateway,
		policy:  DefaultPolicy(),
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(), // Default to no-op
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the configured policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Store returns the underlying session store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST call release(key) once it no longer needs the entry.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// WithLock executes fn while holding the critical section of the pool key.
func (m *Manager) WithLock(ctx context.Context, key domain.PoolKey, fn func(context.Context) error) error {
	return m.withEntry(ctx, key, func(ctx context.Context, _ *lockEntry) error {
		return fn(ctx)
	})
}

func (m *Manager) withEntry(ctx context.Context, key domain.PoolKey, fn func(context.Context, *lockEntry) error) error {
	id := key.String()
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, id, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"pool", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx, entry)
}

// reserve takes an open slot. The entry stays referenced until commit drops it.
// Callers hold entry.mu.
func (m *Manager) reserve(key domain.PoolKey, entry *lockEntry) {
	entry.reserved++
	m.acquire(key.String())
}

// commit turns a reservation into either a stored session (s != nil) or a
// free slot again. It only takes the local lock so a canceled context can
// never strand a reservation.
func (m *Manager) commit(ctx context.Context, key domain.PoolKey, s *domain.Session) error {
	id := key.String()
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id) // this call
		m.release(id) // the reservation
	}()

	entry.reserved--
	if s == nil {
		return nil
	}
	return m.store.Insert(context.WithoutCancel(ctx), s)
}

// Sessions lists the session records of a pool key.
func (m *Manager) Sessions(ctx context.Context, key domain.PoolKey) ([]*domain.Session, error) {
	return m.store.List(ctx, key)
}

// Close closes a session held by the caller and removes its record.
// Unlike disposal after a pooled call, a remote failure is returned as a
// *domain.CloseError; the record is removed either way.
func (m *Manager) Close(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return nil
	}
	return m.dispose(ctx, s)
}

// dispose closes the remote session and removes its record, best effort.
func (m *Manager) dispose(ctx context.Context, s *domain.Session) error {
	start := m.now()
	var closeErr error
	if err := m.gateway.Close(ctx, s); err != nil {
		closeErr = &domain.CloseError{SessionID: s.ID(), Err: err}
		m.logger.Warn("Failed to close session",
			"pool", s.Key().String(),
			"session_id", s.ID(),
			"err", err,
		)
	} else {
		m.logger.Debug("Closed session", "pool", s.Key().String(), "session_id", s.ID())
	}

	if m.hooks.OnClose != nil {
		m.hooks.OnClose(ctx, &domain.SessionEvent{
			EventBase: m.event(domain.EventSessionClose, s.Key()),
			SessionID: s.ID(),
			Duration:  m.now().Sub(start),
			Err:       closeErr,
		})
	}

	m.forget(ctx, s)
	return closeErr
}

// forget removes the record of a session that must never be selected again.
func (m *Manager) forget(ctx context.Context, s *domain.Session) {
	if err := m.store.Delete(context.WithoutCancel(ctx), s); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		m.logger.Warn("Failed to remove session record (best effort)",
			"pool", s.Key().String(),
			"session_id", s.ID(),
			"err", err,
		)
	}
}

func (m *Manager) event(t domain.EventType, key domain.PoolKey) domain.EventBase {
	return domain.EventBase{Timestamp: m.now(), Type: t, Key: key}
}
