package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/rpc"
)

// CallOption configures a single Acquire or Call.
type CallOption func(*callOptions)

type callOptions struct {
	explicit *domain.Session
	creds    *domain.Credentials
	name     string
}

func (o callOptions) credentials(key domain.PoolKey) domain.Credentials {
	if o.creds != nil {
		return *o.creds
	}
	return domain.Credentials{Username: key.Owner}
}

// WithSession pins the call to a session the caller already holds. No store
// lookup, admission check, open or close happens for it.
func WithSession(s *domain.Session) CallOption {
	return func(o *callOptions) {
		o.explicit = s
	}
}

// WithCredentials sets the credentials used if a new session must be opened.
// Defaults to the pool key owner with no password.
func WithCredentials(creds domain.Credentials) CallOption {
	return func(o *callOptions) {
		o.creds = &creds
	}
}

// Named labels the call in errors, logs and hooks.
func Named(name string) CallOption {
	return func(o *callOptions) {
		o.name = name
	}
}

// Lease is a session held by one logical request. Release it exactly once.
type Lease struct {
	m        *Manager
	key      domain.PoolKey
	session  *domain.Session
	explicit bool // Supplied by the caller, never disposed here
	leased   bool // Marked InUse in the store

	mu       sync.Mutex
	invalid  bool
	released bool
}

// Session returns the session the lease runs on.
func (l *Lease) Session() *domain.Session {
	return l.session
}

// Explicit reports whether the caller supplied the session.
func (l *Lease) Explicit() bool {
	return l.explicit
}

// Invalidate marks the session as unusable; Release drops its record instead of returning it.
func (l *Lease) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalid = true
}

// Release disposes of the session according to the manager's policy:
// closed under CloseAfterCall, returned to the pool otherwise. An invalidated
// session is only closed under CloseAfterCall; otherwise its record is
// dropped. Sessions supplied through WithSession are left untouched. Release
// never fails; cleanup problems are logged.
func (l *Lease) Release(ctx context.Context) {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	invalid := l.invalid
	l.mu.Unlock()

	if l.explicit {
		return
	}

	m := l.m
	switch {
	case m.policy.CloseAfterCall:
		_ = m.dispose(ctx, l.session)
	case invalid:
		m.logger.Debug("Dropping invalidated session", "pool", l.key.String(), "session_id", l.session.ID())
		m.forget(ctx, l.session)
	case l.leased:
		m.giveBack(ctx, l.key, l.session)
	}
}

// giveBack clears the InUse mark so the session can be selected again.
// If the record cannot be updated, or is gone, the session is closed instead
// so it never holds a slot with no call in flight.
func (m *Manager) giveBack(ctx context.Context, key domain.PoolKey, s *domain.Session) {
	err := m.WithLock(context.WithoutCancel(ctx), key, func(ctx context.Context) error {
		s.InUse = false
		s.LastUsedAt = m.now()
		return m.store.Update(ctx, s)
	})
	if err == nil {
		return
	}
	m.logger.Warn("Failed to return session to pool, closing it",
		"pool", key.String(),
		"session_id", s.ID(),
		"err", err,
	)
	_ = m.dispose(ctx, s)
}

// Acquire selects the session a logical request runs on: the explicit one,
// a free stored one, or a newly opened one, subject to admission control.
// It fails with domain.ErrPoolExhausted when a bounded pool has no room and
// with *domain.OpenError when the remote open fails.
func (m *Manager) Acquire(ctx context.Context, key domain.PoolKey, opts ...CallOption) (*Lease, error) {
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.explicit != nil {
		return &Lease{m: m, key: key, session: o.explicit, explicit: true}, nil
	}
	if !key.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPoolKey, key.String())
	}

	var (
		selected *domain.Session
		reserved bool
	)
	err := m.withEntry(ctx, key, func(ctx context.Context, entry *lockEntry) error {
		var err error
		selected, reserved, err = m.selectOrReserve(ctx, key, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	leased := m.policy.Bounded() && !m.policy.CloseAfterCall
	if selected != nil {
		m.logger.Debug("Reusing session", "pool", key.String(), "session_id", selected.ID())
		if m.hooks.OnReuse != nil {
			m.hooks.OnReuse(ctx, &domain.SessionEvent{
				EventBase: m.event(domain.EventSessionReuse, key),
				SessionID: selected.ID(),
			})
		}
		return &Lease{m: m, key: key, session: selected, leased: leased}, nil
	}

	s, err := m.openReserved(ctx, key, o.credentials(key), reserved, leased)
	if err != nil {
		return nil, err
	}
	return &Lease{m: m, key: key, session: s, leased: leased}, nil
}

// Open opens a session for a caller that keeps it across calls and passes it
// back with WithSession. The session counts against MaxSessions and is never
// handed to another call until Close releases it.
func (m *Manager) Open(ctx context.Context, key domain.PoolKey, opts ...CallOption) (*domain.Session, error) {
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if !key.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPoolKey, key.String())
	}

	err := m.withEntry(ctx, key, func(ctx context.Context, entry *lockEntry) error {
		if m.policy.Bounded() {
			if err := m.admit(ctx, key, entry); err != nil {
				return err
			}
		}
		m.reserve(key, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.openReserved(ctx, key, o.credentials(key), true, m.policy.Bounded())
}

// openReserved opens a session and records it, releasing the reservation
// (if any) whatever happens.
func (m *Manager) openReserved(ctx context.Context, key domain.PoolKey, creds domain.Credentials, reserved, inUse bool) (*domain.Session, error) {
	s, err := m.open(ctx, key, creds)
	if err == nil {
		s.InUse = inUse
	}

	if reserved {
		var toStore *domain.Session
		if err == nil {
			toStore = s
		}
		if cerr := m.commit(ctx, key, toStore); cerr != nil {
			_ = m.dispose(ctx, s)
			return nil, fmt.Errorf("failed to record session: %w", cerr)
		}
	} else if err == nil {
		if ierr := m.store.Insert(ctx, s); ierr != nil {
			_ = m.dispose(ctx, s)
			return nil, fmt.Errorf("failed to record session: %w", ierr)
		}
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// selectOrReserve runs inside the pool key's critical section. It either
// returns a stored session to reuse or reserves a slot for a new one.
func (m *Manager) selectOrReserve(ctx context.Context, key domain.PoolKey, entry *lockEntry) (*domain.Session, bool, error) {
	p := m.policy

	if p.CloseAfterCall {
		// Every stored session was closed by the call that used it, so the
		// store is never consulted for reuse. Only admission applies.
		if p.Bounded() {
			if err := m.admit(ctx, key, entry); err != nil {
				return nil, false, err
			}
		}
		m.reserve(key, entry)
		return nil, true, nil
	}

	if p.Bounded() {
		s, err := m.store.LeastRecentlyUsedFree(ctx, key, p.MaxSessions)
		if err == nil {
			s.InUse = true
			s.LastUsedAt = m.now()
			if err := m.store.Update(ctx, s); err != nil {
				return nil, false, fmt.Errorf("failed to lease session: %w", err)
			}
			return s, false, nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, false, fmt.Errorf("failed to look up free session: %w", err)
		}
		if err := m.admit(ctx, key, entry); err != nil {
			return nil, false, err
		}
		m.reserve(key, entry)
		return nil, true, nil
	}

	s, err := m.store.MostRecent(ctx, key)
	if err == nil {
		s.LastUsedAt = m.now()
		if err := m.store.Update(ctx, s); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, false, fmt.Errorf("failed to touch session: %w", err)
		}
		return s, false, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, false, fmt.Errorf("failed to look up session: %w", err)
	}
	return nil, false, nil
}

// admit rejects the call when active plus reserved sessions reach MaxSessions.
func (m *Manager) admit(ctx context.Context, key domain.PoolKey, entry *lockEntry) error {
	active, err := m.store.CountActive(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to count sessions: %w", err)
	}
	inFlight := active + entry.reserved
	if inFlight < m.policy.MaxSessions {
		return nil
	}

	m.logger.Info("Rejecting call, session pool exhausted",
		"pool", key.String(),
		"active", active,
		"reserved", entry.reserved,
		"limit", m.policy.MaxSessions,
	)
	if m.hooks.OnReject != nil {
		m.hooks.OnReject(ctx, &domain.RejectionEvent{
			EventBase: m.event(domain.EventPoolRejection, key),
			Active:    inFlight,
			Limit:     m.policy.MaxSessions,
		})
	}
	return domain.PoolExhausted(key, inFlight, m.policy.MaxSessions)
}

// open creates a remote session and fills in what the gateway left out.
func (m *Manager) open(ctx context.Context, key domain.PoolKey, creds domain.Credentials) (*domain.Session, error) {
	start := m.now()
	s, err := m.gateway.Open(ctx, key, creds)
	if err == nil && s == nil {
		err = errors.New("gateway returned no session")
	}
	if err != nil {
		var openErr *domain.OpenError
		if !errors.As(err, &openErr) {
			openErr = &domain.OpenError{Key: key, Err: err}
		}
		if m.hooks.OnOpen != nil {
			m.hooks.OnOpen(ctx, &domain.SessionEvent{
				EventBase: m.event(domain.EventSessionOpen, key),
				Duration:  m.now().Sub(start),
				Err:       openErr,
			})
		}
		return nil, openErr
	}

	now := m.now()
	s.Owner = key.Owner
	s.Application = key.Application
	s.Status = domain.SessionOpen
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.LastUsedAt = now

	if s.Coordinator == "" {
		host, err := m.gateway.ResolveCoordinator(ctx, s)
		if err != nil {
			m.logger.Warn("Failed to resolve coordinator", "pool", key.String(), "session_id", s.ID(), "err", err)
		} else {
			s.Coordinator = host
		}
	}

	m.logger.Debug("Opened session",
		"pool", key.String(),
		"session_id", s.ID(),
		"coordinator", s.Coordinator,
		"protocol", s.ProtocolVersion,
	)
	if m.hooks.OnOpen != nil {
		m.hooks.OnOpen(ctx, &domain.SessionEvent{
			EventBase: m.event(domain.EventSessionOpen, key),
			SessionID: s.ID(),
			Duration:  m.now().Sub(start),
		})
	}
	return s, nil
}

// Call runs op, one remote call bound to a session, on the session chosen by m and disposes of it afterwards.
// It returns the response together with the session used, so a caller can
// pin follow-up calls to it with WithSession. A response whose status is not
// SUCCESS is turned into a *domain.RemoteOperationError.
func Call[T rpc.Response](ctx context.Context, m *Manager, key domain.PoolKey, op func(context.Context, *domain.Session) (T, error), opts ...CallOption) (T, *domain.Session, error) {
	var zero T
	lease, err := m.Acquire(ctx, key, opts...)
	if err != nil {
		return zero, nil, err
	}
	defer lease.Release(ctx)

	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := Invoke(ctx, lease, op, o.name)
	return res, lease.Session(), err
}

// Invoke runs op on the lease's session and checks the response status.
// INVALID_HANDLE invalidates the lease.
func Invoke[T rpc.Response](ctx context.Context, lease *Lease, op func(context.Context, *domain.Session) (T, error), name string) (T, error) {
	m := lease.m
	start := m.now()

	res, err := op(ctx, lease.session)
	if err == nil {
		err = CheckStatus(name, res.GetStatus())
	}

	var remoteErr *domain.RemoteOperationError
	if errors.As(err, &remoteErr) && remoteErr.InvalidHandle() {
		lease.Invalidate()
	}

	if m.hooks.OnCall != nil {
		m.hooks.OnCall(ctx, &domain.CallEvent{
			EventBase: m.event(domain.EventCall, lease.key),
			SessionID: lease.session.ID(),
			Operation: name,
			Explicit:  lease.explicit,
			Duration:  m.now().Sub(start),
			Err:       err,
		})
	}
	return res, err
}

// CheckStatus turns any status other than SUCCESS into a
// *domain.RemoteOperationError. A missing status is an error too.
func CheckStatus(name string, st *rpc.Status) error {
	if st == nil {
		return domain.NewRemoteOperationError(name, "UNKNOWN", "response carried no status", "", 0, false)
	}
	if st.StatusCode == rpc.StatusSuccess {
		return nil
	}
	return domain.NewRemoteOperationError(
		name,
		st.StatusCode.String(),
		st.ErrorMessage,
		st.SQLState,
		st.ErrorCode,
		st.StatusCode == rpc.StatusInvalidHandle,
	)
}
