package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aretw0/hs2pool/pkg/adapters/memory"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/ports"
	"github.com/aretw0/hs2pool/pkg/rpc"
	"github.com/google/uuid"
)

var testKey = domain.PoolKey{Owner: "test_hive_server2_lib", Application: "hive"}

// FakeGateway hands out sessions with fresh GUIDs and counts opens and closes.
type FakeGateway struct {
	mu       sync.Mutex
	opens    int
	closes   int
	closed   []string
	openErr  error
	closeErr error
	creds    []domain.Credentials
}

func (g *FakeGateway) Open(ctx context.Context, key domain.PoolKey, creds domain.Credentials) (*domain.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creds = append(g.creds, creds)
	if g.openErr != nil {
		return nil, g.openErr
	}
	g.opens++
	id := uuid.New()
	return &domain.Session{
		GUID:            id[:],
		Secret:          []byte("secret"),
		ProtocolVersion: 10,
	}, nil
}

func (g *FakeGateway) Close(ctx context.Context, s *domain.Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
	g.closed = append(g.closed, s.ID())
	return g.closeErr
}

func (g *FakeGateway) ResolveCoordinator(ctx context.Context, s *domain.Session) (string, error) {
	return "hive-host", nil
}

func (g *FakeGateway) Opens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opens
}

func (g *FakeGateway) Closes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closes
}

func (g *FakeGateway) FailOpen(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openErr = err
}

// CountingStore wraps a SessionStore and counts lookups.
type CountingStore struct {
	ports.SessionStore
	lookups atomic.Int32

	lruErr error
}

func NewCountingStore() *CountingStore {
	return &CountingStore{SessionStore: memory.NewStore()}
}

func (s *CountingStore) CountActive(ctx context.Context, key domain.PoolKey) (int, error) {
	s.lookups.Add(1)
	return s.SessionStore.CountActive(ctx, key)
}

func (s *CountingStore) MostRecent(ctx context.Context, key domain.PoolKey) (*domain.Session, error) {
	s.lookups.Add(1)
	return s.SessionStore.MostRecent(ctx, key)
}

func (s *CountingStore) LeastRecentlyUsedFree(ctx context.Context, key domain.PoolKey, limit int) (*domain.Session, error) {
	s.lookups.Add(1)
	if s.lruErr != nil {
		return nil, s.lruErr
	}
	return s.SessionStore.LeastRecentlyUsedFree(ctx, key, limit)
}

func (s *CountingStore) Lookups() int {
	return int(s.lookups.Load())
}

func okOp(ctx context.Context, s *domain.Session) (*rpc.ExecuteStatementResp, error) {
	return &rpc.ExecuteStatementResp{Status: &rpc.Status{StatusCode: rpc.StatusSuccess}}, nil
}

func statusOp(code rpc.StatusCode, msg string) func(context.Context, *domain.Session) (*rpc.ExecuteStatementResp, error) {
	return func(ctx context.Context, s *domain.Session) (*rpc.ExecuteStatementResp, error) {
		return &rpc.ExecuteStatementResp{Status: &rpc.Status{StatusCode: code, ErrorMessage: msg, SQLState: "42000"}}, nil
	}
}

var errTransport = errors.New("connection reset by peer")

func failingOp(ctx context.Context, s *domain.Session) (*rpc.ExecuteStatementResp, error) {
	return nil, errTransport
}
