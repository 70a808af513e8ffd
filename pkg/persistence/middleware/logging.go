package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/ports"
)

type loggingMiddleware struct {
	next   ports.SessionStore
	logger *slog.Logger
}

// NewLoggingMiddleware logs every store operation at Debug and every failure
// other than a missing record at Warn.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next ports.SessionStore) ports.SessionStore {
		return &loggingMiddleware{next: next, logger: logger}
	}
}

func (m *loggingMiddleware) log(ctx context.Context, op string, key domain.PoolKey, start time.Time, err error) {
	attrs := []any{"op", op, "pool", key.String(), "duration", time.Since(start)}
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		m.logger.WarnContext(ctx, "Session store operation failed", append(attrs, "err", err)...)
		return
	}
	m.logger.DebugContext(ctx, "Session store operation", attrs...)
}

func (m *loggingMiddleware) CountActive(ctx context.Context, key domain.PoolKey) (n int, err error) {
	defer func(start time.Time) { m.log(ctx, "count_active", key, start, err) }(time.Now())
	return m.next.CountActive(ctx, key)
}

func (m *loggingMiddleware) MostRecent(ctx context.Context, key domain.PoolKey) (s *domain.Session, err error) {
	defer func(start time.Time) { m.log(ctx, "most_recent", key, start, err) }(time.Now())
	return m.next.MostRecent(ctx, key)
}

func (m *loggingMiddleware) LeastRecentlyUsedFree(ctx context.Context, key domain.PoolKey, limit int) (s *domain.Session, err error) {
	defer func(start time.Time) { m.log(ctx, "lru_free", key, start, err) }(time.Now())
	return m.next.LeastRecentlyUsedFree(ctx, key, limit)
}

func (m *loggingMiddleware) Get(ctx context.Context, key domain.PoolKey, id string) (s *domain.Session, err error) {
	defer func(start time.Time) { m.log(ctx, "get", key, start, err) }(time.Now())
	return m.next.Get(ctx, key, id)
}

func (m *loggingMiddleware) List(ctx context.Context, key domain.PoolKey) (s []*domain.Session, err error) {
	defer func(start time.Time) { m.log(ctx, "list", key, start, err) }(time.Now())
	return m.next.List(ctx, key)
}

func (m *loggingMiddleware) Insert(ctx context.Context, s *domain.Session) (err error) {
	defer func(start time.Time) { m.log(ctx, "insert", s.Key(), start, err) }(time.Now())
	return m.next.Insert(ctx, s)
}

func (m *loggingMiddleware) Update(ctx context.Context, s *domain.Session) (err error) {
	defer func(start time.Time) { m.log(ctx, "update", s.Key(), start, err) }(time.Now())
	return m.next.Update(ctx, s)
}

func (m *loggingMiddleware) Delete(ctx context.Context, s *domain.Session) (err error) {
	defer func(start time.Time) { m.log(ctx, "delete", s.Key(), start, err) }(time.Now())
	return m.next.Delete(ctx, s)
}
