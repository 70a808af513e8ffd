package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/hs2pool/pkg/domain"
)

// Chain runs every hook set in order.
func Chain(sets ...domain.PoolHooks) domain.PoolHooks {
	var out domain.PoolHooks
	for _, h := range sets {
		out.OnOpen = chain(out.OnOpen, h.OnOpen)
		out.OnClose = chain(out.OnClose, h.OnClose)
		out.OnReuse = chain(out.OnReuse, h.OnReuse)
		out.OnReject = chain(out.OnReject, h.OnReject)
		out.OnCall = chain(out.OnCall, h.OnCall)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}

// LogHooks logs pool events. Failures log at Warn, everything else at Debug.
func LogHooks(logger *slog.Logger) domain.PoolHooks {
	return domain.PoolHooks{
		OnOpen: func(ctx context.Context, e *domain.SessionEvent) {
			logSession(ctx, logger, "session_open", e)
		},
		OnClose: func(ctx context.Context, e *domain.SessionEvent) {
			logSession(ctx, logger, "session_close", e)
		},
		OnReuse: func(ctx context.Context, e *domain.SessionEvent) {
			logSession(ctx, logger, "session_reuse", e)
		},
		OnReject: func(ctx context.Context, e *domain.RejectionEvent) {
			logger.WarnContext(ctx, "pool_rejection",
				"pool", e.Key.String(),
				"active", e.Active,
				"limit", e.Limit,
			)
		},
		OnCall: func(ctx context.Context, e *domain.CallEvent) {
			level := slog.LevelDebug
			if e.Err != nil {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "call",
				"pool", e.Key.String(),
				"session_id", e.SessionID,
				"operation", e.Operation,
				"explicit", e.Explicit,
				"duration", e.Duration,
				"err", e.Err,
			)
		},
	}
}

func logSession(ctx context.Context, logger *slog.Logger, msg string, e *domain.SessionEvent) {
	if e.Err != nil {
		logger.WarnContext(ctx, msg, "pool", e.Key.String(), "session_id", e.SessionID, "duration", e.Duration, "err", e.Err)
		return
	}
	logger.DebugContext(ctx, msg, "pool", e.Key.String(), "session_id", e.SessionID, "duration", e.Duration)
}
