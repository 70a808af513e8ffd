package observability

import (
	"context"
	"time"

	"github.com/aretw0/hs2pool/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceHooks records remote opens, closes and calls as spans. Events arrive
// after the fact, so each span is backdated by the event's duration.
func TraceHooks(tracer trace.Tracer) domain.PoolHooks {
	return domain.PoolHooks{
		OnOpen: func(ctx context.Context, e *domain.SessionEvent) {
			record(ctx, tracer, "hs2pool.OpenSession", e.EventBase, e.Duration, e.Err,
				attribute.String("hs2pool.session_id", e.SessionID))
		},
		OnClose: func(ctx context.Context, e *domain.SessionEvent) {
			record(ctx, tracer, "hs2pool.CloseSession", e.EventBase, e.Duration, e.Err,
				attribute.String("hs2pool.session_id", e.SessionID))
		},
		OnReject: func(ctx context.Context, e *domain.RejectionEvent) {
			span := trace.SpanFromContext(ctx)
			span.AddEvent("hs2pool.pool_rejection", trace.WithAttributes(
				attribute.String("hs2pool.pool", e.Key.String()),
				attribute.Int("hs2pool.active", e.Active),
				attribute.Int("hs2pool.limit", e.Limit),
			))
		},
		OnCall: func(ctx context.Context, e *domain.CallEvent) {
			name := e.Operation
			if name == "" {
				name = "call"
			}
			record(ctx, tracer, "hs2pool."+name, e.EventBase, e.Duration, e.Err,
				attribute.String("hs2pool.session_id", e.SessionID),
				attribute.Bool("hs2pool.explicit", e.Explicit))
		},
	}
}

func record(ctx context.Context, tracer trace.Tracer, name string, base domain.EventBase, d time.Duration, err error, attrs ...attribute.KeyValue) {
	end := base.Timestamp
	start := end.Add(-d)
	attrs = append(attrs,
		attribute.String("hs2pool.pool", base.Key.String()),
		attribute.String("hs2pool.owner", base.Key.Owner),
		attribute.String("hs2pool.application", base.Key.Application),
	)
	_, span := tracer.Start(ctx, name,
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End(trace.WithTimestamp(end))
}
