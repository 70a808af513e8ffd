package observability

import (
	"context"

	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hs2pool"

// Metrics holds the Prometheus collectors of the session pool.
type Metrics struct {
	Opens        *prometheus.CounterVec
	Closes       *prometheus.CounterVec
	Reuses       *prometheus.CounterVec
	Rejections   *prometheus.CounterVec
	Calls        *prometheus.CounterVec
	OpenSessions *prometheus.GaugeVec
	OpenLatency  *prometheus.HistogramVec
	CallLatency  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Remote sessions opened, by outcome.",
		}, []string{"pool", "result"}),
		Closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Remote sessions closed, by outcome.",
		}, []string{"pool", "result"}),
		Reuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reused_total",
			Help:      "Calls served by an already open session.",
		}, []string{"pool"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_rejections_total",
			Help:      "Calls refused because the pool was exhausted.",
		}, []string{"pool"}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Remote calls issued on pooled or explicit sessions.",
		}, []string{"pool", "operation", "result"}),
		OpenSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Sessions opened and not yet closed by this process.",
		}, []string{"pool"}),
		OpenLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_open_duration_seconds",
			Help:      "Latency of remote OpenSession.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pool"}),
		CallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Latency of remote calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Opens, m.Closes, m.Reuses, m.Rejections, m.Calls,
		m.OpenSessions, m.OpenLatency, m.CallLatency,
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Hooks returns the pool hooks that feed the collectors.
func (m *Metrics) Hooks() domain.PoolHooks {
	return domain.PoolHooks{
		OnOpen: func(_ context.Context, e *domain.SessionEvent) {
			pool := e.Key.String()
			m.Opens.WithLabelValues(pool, result(e.Err)).Inc()
			m.OpenLatency.WithLabelValues(pool).Observe(e.Duration.Seconds())
			if e.Err == nil {
				m.OpenSessions.WithLabelValues(pool).Inc()
			}
		},
		OnClose: func(_ context.Context, e *domain.SessionEvent) {
			pool := e.Key.String()
			m.Closes.WithLabelValues(pool, result(e.Err)).Inc()
			// The record is dropped even when the remote close fails.
			m.OpenSessions.WithLabelValues(pool).Dec()
		},
		OnReuse: func(_ context.Context, e *domain.SessionEvent) {
			m.Reuses.WithLabelValues(e.Key.String()).Inc()
		},
		OnReject: func(_ context.Context, e *domain.RejectionEvent) {
			m.Rejections.WithLabelValues(e.Key.String()).Inc()
		},
		OnCall: func(_ context.Context, e *domain.CallEvent) {
			op := e.Operation
			if op == "" {
				op = "unnamed"
			}
			m.Calls.WithLabelValues(e.Key.String(), op, result(e.Err)).Inc()
			m.CallLatency.WithLabelValues(op).Observe(e.Duration.Seconds())
		},
	}
}
