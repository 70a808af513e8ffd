// Package cli wires configuration, stores and the session manager for the
// hs2pool command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aretw0/hs2pool/internal/adapters/file"
	"github.com/aretw0/hs2pool/internal/config"
	"github.com/aretw0/hs2pool/internal/logging"
	"github.com/aretw0/hs2pool/pkg/adapters/bolt"
	"github.com/aretw0/hs2pool/pkg/adapters/memory"
	"github.com/aretw0/hs2pool/pkg/adapters/redis"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/observability"
	"github.com/aretw0/hs2pool/pkg/persistence/middleware"
	"github.com/aretw0/hs2pool/pkg/ports"
	"github.com/aretw0/hs2pool/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrOffline is returned when the command has to reach a remote session:
// the hs2pool binary manages records only and carries no SQL transport.
var ErrOffline = errors.New("no remote transport configured")

// offlineGateway lets the manager drop records without a transport.
type offlineGateway struct{}

func (offlineGateway) Open(context.Context, domain.PoolKey, domain.Credentials) (*domain.Session, error) {
	return nil, ErrOffline
}

func (offlineGateway) Close(context.Context, *domain.Session) error {
	return ErrOffline
}

func (offlineGateway) ResolveCoordinator(context.Context, *domain.Session) (string, error) {
	return "", ErrOffline
}

// Runtime holds everything a command needs.
type Runtime struct {
	Config   *config.Config
	Level    *slog.LevelVar
	Logger   *slog.Logger
	Store    ports.SessionStore
	Manager  *session.Manager
	Registry *prometheus.Registry

	closers []io.Closer
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	gateway ports.Gateway
	logOut  io.Writer
}

// WithGateway replaces the offline gateway.
func WithGateway(g ports.Gateway) Option {
	return func(o *buildOptions) {
		o.gateway = g
	}
}

// WithLogOutput redirects logs, stderr by default.
func WithLogOutput(w io.Writer) Option {
	return func(o *buildOptions) {
		o.logOut = w
	}
}

// Build creates the store, locker, metrics and manager described by cfg.
func Build(cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := buildOptions{gateway: offlineGateway{}, logOut: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Level: new(slog.LevelVar), Registry: prometheus.NewRegistry()}
	rt.Level.Set(level)
	rt.Logger = logging.NewWithWriter(o.logOut, rt.Level, format)

	store, locker, err := rt.openStore()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Store = store

	metrics := observability.NewMetrics(rt.Registry)
	mgrOpts := []session.Option{
		session.WithPolicy(cfg.Pool),
		session.WithLogger(rt.Logger),
		session.WithHooks(observability.Chain(metrics.Hooks(), observability.LogHooks(rt.Logger))),
	}
	if locker != nil {
		mgrOpts = append(mgrOpts, session.WithLocker(locker), session.WithLockTTL(cfg.Store.Lock.TTL))
	}
	rt.Manager = session.NewManager(rt.Store, o.gateway, mgrOpts...)
	return rt, nil
}

func (rt *Runtime) openStore() (ports.SessionStore, ports.DistributedLocker, error) {
	cfg := rt.Config.Store
	var (
		store  ports.SessionStore
		locker ports.DistributedLocker
	)

	switch cfg.Backend {
	case config.BackendMemory:
		store = memory.NewStore()
	case config.BackendFile:
		store = file.New(cfg.File.Path)
	case config.BackendBolt:
		b, err := bolt.Open(cfg.Bolt.Path, cfg.Bolt.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		rt.closers = append(rt.closers, b)
		store = b
	case config.BackendRedis:
		r := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL),
		)
		rt.closers = append(rt.closers, r)
		store = r
		if cfg.Lock.Enabled {
			locker = redis.NewLocker(r.Client(), r.Prefix())
		}
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	mws := []middleware.Middleware{middleware.NewLoggingMiddleware(rt.Logger)}
	if cfg.SecretKey != "" {
		active, err := cfg.Keys()
		if err != nil {
			return nil, nil, err
		}
		fallbacks, err := cfg.Fallbacks()
		if err != nil {
			return nil, nil, err
		}
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallbacks})
		if err != nil {
			return nil, nil, err
		}
		mws = append(mws, enc)
	}
	return middleware.Chain(store, mws...), locker, nil
}

// Close releases the store connections.
func (rt *Runtime) Close() error {
	var errs []error
	for _, c := range rt.closers {
		errs = append(errs, c.Close())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
