// Package hiveserver implements ports.Gateway on top of an rpc.Service.
package hiveserver

import (
	"context"
	"errors"
	"log/slog"
	"maps"

	"github.com/aretw0/hs2pool/internal/logging"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/rpc"
	"github.com/aretw0/hs2pool/pkg/session"
)

// ProxyUserKey is the session configuration key that asks the service to run
// the session as another user.
const ProxyUserKey = "hive.server2.proxy.user"

// Gateway opens and closes remote sessions.
type Gateway struct {
	service     rpc.Service
	protocol    rpc.ProtocolVersion
	config      map[string]string
	coordinator string
	logger      *slog.Logger
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithProtocol overrides the client protocol sent on open.
func WithProtocol(v rpc.ProtocolVersion) Option {
	return func(g *Gateway) {
		g.protocol = v
	}
}

// WithConfiguration sets session configuration sent on every open.
// Per-call credentials take precedence.
func WithConfiguration(conf map[string]string) Option {
	return func(g *Gateway) {
		g.config = maps.Clone(conf)
	}
}

// WithCoordinator sets the host reported when the service cannot tell which
// backend served a session.
func WithCoordinator(host string) Option {
	return func(g *Gateway) {
		g.coordinator = host
	}
}

// WithLogger configures a logger for the Gateway.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New creates a Gateway over service.
func New(service rpc.Service, opts ...Option) *Gateway {
	g := &Gateway{
		service:  service,
		protocol: rpc.ProtocolV11,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle builds the wire handle of a session.
func Handle(s *domain.Session) *rpc.SessionHandle {
	return &rpc.SessionHandle{SessionID: rpc.HandleIdentifier{GUID: s.GUID, Secret: s.Secret}}
}

// Open calls OpenSession and returns the new session. Owner, application and
// timestamps are filled in by the session manager.
func (g *Gateway) Open(ctx context.Context, key domain.PoolKey, creds domain.Credentials) (*domain.Session, error) {
	conf := maps.Clone(g.config)
	if conf == nil {
		conf = make(map[string]string)
	}
	maps.Copy(conf, creds.Configuration)
	if creds.Impersonate {
		conf[ProxyUserKey] = creds.Username
	}

	req := &rpc.OpenSessionReq{
		ClientProtocol: g.protocol,
		Username:       creds.Username,
		Password:       creds.Password,
		Configuration:  conf,
	}
	resp, err := g.service.OpenSession(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := session.CheckStatus("OpenSession", resp.GetStatus()); err != nil {
		return nil, err
	}
	if resp.SessionHandle == nil || len(resp.SessionHandle.SessionID.GUID) == 0 {
		return nil, errors.New("OpenSession returned no session handle")
	}

	id := resp.SessionHandle.SessionID
	if resp.ServerProtocolVersion != g.protocol {
		g.logger.Debug("Server negotiated a different protocol",
			"pool", key.String(),
			"requested", int32(g.protocol),
			"negotiated", int32(resp.ServerProtocolVersion),
		)
	}
	return &domain.Session{
		GUID:            append([]byte(nil), id.GUID...),
		Secret:          append([]byte(nil), id.Secret...),
		ProtocolVersion: int32(resp.ServerProtocolVersion),
	}, nil
}

// Close calls CloseSession. A non-success status is an error.
func (g *Gateway) Close(ctx context.Context, s *domain.Session) error {
	resp, err := g.service.CloseSession(ctx, &rpc.CloseSessionReq{SessionHandle: Handle(s)})
	if err != nil {
		return err
	}
	return session.CheckStatus("CloseSession", resp.GetStatus())
}

// ResolveCoordinator asks the transport which backend host serves the
// session, falling back to the configured coordinator.
func (g *Gateway) ResolveCoordinator(ctx context.Context, s *domain.Session) (string, error) {
	if r, ok := g.service.(rpc.CoordinatorResolver); ok {
		return r.CoordinatorHost(ctx, Handle(s))
	}
	return g.coordinator, nil
}
