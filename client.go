package hs2pool

import (
	"context"
	"log/slog"

	"github.com/aretw0/hs2pool/internal/logging"
	"github.com/aretw0/hs2pool/pkg/adapters/hiveserver"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/rpc"
	"github.com/aretw0/hs2pool/pkg/session"
)

// DefaultFetchSize caps the rows fetched by metadata operations.
const DefaultFetchSize = 10000

// Client runs metadata and query operations for one pool key.
type Client struct {
	service   rpc.Service
	manager   *session.Manager
	key       domain.PoolKey
	creds     *domain.Credentials
	parser    DescribeParser
	fetchSize int64
	logger    *slog.Logger

	// pinned, when set, runs every operation on this session.
	pinned *domain.Session
}

// Option defines a functional option for configuring the Client.
type Option func(*Client)

// WithCredentials sets the credentials used when a session must be opened.
func WithCredentials(creds domain.Credentials) Option {
	return func(c *Client) {
		c.creds = &creds
	}
}

// WithDescribeParser sets the parser GetTable hands DESCRIBE FORMATTED output to.
func WithDescribeParser(p DescribeParser) Option {
	return func(c *Client) {
		c.parser = p
	}
}

// WithFetchSize overrides DefaultFetchSize.
func WithFetchSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.fetchSize = n
		}
	}
}

// WithLogger sets a custom structured logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client that sends RPCs to service on sessions chosen by manager.
func New(service rpc.Service, manager *session.Manager, key domain.PoolKey, opts ...Option) *Client {
	c := &Client{
		service:   service,
		manager:   manager,
		key:       key,
		fetchSize: DefaultFetchSize,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("pool", key.String())
	return c
}

// Key returns the pool key of the client.
func (c *Client) Key() domain.PoolKey {
	return c.key
}

// Pinned returns a copy of the client that runs every operation on s.
// The copy never opens or closes sessions.
func (c *Client) Pinned(s *domain.Session) *Client {
	cp := *c
	cp.pinned = s
	return &cp
}

// OpenSession opens a session the caller keeps across operations. Use it
// with Pinned and release it with CloseSession.
func (c *Client) OpenSession(ctx context.Context) (*domain.Session, error) {
	return c.manager.Open(ctx, c.key, c.callOptions()...)
}

// CloseSession closes a session returned by OpenSession and removes its record.
func (c *Client) CloseSession(ctx context.Context, s *domain.Session) error {
	return c.manager.Close(ctx, s)
}

func (c *Client) callOptions() []session.CallOption {
	var opts []session.CallOption
	if c.pinned != nil {
		opts = append(opts, session.WithSession(c.pinned))
	}
	if c.creds != nil {
		opts = append(opts, session.WithCredentials(*c.creds))
	}
	return opts
}

// run holds one lease for all steps of a composite operation.
func (c *Client) run(ctx context.Context, name string, fn func(ctx context.Context, st *step) error) (*domain.Session, error) {
	lease, err := c.manager.Acquire(ctx, c.key, c.callOptions()...)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	st := &step{c: c, lease: lease, name: name}
	if err := fn(ctx, st); err != nil {
		return lease.Session(), err
	}
	return lease.Session(), nil
}

// step issues the RPCs of one composite operation on its lease.
type step struct {
	c     *Client
	lease *session.Lease
	name  string
}

func (st *step) handle() *rpc.SessionHandle {
	return hiveserver.Handle(st.lease.Session())
}

// fetch reads up to maxRows rows of op, with its schema when withSchema is
// set, and always closes the operation.
func (st *step) fetch(ctx context.Context, op *rpc.OperationHandle, maxRows int64, withSchema bool) (*ResultSet, error) {
	if op == nil {
		return &ResultSet{}, nil
	}
	defer st.closeOperation(ctx, op)

	rs := &ResultSet{}
	if withSchema {
		meta, err := session.Invoke(ctx, st.lease, func(ctx context.Context, _ *domain.Session) (*rpc.GetResultSetMetadataResp, error) {
			return st.c.service.GetResultSetMetadata(ctx, &rpc.GetResultSetMetadataReq{OperationHandle: op})
		}, st.name+"/GetResultSetMetadata")
		if err != nil {
			return nil, err
		}
		if meta.Schema != nil {
			rs.Columns = meta.Schema.Columns
		}
	}

	if maxRows <= 0 {
		maxRows = st.c.fetchSize
	}
	res, err := session.Invoke(ctx, st.lease, func(ctx context.Context, _ *domain.Session) (*rpc.FetchResultsResp, error) {
		return st.c.service.FetchResults(ctx, &rpc.FetchResultsReq{
			OperationHandle: op,
			Orientation:     rpc.FetchNext,
			MaxRows:         maxRows,
		})
	}, st.name+"/FetchResults")
	if err != nil {
		return nil, err
	}
	rs.Rows = res.Results.Rows()
	rs.HasMoreRows = res.HasMoreRows
	return rs, nil
}

// closeOperation is best effort: the rows are already read.
func (st *step) closeOperation(ctx context.Context, op *rpc.OperationHandle) {
	_, err := session.Invoke(context.WithoutCancel(ctx), st.lease, func(ctx context.Context, _ *domain.Session) (*rpc.CloseOperationResp, error) {
		return st.c.service.CloseOperation(ctx, &rpc.CloseOperationReq{OperationHandle: op})
	}, st.name+"/CloseOperation")
	if err != nil {
		st.c.logger.Warn("Failed to close operation", "op", st.name, "session_id", st.lease.Session().ID(), "err", err)
	}
}

// execute runs statement and returns its result set.
func (st *step) execute(ctx context.Context, statement string, maxRows int64) (*ResultSet, error) {
	resp, err := session.Invoke(ctx, st.lease, func(ctx context.Context, _ *domain.Session) (*rpc.ExecuteStatementResp, error) {
		return st.c.service.ExecuteStatement(ctx, &rpc.ExecuteStatementReq{
			SessionHandle: st.handle(),
			Statement:     statement,
		})
	}, st.name+"/ExecuteStatement")
	if err != nil {
		return nil, err
	}
	if resp.OperationHandle == nil || !resp.OperationHandle.HasResultSet {
		if resp.OperationHandle != nil {
			st.closeOperation(ctx, resp.OperationHandle)
		}
		return &ResultSet{}, nil
	}
	return st.fetch(ctx, resp.OperationHandle, maxRows, true)
}
