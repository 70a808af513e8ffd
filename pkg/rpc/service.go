/*
Package rpc defines the Go surface of the remote SQL service protocol.

The request/response types mirror the service's session-scoped calls. Wire
encoding lives in a transport that implements Service; this module only
consumes the interface.
*/
package rpc

import "context"

// Service is the remote SQL-execution service.
// Every call is synchronous and honours the deadline carried by ctx.
type Service interface {
	OpenSession(ctx context.Context, req *OpenSessionReq) (*OpenSessionResp, error)
	CloseSession(ctx context.Context, req *CloseSessionReq) (*CloseSessionResp, error)

	GetSchemas(ctx context.Context, req *GetSchemasReq) (*GetSchemasResp, error)
	GetTables(ctx context.Context, req *GetTablesReq) (*GetTablesResp, error)
	GetColumns(ctx context.Context, req *GetColumnsReq) (*GetColumnsResp, error)

	ExecuteStatement(ctx context.Context, req *ExecuteStatementReq) (*ExecuteStatementResp, error)
	GetResultSetMetadata(ctx context.Context, req *GetResultSetMetadataReq) (*GetResultSetMetadataResp, error)
	FetchResults(ctx context.Context, req *FetchResultsReq) (*FetchResultsResp, error)
	CloseOperation(ctx context.Context, req *CloseOperationReq) (*CloseOperationResp, error)
}

// CoordinatorResolver is implemented by transports that load-balance across
// several backend hosts and can report which one served the last session open.
type CoordinatorResolver interface {
	CoordinatorHost(ctx context.Context, handle *SessionHandle) (string, error)
}
