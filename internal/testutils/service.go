// Package testutils provides an in-process fake of the remote SQL service.
package testutils

import (
	"context"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/hs2pool/pkg/rpc"
	"github.com/google/uuid"
)

// Result is what the fake returns for one operation.
type Result struct {
	Columns []rpc.ColumnDesc
	Rows    [][]string
	// Status, when set, is returned by the call that creates the operation.
	Status *rpc.Status
}

// Table is one entry of the fake catalog.
type Table struct {
	Name    string
	Type    string
	Comment string
	Columns []rpc.ColumnDesc
}

type operation struct {
	session string
	result  Result
	fetched bool
}

// FakeService implements rpc.Service and rpc.CoordinatorResolver in memory.
// Unknown session handles yield INVALID_HANDLE like a restarted server would.
type FakeService struct {
	mu         sync.Mutex
	sessions   map[string]bool
	operations map[string]*operation
	opens      int
	closes     int
	calls      []string
	openReqs   []*rpc.OpenSessionReq

	// Catalog maps database name to its tables.
	Catalog map[string][]Table
	// Statements maps a statement to its result. Unknown statements succeed with no rows.
	Statements map[string]Result
	// OpenErr fails every OpenSession call at the transport level.
	OpenErr error
	// Coordinator is reported by CoordinatorHost.
	Coordinator string
}

// NewFakeService creates an empty fake.
func NewFakeService() *FakeService {
	return &FakeService{
		sessions:    make(map[string]bool),
		operations:  make(map[string]*operation),
		Catalog:     make(map[string][]Table),
		Statements:  make(map[string]Result),
		Coordinator: "hs2-fake:10000",
	}
}

func success() *rpc.Status {
	return &rpc.Status{StatusCode: rpc.StatusSuccess}
}

func invalidHandle(what string) *rpc.Status {
	return &rpc.Status{StatusCode: rpc.StatusInvalidHandle, ErrorMessage: "Invalid " + what + " handle", SQLState: "HY000"}
}

func newHandle() rpc.HandleIdentifier {
	guid, secret := uuid.New(), uuid.New()
	return rpc.HandleIdentifier{GUID: guid[:], Secret: secret[:]}
}

// Opens returns how many sessions were opened.
func (f *FakeService) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Closes returns how many sessions were closed.
func (f *FakeService) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// OpenSessions returns how many sessions are currently open.
func (f *FakeService) OpenSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// OpenOperations returns how many operations were never closed.
func (f *FakeService) OpenOperations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.operations)
}

// Calls returns the RPC names received, in order.
func (f *FakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// OpenRequests returns every OpenSession request received.
func (f *FakeService) OpenRequests() []*rpc.OpenSessionReq {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*rpc.OpenSessionReq(nil), f.openReqs...)
}

// Expire forgets every session, as a server restart would.
func (f *FakeService) Expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = make(map[string]bool)
}

// validSession is called with mu held.
func (f *FakeService) validSession(h *rpc.SessionHandle) bool {
	return h != nil && f.sessions[hex.EncodeToString(h.SessionID.GUID)]
}

// startOperation is called with mu held.
func (f *FakeService) startOperation(h *rpc.SessionHandle, typ rpc.OperationType, res Result) (*rpc.Status, *rpc.OperationHandle) {
	if !f.validSession(h) {
		return invalidHandle("session"), nil
	}
	if res.Status != nil {
		return res.Status, nil
	}
	op := &rpc.OperationHandle{OperationID: newHandle(), OperationType: typ, HasResultSet: true}
	f.operations[hex.EncodeToString(op.OperationID.GUID)] = &operation{
		session: hex.EncodeToString(h.SessionID.GUID),
		result:  res,
	}
	return success(), op
}

// lookup is called with mu held.
func (f *FakeService) lookup(h *rpc.OperationHandle) (*operation, *rpc.Status) {
	if h == nil {
		return nil, invalidHandle("operation")
	}
	op, ok := f.operations[hex.EncodeToString(h.OperationID.GUID)]
	if !ok || !f.sessions[op.session] {
		return nil, invalidHandle("operation")
	}
	return op, nil
}

func (f *FakeService) OpenSession(ctx context.Context, req *rpc.OpenSessionReq) (*rpc.OpenSessionResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "OpenSession")
	f.openReqs = append(f.openReqs, req)
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := &rpc.SessionHandle{SessionID: newHandle()}
	f.sessions[hex.EncodeToString(h.SessionID.GUID)] = true
	f.opens++
	return &rpc.OpenSessionResp{
		Status:                success(),
		ServerProtocolVersion: req.ClientProtocol,
		SessionHandle:         h,
	}, nil
}

func (f *FakeService) CloseSession(ctx context.Context, req *rpc.CloseSessionReq) (*rpc.CloseSessionResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CloseSession")
	if !f.validSession(req.SessionHandle) {
		return &rpc.CloseSessionResp{Status: invalidHandle("session")}, nil
	}
	id := hex.EncodeToString(req.SessionHandle.SessionID.GUID)
	delete(f.sessions, id)
	for opID, op := range f.operations {
		if op.session == id {
			delete(f.operations, opID)
		}
	}
	f.closes++
	return &rpc.CloseSessionResp{Status: success()}, nil
}

func (f *FakeService) GetSchemas(ctx context.Context, req *rpc.GetSchemasReq) (*rpc.GetSchemasResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetSchemas")

	res := Result{Columns: []rpc.ColumnDesc{{ColumnName: "TABLE_SCHEM", TypeName: "STRING"}, {ColumnName: "TABLE_CATALOG", TypeName: "STRING"}}}
	for _, db := range f.sortedDatabases() {
		if Like(db, req.SchemaName) {
			res.Rows = append(res.Rows, []string{db, ""})
		}
	}
	st, op := f.startOperation(req.SessionHandle, rpc.OperationGetSchemas, res)
	return &rpc.GetSchemasResp{Status: st, OperationHandle: op}, nil
}

func (f *FakeService) GetTables(ctx context.Context, req *rpc.GetTablesReq) (*rpc.GetTablesResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetTables")

	res := Result{Columns: []rpc.ColumnDesc{
		{ColumnName: "TABLE_CAT"}, {ColumnName: "TABLE_SCHEM"}, {ColumnName: "TABLE_NAME"},
		{ColumnName: "TABLE_TYPE"}, {ColumnName: "REMARKS"},
	}}
	for _, t := range f.Catalog[req.SchemaName] {
		if Like(t.Name, req.TableName) {
			res.Rows = append(res.Rows, []string{"", req.SchemaName, t.Name, t.Type, t.Comment})
		}
	}
	st, op := f.startOperation(req.SessionHandle, rpc.OperationGetTables, res)
	return &rpc.GetTablesResp{Status: st, OperationHandle: op}, nil
}

func (f *FakeService) GetColumns(ctx context.Context, req *rpc.GetColumnsReq) (*rpc.GetColumnsResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetColumns")

	res := Result{Columns: []rpc.ColumnDesc{
		{ColumnName: "TABLE_SCHEM"}, {ColumnName: "TABLE_NAME"}, {ColumnName: "COLUMN_NAME"},
		{ColumnName: "TYPE_NAME"}, {ColumnName: "REMARKS"},
	}}
	for _, t := range f.Catalog[req.SchemaName] {
		if t.Name != req.TableName {
			continue
		}
		for _, c := range t.Columns {
			if Like(c.ColumnName, req.ColumnName) {
				res.Rows = append(res.Rows, []string{req.SchemaName, t.Name, c.ColumnName, c.TypeName, c.Comment})
			}
		}
	}
	st, op := f.startOperation(req.SessionHandle, rpc.OperationGetColumns, res)
	return &rpc.GetColumnsResp{Status: st, OperationHandle: op}, nil
}

func (f *FakeService) ExecuteStatement(ctx context.Context, req *rpc.ExecuteStatementReq) (*rpc.ExecuteStatementResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ExecuteStatement")

	st, op := f.startOperation(req.SessionHandle, rpc.OperationExecuteStatement, f.Statements[req.Statement])
	return &rpc.ExecuteStatementResp{Status: st, OperationHandle: op}, nil
}

func (f *FakeService) GetResultSetMetadata(ctx context.Context, req *rpc.GetResultSetMetadataReq) (*rpc.GetResultSetMetadataResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetResultSetMetadata")

	op, st := f.lookup(req.OperationHandle)
	if st != nil {
		return &rpc.GetResultSetMetadataResp{Status: st}, nil
	}
	return &rpc.GetResultSetMetadataResp{
		Status: success(),
		Schema: &rpc.TableSchema{Columns: append([]rpc.ColumnDesc(nil), op.result.Columns...)},
	}, nil
}

func (f *FakeService) FetchResults(ctx context.Context, req *rpc.FetchResultsReq) (*rpc.FetchResultsResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "FetchResults")

	op, st := f.lookup(req.OperationHandle)
	if st != nil {
		return &rpc.FetchResultsResp{Status: st}, nil
	}

	rows := op.result.Rows
	if op.fetched {
		rows = nil
	}
	hasMore := false
	if req.MaxRows > 0 && int64(len(rows)) > req.MaxRows {
		rows = rows[:req.MaxRows]
		hasMore = true
	}
	op.fetched = true

	return &rpc.FetchResultsResp{
		Status:      success(),
		HasMoreRows: hasMore,
		Results:     Columnar(len(op.result.Columns), rows),
	}, nil
}

func (f *FakeService) CloseOperation(ctx context.Context, req *rpc.CloseOperationReq) (*rpc.CloseOperationResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CloseOperation")

	if _, st := f.lookup(req.OperationHandle); st != nil {
		return &rpc.CloseOperationResp{Status: st}, nil
	}
	delete(f.operations, hex.EncodeToString(req.OperationHandle.OperationID.GUID))
	return &rpc.CloseOperationResp{Status: success()}, nil
}

// CoordinatorHost reports the configured coordinator for open sessions.
func (f *FakeService) CoordinatorHost(ctx context.Context, h *rpc.SessionHandle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.validSession(h) {
		return "", fmt.Errorf("unknown session")
	}
	return f.Coordinator, nil
}

// sortedDatabases is called with mu held.
func (f *FakeService) sortedDatabases() []string {
	dbs := make([]string, 0, len(f.Catalog))
	for db := range f.Catalog {
		dbs = append(dbs, db)
	}
	slices.Sort(dbs)
	return dbs
}

// Columnar turns rows into a columnar batch of width columns.
func Columnar(width int, rows [][]string) *rpc.RowSet {
	set := &rpc.RowSet{Columns: make([]rpc.Column, width)}
	for _, row := range rows {
		for j := 0; j < width; j++ {
			v := ""
			if j < len(row) {
				v = row[j]
			}
			set.Columns[j].Values = append(set.Columns[j].Values, v)
			set.Columns[j].Nulls = append(set.Columns[j].Nulls, false)
		}
	}
	return set
}

// Like matches SQL LIKE patterns with % and _ wildcards. Empty and "*" match everything.
func Like(s, pattern string) bool {
	if pattern == "" || pattern == "*" || pattern == "%" {
		return true
	}
	return like(strings.ToLower(s), strings.ToLower(pattern))
}

func like(s, p string) bool {
	for len(p) > 0 {
		switch p[0] {
		case '%':
			for i := 0; i <= len(s); i++ {
				if like(s[i:], p[1:]) {
					return true
				}
			}
			return false
		case '_':
			if len(s) == 0 {
				return false
			}
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
		}
		s, p = s[1:], p[1:]
	}
	return len(s) == 0
}
