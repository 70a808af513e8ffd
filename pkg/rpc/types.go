package rpc

import "fmt"

// StatusCode is the outcome reported by every remote call.
type StatusCode int32

const (
	StatusSuccess        StatusCode = 0
	StatusStillExecuting StatusCode = 2
	StatusError          StatusCode = 3
	StatusInvalidHandle  StatusCode = 4
)

func (c StatusCode) String() string {
	switch c {
	case StatusSuccess:
		return "SUCCESS"
	case StatusStillExecuting:
		return "STILL_EXECUTING"
	case StatusError:
		return "ERROR"
	case StatusInvalidHandle:
		return "INVALID_HANDLE"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(c))
	}
}

// Status accompanies every response.
type Status struct {
	StatusCode   StatusCode
	InfoMessages []string
	SQLState     string
	ErrorCode    int32
	ErrorMessage string
}

// Response is implemented by every RPC response type.
type Response interface {
	GetStatus() *Status
}

// ProtocolVersion identifies the negotiated client protocol.
type ProtocolVersion int32

// ProtocolV11 is the version requested by this client (wire value 10).
const ProtocolV11 ProtocolVersion = 10

// HandleIdentifier is the opaque identity the remote service assigns to sessions and operations.
type HandleIdentifier struct {
	GUID   []byte
	Secret []byte
}

// SessionHandle identifies a session on the remote service.
type SessionHandle struct {
	SessionID HandleIdentifier
}

// OperationType enumerates what produced an operation handle.
type OperationType int32

const (
	OperationExecuteStatement OperationType = iota
	OperationGetTypeInfo
	OperationGetCatalogs
	OperationGetSchemas
	OperationGetTables
	OperationGetTableTypes
	OperationGetColumns
	OperationGetFunctions
	OperationUnknown
)

// OperationHandle identifies a running or finished operation.
type OperationHandle struct {
	OperationID   HandleIdentifier
	OperationType OperationType
	HasResultSet  bool
}

// FetchOrientation selects the cursor movement of FetchResults.
type FetchOrientation int32

const (
	FetchNext FetchOrientation = iota
	FetchPrior
	FetchRelative
	FetchAbsolute
	FetchFirst
	FetchLast
)

// ColumnDesc describes one column of a result set.
type ColumnDesc struct {
	ColumnName string
	TypeName   string
	Comment    string
	Position   int32
}

// TableSchema is the result set metadata returned by GetResultSetMetadata.
type TableSchema struct {
	Columns []ColumnDesc
}

// Column is one column of a columnar row set, rendered as strings.
type Column struct {
	Values []string
	Nulls  []bool
}

// IsNull reports whether row i of the column is NULL.
func (c Column) IsNull(i int) bool {
	return i < len(c.Nulls) && c.Nulls[i]
}

// RowSet is a columnar batch of rows.
type RowSet struct {
	StartRowOffset int64
	Columns        []Column
}

// NumRows returns the number of rows in the batch.
func (r *RowSet) NumRows() int {
	if r == nil || len(r.Columns) == 0 {
		return 0
	}
	return len(r.Columns[0].Values)
}

// Rows transposes the columnar batch into rows.
func (r *RowSet) Rows() [][]string {
	n := r.NumRows()
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(r.Columns))
		for j, col := range r.Columns {
			if i < len(col.Values) {
				row[j] = col.Values[i]
			}
		}
		rows[i] = row
	}
	return rows
}
