package rpc

type OpenSessionReq struct {
	ClientProtocol ProtocolVersion
	Username       string
	Password       string
	Configuration  map[string]string
}

type OpenSessionResp struct {
	Status                *Status
	ServerProtocolVersion ProtocolVersion
	SessionHandle         *SessionHandle
	Configuration         map[string]string
}

func (r *OpenSessionResp) GetStatus() *Status {
	if r == nil {
		return nil
	}
	return r.Status
}

type CloseSessionReq struct {
	SessionHandle *SessionHandle
}

type CloseSessionResp struct {
	Status *Status
}

func (r *CloseSessionResp) GetStatus() *Status {
	if r == nil {
		return nil
	}
	return r.Status
}

type GetSchemasReq struct {
	SessionHandle *SessionHandle
	CatalogName   string
	SchemaName    string
}

type GetSchemasResp struct {
	Status          *Status
	OperationHandle *OperationHandle
}

func (r *GetSchemasResp) GetStatus() *Status {
	if r == nil {
		return nil
	}
	return r.Status
}

type GetTablesReq struct {
	SessionHandle *SessionHandle
	CatalogName   string
	SchemaName    string
	TableName     string
	TableTypes    []string
}

type GetTablesResp struct {
	Status          *Status
	OperationHandle *OperationHandle
}

func (r *GetTablesResp) GetStatus() *Status {
	if r == nil {
		return nil
	}
	return r.Status
}

type GetColumnsReq struct {
	SessionHandle *SessionHandle
	CatalogName   string
	SchemaName    string
	TableName     string
	ColumnName    string
}

type GetColumnsResp struct {
	Status          *Status
	OperationHandle *OperationHandle
}

func (r *GetColumnsResp) GetStatus() *Status {
	if r == nil {
		return nil
	}
	return r.Status
}

type ExecuteStatementReq struct {
	SessionHandle *SessionHandle
	Statement     string
	ConfOverlay   map[string]string
	RunAsync      bool
}

type ExecuteStatementResp struct {
	Status          *Status
	OperationHandle *OperationHandle
}

func (r *ExecuteStatementResp) GetStatus() *Status {
	if r == nil {
		return nil
	}
	return r.Status
}

type GetResultSetMetadataReq struct {
	OperationHandle *OperationHandle
}

type GetResultSetMetadataResp struct {
	Status *Status
	Schema *TableSchema
}

func (r *GetResultSetMetadataResp) GetStatus() *Status {
	if r == nil {
		return nil
	}
	return r.Status
}

type FetchResultsReq struct {
	OperationHandle *OperationHandle
	Orientation     FetchOrientation
	MaxRows         int64
}

type FetchResultsResp struct {
	Status      *Status
	HasMoreRows bool
	Results     *RowSet
}

func (r *FetchResultsResp) GetStatus() *Status {
	if r == nil {
		return nil
	}
	return r.Status
}

type CloseOperationReq struct {
	OperationHandle *OperationHandle
}

type CloseOperationResp struct {
	Status *Status
}

func (r *CloseOperationResp) GetStatus() *Status {
	if r == nil {
		return nil
	}
	return r.Status
}
