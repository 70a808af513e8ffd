package hs2pool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/hs2pool"
	"github.com/aretw0/hs2pool/internal/testutils"
	"github.com/aretw0/hs2pool/pkg/adapters/hiveserver"
	"github.com/aretw0/hs2pool/pkg/adapters/memory"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/rpc"
	"github.com/aretw0/hs2pool/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = domain.PoolKey{Owner: "test_hive_server2_lib", Application: "hive"}

func newFixture() *testutils.FakeService {
	svc := testutils.NewFakeService()
	svc.Catalog["default"] = []testutils.Table{
		{
			Name: "events", Type: "TABLE", Comment: "raw events",
			Columns: []rpc.ColumnDesc{
				{ColumnName: "id", TypeName: "BIGINT"},
				{ColumnName: "payload", TypeName: "STRING", Comment: "json"},
			},
		},
		{Name: "events_v", Type: "VIEW"},
	}
	svc.Catalog["sales"] = nil

	svc.Statements["DESCRIBE DATABASE EXTENDED `default`"] = testutils.Result{
		Columns: []rpc.ColumnDesc{{ColumnName: "db_name"}, {ColumnName: "comment"}, {ColumnName: "location"}},
		Rows:    [][]string{{"default", "Default Hive database", "hdfs://nn/warehouse"}},
	}
	svc.Statements["SHOW TABLES IN `default`"] = testutils.Result{
		Columns: []rpc.ColumnDesc{{ColumnName: "tab_name"}},
		Rows:    [][]string{{"events"}, {"events_v"}},
	}
	svc.Statements["DESCRIBE FORMATTED `default`.`events`"] = testutils.Result{
		Columns: []rpc.ColumnDesc{{ColumnName: "col_name"}, {ColumnName: "data_type"}, {ColumnName: "comment"}},
		Rows: [][]string{
			{"id", "bigint", ""},
			{"payload", "string", "json"},
			{"# Partition Information", "", ""},
			{"dt", "string", ""},
		},
	}
	svc.Statements["SHOW PARTITIONS `default`.`events`"] = testutils.Result{
		Columns: []rpc.ColumnDesc{{ColumnName: "partition"}},
		Rows:    [][]string{{"dt=2024-01-01"}, {"dt=2024-01-02"}, {"dt=2024-01-03"}},
	}
	return svc
}

func newClient(svc *testutils.FakeService, policy session.Policy, opts ...hs2pool.Option) (*hs2pool.Client, *session.Manager) {
	mgr := session.NewManager(memory.NewStore(), hiveserver.New(svc), session.WithPolicy(policy))
	return hs2pool.New(svc, mgr, testKey, opts...), mgr
}

func TestClient_ManagedQueries(t *testing.T) {
	ctx := context.Background()
	svc := newFixture()
	client, _ := newClient(svc, session.Policy{MaxSessions: -1, CloseAfterCall: true})

	dbs, err := client.GetDatabases(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "sales"}, dbs)
	assert.Equal(t, 1, svc.Opens())
	assert.Equal(t, 1, svc.Closes())

	db, err := client.GetDatabase(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "hdfs://nn/warehouse", db["location"])
	assert.Equal(t, 2, svc.Opens())
	assert.Equal(t, 2, svc.Closes())

	meta, err := client.GetTablesMeta(ctx, "default", "%")
	require.NoError(t, err)
	assert.Equal(t, []hs2pool.TableMeta{
		{Name: "events", Type: "TABLE", Comment: "raw events"},
		{Name: "events_v", Type: "VIEW"},
	}, meta)
	assert.Equal(t, 3, svc.Opens())
	assert.Equal(t, 3, svc.Closes())

	tables, err := client.GetTables(ctx, "default", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"events", "events_v"}, tables)
	assert.Equal(t, 4, svc.Opens())
	assert.Equal(t, 4, svc.Closes())

	table, err := client.GetTable(ctx, "default", "events")
	require.NoError(t, err)
	assert.Len(t, table.Describe.Rows, 4)
	assert.Nil(t, table.Details)
	assert.Equal(t, 5, svc.Opens())
	assert.Equal(t, 5, svc.Closes())

	cols, err := client.GetColumns(ctx, "default", "events", "")
	require.NoError(t, err)
	assert.Equal(t, []hs2pool.Column{
		{Name: "id", Type: "BIGINT"},
		{Name: "payload", Type: "STRING", Comment: "json"},
	}, cols)
	assert.Equal(t, 6, svc.Opens())
	assert.Equal(t, 6, svc.Closes())

	parts, err := client.GetPartitions(ctx, "default", "events", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"dt=2024-01-01", "dt=2024-01-02"}, parts.Specs)
	assert.True(t, parts.HasMoreRows)
	assert.Equal(t, 8, svc.Opens())
	assert.Equal(t, 8, svc.Closes())

	assert.Zero(t, svc.OpenSessions())
	assert.Zero(t, svc.OpenOperations())
}

func TestClient_ReusesOneSession(t *testing.T) {
	ctx := context.Background()
	svc := newFixture()
	client, mgr := newClient(svc, session.Policy{MaxSessions: 1})

	for i := 0; i < 5; i++ {
		_, err := client.GetTables(ctx, "default", "")
		require.NoError(t, err)
	}
	_, err := client.GetColumns(ctx, "default", "events", "p%")
	require.NoError(t, err)

	assert.Equal(t, 1, svc.Opens())
	assert.Zero(t, svc.Closes())
	assert.Zero(t, svc.OpenOperations())

	sessions, err := mgr.Sessions(ctx, testKey)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].InUse)
}

func TestClient_OpenSession(t *testing.T) {
	ctx := context.Background()
	svc := newFixture()
	client, mgr := newClient(svc, session.DefaultPolicy())

	before, err := mgr.Store().CountActive(ctx, testKey)
	require.NoError(t, err)

	s, err := client.OpenSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, testKey.Owner, s.Owner)
	assert.Equal(t, "hs2-fake:10000", s.Coordinator)

	after, err := mgr.Store().CountActive(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	recent, err := mgr.Store().MostRecent(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, s.GUID, recent.GUID)

	// Pinned operations run on the opened session and leave it open.
	pinned := client.Pinned(s)
	rs, err := pinned.Execute(ctx, "SELECT 1", 0)
	require.NoError(t, err)
	assert.Equal(t, s.ID(), rs.Session.ID())
	_, err = pinned.GetDatabases(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Opens())
	assert.Equal(t, 1, svc.OpenSessions())

	require.NoError(t, client.CloseSession(ctx, s))
	assert.Zero(t, svc.OpenSessions())

	count, err := mgr.Store().CountActive(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, before, count)
}

func TestClient_PinnedSessionExpired(t *testing.T) {
	ctx := context.Background()
	svc := newFixture()
	client, _ := newClient(svc, session.DefaultPolicy())

	s, err := client.OpenSession(ctx)
	require.NoError(t, err)
	svc.Expire()

	_, err = client.Pinned(s).GetTables(ctx, "default", "")
	var remote *domain.RemoteOperationError
	require.ErrorAs(t, err, &remote)
	assert.True(t, remote.InvalidHandle())
	assert.Equal(t, 1, svc.Opens(), "explicit sessions are never replaced")
}

func TestClient_ExpiredPooledSessionIsReplaced(t *testing.T) {
	ctx := context.Background()
	svc := newFixture()
	client, mgr := newClient(svc, session.DefaultPolicy())

	_, err := client.GetTables(ctx, "default", "")
	require.NoError(t, err)
	svc.Expire()

	_, err = client.GetTables(ctx, "default", "")
	require.Error(t, err)

	count, err := mgr.Store().CountActive(ctx, testKey)
	require.NoError(t, err)
	assert.Zero(t, count, "an invalid handle is forgotten")

	_, err = client.GetTables(ctx, "default", "")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Opens())
}

func TestClient_StatementError(t *testing.T) {
	ctx := context.Background()
	svc := newFixture()
	svc.Statements["SELECT broken"] = testutils.Result{
		Status: &rpc.Status{StatusCode: rpc.StatusError, ErrorMessage: "ParseException", SQLState: "42000", ErrorCode: 40000},
	}
	client, _ := newClient(svc, session.Policy{MaxSessions: 2, CloseAfterCall: true})

	_, err := client.Execute(ctx, "SELECT broken", 0)
	var remote *domain.RemoteOperationError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Execute/ExecuteStatement", remote.Operation)
	assert.Equal(t, "42000", remote.SQLState)
	assert.Equal(t, 1, svc.Closes())
}

func TestClient_Explain(t *testing.T) {
	ctx := context.Background()
	svc := newFixture()
	svc.Statements["EXPLAIN SELECT * FROM events"] = testutils.Result{
		Columns: []rpc.ColumnDesc{{ColumnName: "Explain"}},
		Rows:    [][]string{{"STAGE DEPENDENCIES:"}, {"  Stage-0 is a root stage"}},
	}
	client, _ := newClient(svc, session.DefaultPolicy())

	rs, err := client.Explain(ctx, "SELECT * FROM events")
	require.NoError(t, err)
	assert.Equal(t, 0, rs.ColumnIndex("explain"))
	assert.Equal(t, []string{"STAGE DEPENDENCIES:", "  Stage-0 is a root stage"}, rs.Column(0))
	assert.Zero(t, svc.OpenOperations())
}

func TestClient_GetTablesQuotesPattern(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		statement string
	}{
		{"Plain", "ev%", `SHOW TABLES IN ` + "`default`" + ` LIKE 'ev%'`},
		{"Trailing backslash", `sales\`, `SHOW TABLES IN ` + "`default`" + ` LIKE 'sales\\'`},
		{"Quote", "o'brien", `SHOW TABLES IN ` + "`default`" + ` LIKE 'o\'brien'`},
		{"Escaped quote", `x\' OR '1'='1`, `SHOW TABLES IN ` + "`default`" + ` LIKE 'x\\\' OR \'1\'=\'1'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFixture()
			svc.Statements[tt.statement] = testutils.Result{
				Columns: []rpc.ColumnDesc{{ColumnName: "tab_name"}},
				Rows:    [][]string{{"matched"}},
			}
			client, _ := newClient(svc, session.DefaultPolicy())

			tables, err := client.GetTables(context.Background(), "default", tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, []string{"matched"}, tables, "statement sent: %s", tt.statement)
		})
	}
}

func TestClient_GetDatabaseNotFound(t *testing.T) {
	svc := newFixture()
	client, _ := newClient(svc, session.DefaultPolicy())

	_, err := client.GetDatabase(context.Background(), "missing")
	assert.ErrorIs(t, err, hs2pool.ErrNotFound)
}

type partitionParser struct {
	err error
}

func (p partitionParser) ParseDescribe(db, table string, rs *hs2pool.ResultSet) (*hs2pool.TableDetails, error) {
	if p.err != nil {
		return nil, p.err
	}
	details := &hs2pool.TableDetails{}
	target := &details.Columns
	for _, row := range rs.Rows {
		if row[0] == "# Partition Information" {
			target = &details.PartitionKeys
			continue
		}
		*target = append(*target, hs2pool.Column{Name: row[0], Type: row[1], Comment: row[2]})
	}
	return details, nil
}

func TestClient_DescribeParser(t *testing.T) {
	ctx := context.Background()
	svc := newFixture()

	client, _ := newClient(svc, session.DefaultPolicy(), hs2pool.WithDescribeParser(partitionParser{}))
	table, err := client.GetTable(ctx, "default", "events")
	require.NoError(t, err)
	require.NotNil(t, table.Details)
	assert.Len(t, table.Details.Columns, 2)
	assert.Equal(t, []hs2pool.Column{{Name: "dt", Type: "string"}}, table.Details.PartitionKeys)

	broken := errors.New("unexpected layout")
	client, _ = newClient(svc, session.DefaultPolicy(), hs2pool.WithDescribeParser(partitionParser{err: broken}))
	_, err = client.GetTable(ctx, "default", "events")
	assert.ErrorIs(t, err, broken)
}

func TestClient_Credentials(t *testing.T) {
	svc := newFixture()
	client, _ := newClient(svc, session.DefaultPolicy(), hs2pool.WithCredentials(domain.Credentials{
		Username:    "analyst",
		Impersonate: true,
	}))

	_, err := client.GetDatabases(context.Background(), "")
	require.NoError(t, err)

	reqs := svc.OpenRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "analyst", reqs[0].Username)
	assert.Equal(t, "analyst", reqs[0].Configuration[hiveserver.ProxyUserKey])
}

func TestClient_FetchSize(t *testing.T) {
	svc := newFixture()
	client, _ := newClient(svc, session.DefaultPolicy(), hs2pool.WithFetchSize(1))

	rs, err := client.Execute(context.Background(), "SHOW TABLES IN `default`", 0)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 1)
	assert.True(t, rs.HasMoreRows)
}
