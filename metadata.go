package hs2pool

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/rpc"
	"github.com/aretw0/hs2pool/pkg/session"
)

// quoteIdent backquotes an identifier for HiveQL.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// quoteString single-quotes a literal for HiveQL. Backslashes are escaped so
// a trailing one cannot swallow the closing quote.
func quoteString(s string) string {
	return "'" + stringEscaper.Replace(s) + "'"
}

// GetDatabases lists databases whose name matches the SQL LIKE pattern.
// An empty pattern matches everything.
func (c *Client) GetDatabases(ctx context.Context, pattern string) ([]string, error) {
	var dbs []string
	_, err := c.run(ctx, "GetDatabases", func(ctx context.Context, st *step) error {
		resp, err := session.Invoke(ctx, st.lease, func(ctx context.Context, _ *domain.Session) (*rpc.GetSchemasResp, error) {
			return c.service.GetSchemas(ctx, &rpc.GetSchemasReq{SessionHandle: st.handle(), SchemaName: pattern})
		}, "GetDatabases/GetSchemas")
		if err != nil {
			return err
		}
		rs, err := st.fetch(ctx, resp.OperationHandle, 0, false)
		if err != nil {
			return err
		}
		dbs = rs.Column(0)
		return nil
	})
	return dbs, err
}

// GetDatabase returns the properties DESCRIBE DATABASE EXTENDED reports for
// db, keyed by column name (db_name, comment, location, owner_name...).
func (c *Client) GetDatabase(ctx context.Context, db string) (map[string]string, error) {
	props := map[string]string{}
	_, err := c.run(ctx, "GetDatabase", func(ctx context.Context, st *step) error {
		rs, err := st.execute(ctx, "DESCRIBE DATABASE EXTENDED "+quoteIdent(db), 0)
		if err != nil {
			return err
		}
		if len(rs.Rows) == 0 {
			return fmt.Errorf("database %s: %w", db, ErrNotFound)
		}
		for i, col := range rs.Columns {
			if i < len(rs.Rows[0]) {
				props[col.ColumnName] = rs.Rows[0][i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}

// GetTablesMeta lists the tables of db matching the LIKE pattern with their
// type and comment.
func (c *Client) GetTablesMeta(ctx context.Context, db, pattern string) ([]TableMeta, error) {
	var tables []TableMeta
	_, err := c.run(ctx, "GetTablesMeta", func(ctx context.Context, st *step) error {
		resp, err := session.Invoke(ctx, st.lease, func(ctx context.Context, _ *domain.Session) (*rpc.GetTablesResp, error) {
			return c.service.GetTables(ctx, &rpc.GetTablesReq{
				SessionHandle: st.handle(),
				SchemaName:    db,
				TableName:     pattern,
			})
		}, "GetTablesMeta/GetTables")
		if err != nil {
			return err
		}
		rs, err := st.fetch(ctx, resp.OperationHandle, 0, false)
		if err != nil {
			return err
		}
		// TABLE_CAT, TABLE_SCHEM, TABLE_NAME, TABLE_TYPE, REMARKS
		for _, row := range rs.Rows {
			if len(row) < 5 {
				continue
			}
			tables = append(tables, TableMeta{Name: row[2], Type: row[3], Comment: row[4]})
		}
		return nil
	})
	return tables, err
}

// GetTables lists table names of db through SHOW TABLES.
func (c *Client) GetTables(ctx context.Context, db, pattern string) ([]string, error) {
	statement := "SHOW TABLES IN " + quoteIdent(db)
	if pattern != "" {
		statement += " LIKE " + quoteString(pattern)
	}

	var tables []string
	_, err := c.run(ctx, "GetTables", func(ctx context.Context, st *step) error {
		rs, err := st.execute(ctx, statement, 0)
		if err != nil {
			return err
		}
		tables = rs.Column(0)
		return nil
	})
	return tables, err
}

// GetTable runs DESCRIBE FORMATTED on the table and, when the client has a
// DescribeParser, parses the output.
func (c *Client) GetTable(ctx context.Context, db, table string) (*Table, error) {
	t := &Table{Database: db, Name: table}
	used, err := c.run(ctx, "GetTable", func(ctx context.Context, st *step) error {
		rs, err := st.execute(ctx, "DESCRIBE FORMATTED "+quoteIdent(db)+"."+quoteIdent(table), 0)
		if err != nil {
			return err
		}
		t.Describe = rs
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.Describe.Session = used

	if c.parser != nil {
		details, err := c.parser.ParseDescribe(db, table, t.Describe)
		if err != nil {
			return nil, fmt.Errorf("failed to parse description of %s.%s: %w", db, table, err)
		}
		t.Details = details
	}
	return t, nil
}

// GetColumns lists the columns of a table matching the LIKE pattern.
func (c *Client) GetColumns(ctx context.Context, db, table, pattern string) ([]Column, error) {
	var cols []Column
	_, err := c.run(ctx, "GetColumns", func(ctx context.Context, st *step) error {
		resp, err := session.Invoke(ctx, st.lease, func(ctx context.Context, _ *domain.Session) (*rpc.GetColumnsResp, error) {
			return c.service.GetColumns(ctx, &rpc.GetColumnsReq{
				SessionHandle: st.handle(),
				SchemaName:    db,
				TableName:     table,
				ColumnName:    pattern,
			})
		}, "GetColumns/GetColumns")
		if err != nil {
			return err
		}
		rs, err := st.fetch(ctx, resp.OperationHandle, 0, false)
		if err != nil {
			return err
		}
		// TABLE_SCHEM, TABLE_NAME, COLUMN_NAME, TYPE_NAME, REMARKS
		for _, row := range rs.Rows {
			if len(row) < 5 {
				continue
			}
			cols = append(cols, Column{Name: row[2], Type: row[3], Comment: row[4]})
		}
		return nil
	})
	return cols, err
}

// GetPartitions describes the table and then lists up to limit of its
// partitions. The two stages are independent calls, each with its own session
// decision.
func (c *Client) GetPartitions(ctx context.Context, db, table string, limit int64) (*Partitions, error) {
	t, err := c.GetTable(ctx, db, table)
	if err != nil {
		return nil, err
	}

	p := &Partitions{Table: t}
	_, err = c.run(ctx, "GetPartitions", func(ctx context.Context, st *step) error {
		rs, err := st.execute(ctx, "SHOW PARTITIONS "+quoteIdent(db)+"."+quoteIdent(table), limit)
		if err != nil {
			return err
		}
		p.Specs = rs.Column(0)
		p.HasMoreRows = rs.HasMoreRows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
