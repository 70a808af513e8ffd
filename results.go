package hs2pool

import (
	"strings"

	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/rpc"
)

// ResultSet is the fetched part of an operation's result.
type ResultSet struct {
	Columns     []rpc.ColumnDesc
	Rows        [][]string
	HasMoreRows bool

	// Session is the session the operation ran on. Pin follow-up work to it
	// with Client.Pinned while it is still open.
	Session *domain.Session
}

// ColumnIndex returns the position of the named column, or -1.
func (rs *ResultSet) ColumnIndex(name string) int {
	for i, c := range rs.Columns {
		if strings.EqualFold(c.ColumnName, name) {
			return i
		}
	}
	return -1
}

// Column returns every value of column i.
func (rs *ResultSet) Column(i int) []string {
	out := make([]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if i >= 0 && i < len(row) {
			out = append(out, row[i])
		}
	}
	return out
}

// Column describes one column of a table.
type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment,omitempty"`
}

// TableMeta is one row of GetTablesMeta.
type TableMeta struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment,omitempty"`
}

// TableDetails is what a DescribeParser extracts from DESCRIBE FORMATTED.
type TableDetails struct {
	Columns       []Column          `json:"columns"`
	PartitionKeys []Column          `json:"partition_keys,omitempty"`
	PrimaryKeys   []Column          `json:"primary_keys,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// DescribeParser turns the raw DESCRIBE FORMATTED result of a table into
// structured details. The output format differs between engines and
// versions, so the client only transports it.
type DescribeParser interface {
	ParseDescribe(database, table string, describe *ResultSet) (*TableDetails, error)
}

// Table is the result of GetTable.
type Table struct {
	Database string
	Name     string

	// Describe is the raw DESCRIBE FORMATTED output.
	Describe *ResultSet
	// Details is set when the client has a DescribeParser.
	Details *TableDetails
}

// Partitions is the result of GetPartitions.
type Partitions struct {
	Table *Table
	// Specs are partition specs such as "date=2024-01-01/country=br".
	Specs       []string
	HasMoreRows bool
}
