package hs2pool

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a metadata lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Execute runs statement and fetches up to maxRows rows (DefaultFetchSize
// when maxRows <= 0). The operation is closed before Execute returns.
func (c *Client) Execute(ctx context.Context, statement string, maxRows int64) (*ResultSet, error) {
	var rs *ResultSet
	used, err := c.run(ctx, "Execute", func(ctx context.Context, st *step) error {
		var err error
		rs, err = st.execute(ctx, statement, maxRows)
		return err
	})
	if err != nil {
		return nil, err
	}
	rs.Session = used
	return rs, nil
}

// Explain returns the plan of statement.
func (c *Client) Explain(ctx context.Context, statement string) (*ResultSet, error) {
	return c.Execute(ctx, "EXPLAIN "+statement, 0)
}
