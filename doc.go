/*
Package hs2pool is a client for HiveServer2-style SQL services that shares a
small number of remote sessions between many logical requests.

Every remote call runs inside a session. Sessions are expensive and limited
per principal, so a session.Manager decides for each call whether it reuses a
session the caller holds, reuses a stored one, or opens a new one, and whether
the session is closed afterwards. The Client in this package builds the usual
metadata and query operations (list databases, describe a table, run a
statement) on top of it, keeping every step of one operation on the same
session.

# Usage

	store := memory.NewStore()
	gateway := hiveserver.New(transport)
	manager := session.NewManager(store, gateway,
		session.WithPolicy(session.Policy{MaxSessions: 4}),
	)

	client := hs2pool.New(transport, manager, domain.PoolKey{Owner: "etl", Application: "hive"})

	dbs, err := client.GetDatabases(ctx, "sales_%")
	if err != nil {
		return err
	}

	rs, err := client.Execute(ctx, "SELECT count(*) FROM sales.orders", 100)

A caller that needs several statements on one session opens it explicitly and
pins the client to it:

	s, err := client.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer client.CloseSession(ctx, s)

	pinned := client.Pinned(s)
	_, err = pinned.Execute(ctx, "SET hive.exec.dynamic.partition=true", 0)

# Policies

session.Policy.MaxSessions bounds the open sessions of one (owner,
application) pair; calls beyond it fail with domain.ErrPoolExhausted instead of
waiting. session.Policy.CloseAfterCall closes every session as soon as the
operation that opened it completes.
*/
package hs2pool
