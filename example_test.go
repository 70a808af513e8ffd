package hs2pool_test

import (
	"context"
	"fmt"

	"github.com/aretw0/hs2pool"
	"github.com/aretw0/hs2pool/internal/testutils"
	"github.com/aretw0/hs2pool/pkg/adapters/hiveserver"
	"github.com/aretw0/hs2pool/pkg/adapters/memory"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/session"
)

func Example() {
	ctx := context.Background()
	svc := testutils.NewFakeService()
	svc.Catalog["default"] = []testutils.Table{{Name: "events", Type: "TABLE"}, {Name: "users", Type: "TABLE"}}

	mgr := session.NewManager(memory.NewStore(), hiveserver.New(svc),
		session.WithPolicy(session.Policy{MaxSessions: 4}))
	client := hs2pool.New(svc, mgr, domain.PoolKey{Owner: "analyst", Application: "hive"})

	for i := 0; i < 3; i++ {
		tables, err := client.GetTablesMeta(ctx, "default", "%")
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println(len(tables), "tables")
	}
	fmt.Println("sessions opened:", svc.Opens())
	// Output:
	// 2 tables
	// 2 tables
	// 2 tables
	// sessions opened: 1
}

func ExampleClient_Pinned() {
	ctx := context.Background()
	svc := testutils.NewFakeService()
	mgr := session.NewManager(memory.NewStore(), hiveserver.New(svc),
		session.WithPolicy(session.Policy{MaxSessions: -1, CloseAfterCall: true}))
	client := hs2pool.New(svc, mgr, domain.PoolKey{Owner: "analyst", Application: "hive"})

	s, err := client.OpenSession(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	pinned := client.Pinned(s)
	_, _ = pinned.Execute(ctx, "SET hive.exec.dynamic.partition=true", 0)
	_, _ = pinned.Execute(ctx, "SELECT 1", 0)
	fmt.Println("open after two statements:", svc.OpenSessions())

	_ = client.CloseSession(ctx, s)
	fmt.Println("open after close:", svc.OpenSessions())
	// Output:
	// open after two statements: 1
	// open after close: 0
}
