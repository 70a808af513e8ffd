package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/hs2pool/internal/testutils"
	"github.com/aretw0/hs2pool/pkg/adapters/hiveserver"
	"github.com/aretw0/hs2pool/pkg/adapters/redis"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/ports"
	"github.com/aretw0/hs2pool/pkg/rpc"
	"github.com/aretw0/hs2pool/pkg/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(guid string) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		GUID:        []byte(guid),
		Secret:      []byte("secret"),
		Owner:       "hue",
		Application: "hive",
		Status:      domain.SessionOpen,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
}

func TestRedisStore_Contract(t *testing.T) {
	// Setup miniredis
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	// Initialize client
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})

	// Run contract
	store := redis.NewFromClient(client)
	ports.RunSessionStoreContract(t, store)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})

	// Create store with 1s TTL
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	sess := newSession("ttl-1")
	key := sess.Key()

	// 1. Insert
	require.NoError(t, store.Insert(ctx, sess))

	// 2. Verify count (immediately)
	count, err := store.CountActive(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 3. Fast Forward time in miniredis (for Key Expiration)
	mr.FastForward(2 * time.Second)

	// 4. Verify Get (should fail)
	_, err = store.Get(ctx, key, sess.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// 5. Verify List prunes the index
	sessions, err := store.List(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.False(t, mr.Exists("hs2pool:index:hue@hive"), "Expected index to be pruned")

	// 6. Update of an expired record is refused
	assert.ErrorIs(t, store.Update(ctx, sess), domain.ErrSessionNotFound)
}

func TestRedisStore_LeaseOutlivesTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client, redis.WithTTL(time.Second))
	svc := testutils.NewFakeService()
	mgr := session.NewManager(store, hiveserver.New(svc), session.WithPolicy(session.Policy{MaxSessions: 1}))
	key := domain.PoolKey{Owner: "hue", Application: "hive"}
	ctx := context.Background()

	slow := func(ctx context.Context, s *domain.Session) (*rpc.ExecuteStatementResp, error) {
		mr.FastForward(2 * time.Second)
		return &rpc.ExecuteStatementResp{Status: &rpc.Status{StatusCode: rpc.StatusSuccess}}, nil
	}
	_, _, err = session.Call(ctx, mgr, key, slow)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.Opens())
	assert.Equal(t, 1, svc.Closes(), "expired session is closed instead of leaked")
	assert.Zero(t, svc.OpenSessions())

	_, _, err = session.Call(ctx, mgr, key, slow)
	require.NoError(t, err, "the slot is free again")
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})

	// Custom Prefix
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()
	sess := newSession("prefixed")

	require.NoError(t, store.Insert(ctx, sess))

	// Verify keys in Redis directly
	exists := mr.Exists("custom:app:session:hue@hive:" + sess.ID())
	assert.True(t, exists, "Expected key with custom prefix to exist")

	existsIndex := mr.Exists("custom:app:index:hue@hive")
	assert.True(t, existsIndex, "Expected index with custom prefix to exist")

	list, err := store.List(ctx, sess.Key())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID(), list[0].ID())
}

func TestRedisStore_InsertRequiresGUID(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store := redis.NewFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}))
	assert.Error(t, store.Insert(context.Background(), &domain.Session{Owner: "hue", Application: "hive"}))
}
