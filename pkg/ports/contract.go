package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	newKey := func(name string) domain.PoolKey {
		return domain.PoolKey{Owner: "contract-" + name + "-" + suffix, Application: "hive"}
	}
	newSession := func(key domain.PoolKey, guid string, created time.Duration) *domain.Session {
		return &domain.Session{
			GUID:            []byte(guid),
			Secret:          []byte("secret-" + guid),
			Owner:           key.Owner,
			Application:     key.Application,
			Coordinator:     "hs2-host-1",
			ProtocolVersion: 10,
			Status:          domain.SessionOpen,
			CreatedAt:       base.Add(created),
			LastUsedAt:      base.Add(created),
		}
	}

	t.Run("Insert and Get", func(t *testing.T) {
		key := newKey("get")
		s := newSession(key, "g-1", 0)
		require.NoError(t, store.Insert(ctx, s), "Insert should not return error")

		loaded, err := store.Get(ctx, key, s.ID())
		require.NoError(t, err, "Get should not return error")
		assert.Equal(t, s.GUID, loaded.GUID)
		assert.Equal(t, s.Secret, loaded.Secret)
		assert.Equal(t, "hs2-host-1", loaded.Coordinator)
		assert.Equal(t, int32(10), loaded.ProtocolVersion)
		assert.True(t, s.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, newKey("missing"), "deadbeef")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Empty Pool", func(t *testing.T) {
		key := newKey("empty")
		count, err := store.CountActive(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		_, err = store.MostRecent(ctx, key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = store.LeastRecentlyUsedFree(ctx, key, 2)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		list, err := store.List(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("CountActive is scoped per key", func(t *testing.T) {
		key := newKey("count")
		other := domain.PoolKey{Owner: key.Owner, Application: "impala"}
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Insert(ctx, newSession(key, fmt.Sprintf("c-%d", i), time.Duration(i)*time.Second)))
		}
		require.NoError(t, store.Insert(ctx, newSession(other, "c-other", 0)))

		count, err := store.CountActive(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		count, err = store.CountActive(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("MostRecent", func(t *testing.T) {
		key := newKey("recent")
		require.NoError(t, store.Insert(ctx, newSession(key, "r-old", 0)))
		require.NoError(t, store.Insert(ctx, newSession(key, "r-new", time.Minute)))
		require.NoError(t, store.Insert(ctx, newSession(key, "r-mid", 30*time.Second)))

		s, err := store.MostRecent(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("r-new"), s.GUID)
	})

	t.Run("LeastRecentlyUsedFree", func(t *testing.T) {
		key := newKey("lru")
		a := newSession(key, "l-a", 0)
		b := newSession(key, "l-b", time.Second)
		c := newSession(key, "l-c", 2*time.Second)
		a.LastUsedAt = base.Add(time.Hour)
		b.LastUsedAt = base.Add(time.Minute)
		c.LastUsedAt = base
		for _, s := range []*domain.Session{a, b, c} {
			require.NoError(t, store.Insert(ctx, s))
		}

		// c is the least recently used but falls outside the first two.
		s, err := store.LeastRecentlyUsedFree(ctx, key, 2)
		require.NoError(t, err)
		assert.Equal(t, []byte("l-b"), s.GUID)

		s, err = store.LeastRecentlyUsedFree(ctx, key, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte("l-c"), s.GUID)

		// Lease a and b: nothing free among the first two.
		a.InUse = true
		b.InUse = true
		require.NoError(t, store.Update(ctx, a))
		require.NoError(t, store.Update(ctx, b))

		_, err = store.LeastRecentlyUsedFree(ctx, key, 2)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Closed sessions are not active", func(t *testing.T) {
		key := newKey("closed")
		s := newSession(key, "x-1", 0)
		require.NoError(t, store.Insert(ctx, s))

		s.Status = domain.SessionClosed
		require.NoError(t, store.Update(ctx, s))

		count, err := store.CountActive(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		_, err = store.MostRecent(ctx, key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		_, err = store.LeastRecentlyUsedFree(ctx, key, 0)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		key := newKey("update")
		s := newSession(key, "u-1", 0)
		require.NoError(t, store.Insert(ctx, s))

		s.InUse = true
		s.LastUsedAt = base.Add(time.Hour)
		require.NoError(t, store.Update(ctx, s))

		loaded, err := store.Get(ctx, key, s.ID())
		require.NoError(t, err)
		assert.True(t, loaded.InUse)
		assert.True(t, base.Add(time.Hour).Equal(loaded.LastUsedAt))

		missing := newSession(key, "u-missing", 0)
		assert.ErrorIs(t, store.Update(ctx, missing), domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		key := newKey("delete")
		s := newSession(key, "d-1", 0)
		require.NoError(t, store.Insert(ctx, s))

		require.NoError(t, store.Delete(ctx, s), "Delete should not return error")

		_, err := store.Get(ctx, key, s.ID())
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Get after Delete should return ErrSessionNotFound")

		count, err := store.CountActive(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		assert.NoError(t, store.Delete(ctx, s), "Deleting twice should be a no-op")
	})

	t.Run("List", func(t *testing.T) {
		key := newKey("list")
		require.NoError(t, store.Insert(ctx, newSession(key, "s-2", time.Second)))
		require.NoError(t, store.Insert(ctx, newSession(key, "s-1", 0)))

		sessions, err := store.List(ctx, key)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, []byte("s-1"), sessions[0].GUID)
		assert.Equal(t, []byte("s-2"), sessions[1].GUID)
	})
}
