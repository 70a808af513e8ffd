package bolt_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/hs2pool/pkg/adapters/bolt"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*bolt.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	store, err := bolt.Open(path, 0)
	require.NoError(t, err)
	return store, path
}

func TestBoltStore_Contract(t *testing.T) {
	store, _ := openStore(t)
	defer store.Close()

	ports.RunSessionStoreContract(t, store)
}

func TestBoltStore_Persistence(t *testing.T) {
	store, path := openStore(t)
	ctx := context.Background()

	sess := &domain.Session{
		GUID:        []byte("persisted"),
		Owner:       "hue",
		Application: "hive",
		Status:      domain.SessionOpen,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.Insert(ctx, sess))
	require.NoError(t, store.Close())

	reopened, err := bolt.Open(path, time.Second)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Get(ctx, sess.Key(), sess.ID())
	require.NoError(t, err)
	assert.Equal(t, sess.GUID, loaded.GUID)

	pools, err := reopened.Pools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hue@hive"}, pools)

	// Deleting the last record drops the pool bucket
	require.NoError(t, reopened.Delete(ctx, sess))
	pools, err = reopened.Pools(ctx)
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestBoltStore_LockTimeout(t *testing.T) {
	store, path := openStore(t)
	defer store.Close()

	// bbolt holds an exclusive file lock while open.
	_, err := bolt.Open(path, 50*time.Millisecond)
	assert.Error(t, err)
}
