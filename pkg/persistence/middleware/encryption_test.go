package middleware_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/aretw0/hs2pool/pkg/adapters/memory"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/persistence/middleware"
	"github.com/aretw0/hs2pool/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func newSession(guid string) *domain.Session {
	return &domain.Session{
		GUID:        []byte(guid),
		Secret:      []byte("my-secret-sauce"),
		Owner:       "hue",
		Application: "hive",
		Status:      domain.SessionOpen,
		CreatedAt:   time.Now(),
	}
}

func secure(t *testing.T, next ports.SessionStore, cfg middleware.EncryptionConfig) ports.SessionStore {
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return mw(next)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunSessionStoreContract(t, secure(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: generateKey(t)}))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	secureStore := secure(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: generateKey(t)})

	ctx := context.Background()
	original := newSession("test-session")

	// 1. Insert
	require.NoError(t, secureStore.Insert(ctx, original))
	assert.Equal(t, []byte("my-secret-sauce"), original.Secret, "Caller's session must not be modified")

	// 2. Verify Underlying Store directly (Should be sealed)
	stored, err := underlyingStore.Get(ctx, original.Key(), original.ID())
	require.NoError(t, err)
	assert.False(t, bytes.Contains(stored.Secret, []byte("my-secret-sauce")), "Expected secret to be hidden")

	// 3. Read via Middleware (Should be opened)
	for _, read := range []func() (*domain.Session, error){
		func() (*domain.Session, error) { return secureStore.Get(ctx, original.Key(), original.ID()) },
		func() (*domain.Session, error) { return secureStore.MostRecent(ctx, original.Key()) },
		func() (*domain.Session, error) { return secureStore.LeastRecentlyUsedFree(ctx, original.Key(), 0) },
	} {
		loaded, err := read()
		require.NoError(t, err)
		assert.Equal(t, []byte("my-secret-sauce"), loaded.Secret)
	}

	list, err := secureStore.List(ctx, original.Key())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []byte("my-secret-sauce"), list[0].Secret)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureStoreOld := secure(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: oldKey})
	ctx := context.Background()
	original := newSession("rotation-session")

	// 1. Insert with OLD key
	require.NoError(t, secureStoreOld.Insert(ctx, original))

	// 2. Read with NEW key (Active) + OLD key (Fallback)
	secureStoreNew := secure(t, underlyingStore, middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})
	loaded, err := secureStoreNew.Get(ctx, original.Key(), original.ID())
	require.NoError(t, err, "Read with rotated key failed")
	assert.Equal(t, original.Secret, loaded.Secret)

	// 3. Update (Should now seal with NEW key)
	loaded.InUse = true
	require.NoError(t, secureStoreNew.Update(ctx, loaded))

	// 4. Verify we CANNOT read with just OLD key anymore
	_, err = secureStoreOld.Get(ctx, original.Key(), original.ID())
	assert.Error(t, err, "Expected failure when reading new-key encryption with old-key middleware")
}

func TestEncryptionMiddleware_SecretBoundToSession(t *testing.T) {
	underlyingStore := memory.NewStore()
	secureStore := secure(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	a := newSession("session-a")
	require.NoError(t, secureStore.Insert(ctx, a))
	sealed, err := underlyingStore.Get(ctx, a.Key(), a.ID())
	require.NoError(t, err)

	// Transplant a's sealed secret into another record
	b := newSession("session-b")
	b.Secret = sealed.Secret
	require.NoError(t, underlyingStore.Insert(ctx, b))

	_, err = secureStore.Get(ctx, b.Key(), b.ID())
	assert.Error(t, err)
}

func TestEncryptionMiddleware_FailsOnPlainRecords(t *testing.T) {
	underlyingStore := memory.NewStore()
	secureStore := secure(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	plain := newSession("plain")
	require.NoError(t, underlyingStore.Insert(ctx, plain))

	_, err := secureStore.Get(ctx, plain.Key(), plain.ID())
	assert.ErrorIs(t, err, middleware.ErrUnsealedSecret)
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	assert.Error(t, err)
}
