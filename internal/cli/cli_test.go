package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/hs2pool/internal/config"
	"github.com/aretw0/hs2pool/internal/testutils"
	"github.com/aretw0/hs2pool/pkg/adapters/hiveserver"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = domain.PoolKey{Owner: "etl", Application: "hive"}

const secretKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func build(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogOutput(io.Discard)}, opts...)
	rt, err := Build(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestBuild_Backends(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		set  func(*config.Config)
	}{
		{"memory", func(c *config.Config) {}},
		{"file", func(c *config.Config) {
			c.Store.Backend = config.BackendFile
			c.Store.File.Path = filepath.Join(t.TempDir(), "sessions")
		}},
		{"bolt", func(c *config.Config) {
			c.Store.Backend = config.BackendBolt
			c.Store.Bolt.Path = filepath.Join(t.TempDir(), "sessions.db")
		}},
		{"redis with lock and encryption", func(c *config.Config) {
			c.Store.Backend = config.BackendRedis
			c.Store.Redis.Addr = mr.Addr()
			c.Store.Lock.Enabled = true
			c.Store.SecretKey = secretKey
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := config.Default()
			cfg.Pool.MaxSessions = 2
			tt.set(cfg)
			require.NoError(t, cfg.Validate())

			svc := testutils.NewFakeService()
			rt := build(t, cfg, WithGateway(hiveserver.New(svc)))

			lease, err := rt.Manager.Acquire(ctx, key)
			require.NoError(t, err)
			lease.Release(ctx)

			sessions, err := rt.Manager.Sessions(ctx, key)
			require.NoError(t, err)
			require.Len(t, sessions, 1)
			assert.Equal(t, lease.Session().Secret, sessions[0].Secret)
		})
	}
}

func TestBuild_SealsSecrets(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.Redis.Addr = mr.Addr()
	cfg.Store.SecretKey = secretKey

	svc := testutils.NewFakeService()
	rt := build(t, cfg, WithGateway(hiveserver.New(svc)))
	lease, err := rt.Manager.Acquire(ctx, key)
	require.NoError(t, err)
	lease.Release(ctx)

	raw, err := mr.Get("hs2pool:session:" + key.String() + ":" + lease.Session().ID())
	require.NoError(t, err)
	// "hs2s:v1:" marks a sealed secret; JSON carries bytes as base64.
	assert.Contains(t, raw, `"secret":"aHMyczp2MT`)
}

func TestSessionsCommands(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendFile
	cfg.Store.File.Path = filepath.Join(t.TempDir(), "sessions")

	svc := testutils.NewFakeService()
	online := build(t, cfg, WithGateway(hiveserver.New(svc)))
	a, err := online.Manager.Open(ctx, key)
	require.NoError(t, err)
	b, err := online.Manager.Open(ctx, key)
	require.NoError(t, err)

	// A second runtime over the same files, as a separate command would see it.
	rt := build(t, cfg)
	var out bytes.Buffer

	require.NoError(t, CountSessions(ctx, rt, key, &out))
	assert.Equal(t, "2\n", out.String())

	out.Reset()
	require.NoError(t, ListSessions(ctx, rt, key, &out, false))
	assert.Contains(t, out.String(), "COORDINATOR")
	assert.Contains(t, out.String(), a.ID())
	assert.Contains(t, out.String(), "hs2-fake:10000")

	out.Reset()
	require.NoError(t, ListSessions(ctx, rt, key, &out, true))
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &listed))
	assert.Len(t, listed, 2)

	out.Reset()
	require.NoError(t, InspectSession(ctx, rt, key, b.ID(), &out))
	assert.Contains(t, out.String(), b.ID())
	assert.NotContains(t, out.String(), "secret")

	out.Reset()
	err = RemoveSessions(ctx, rt, key, []string{a.ID(), "deadbeef"}, false, &out)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Contains(t, out.String(), "Removed session '"+a.ID()+"'")
	assert.Contains(t, out.String(), "Error removing 'deadbeef'")

	out.Reset()
	require.NoError(t, RemoveSessions(ctx, rt, key, []string{b.ID()}, true, &out))
	assert.Contains(t, out.String(), "remote close failed")

	out.Reset()
	require.NoError(t, ListSessions(ctx, rt, key, &out, false))
	assert.Contains(t, out.String(), "No sessions found")
	assert.Equal(t, 2, svc.OpenSessions(), "the offline runtime never reaches the service")
}

func TestServe(t *testing.T) {
	cfg := config.Default()
	rt := build(t, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, rt, ln, "") }()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(url + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestApplyLogLevel(t *testing.T) {
	rt := build(t, config.Default())
	cfg := config.Default()
	cfg.Log.Level = "debug"

	rt.applyLogLevel(cfg)
	assert.Equal(t, "DEBUG", rt.Level.Level().String())
}
