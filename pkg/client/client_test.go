package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/kestrel/pkg/api/httpgw"
	"github.com/cuemby/kestrel/pkg/config"
	"github.com/cuemby/kestrel/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient starts a real httpgw.Gateway on a loopback port backed
// by a fresh kernel, and returns a Client pointed at it. httpgw.Gateway
// only exposes Start/Shutdown (not http.Handler), so an actual listener
// is required rather than httptest.NewServer.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.EventsDB = filepath.Join(dir, "events")
	cfg.VaultDB = filepath.Join(dir, "vault")
	cfg.CertDir = filepath.Join(dir, "certs")
	cfg.HTTPPort = 0

	k, err := kernel.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = k.Shutdown(ctx, 0)
	})

	gw := httpgw.New(k)
	addr := "127.0.0.1:18080"
	go func() { _ = gw.Start(addr) }()
	t.Cleanup(func() { _ = gw.Shutdown() })

	require.Eventually(t, func() bool {
		c := New("http://"+addr, "acme")
		_, err := c.Health(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	return New("http://"+addr, "acme")
}

func TestClientDeployStatusKill(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.Deploy(context.Background(), "echo", "function handle(m){return m;}", "js"))

	require.Eventually(t, func() bool {
		status, err := c.Status(context.Background(), "echo")
		return err == nil && status.Alive
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Kill(context.Background(), "echo"))

	_, err := c.Status(context.Background(), "echo")
	require.Error(t, err)
}

func TestClientSecretLifecycle(t *testing.T) {
	c := newTestClient(t)
	key := []byte("a fixed 32-char test master key")

	require.NoError(t, c.SetSecret(context.Background(), "db", "hunter2", key))

	value, err := c.GetSecret(context.Background(), "db", key)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", value)

	require.NoError(t, c.DeleteSecret(context.Background(), "db"))
	_, err = c.GetSecret(context.Background(), "db", key)
	require.Error(t, err)
}
