package rpcgw

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/kestrel/pkg/config"
	"github.com/cuemby/kestrel/pkg/kernel"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer builds a Server over a real kernel without starting the
// gRPC listener, so handlers can be called directly with a synthesized
// tenant context, exercising the same code path a verified mTLS peer
// would reach through the interceptors.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.EventsDB = filepath.Join(dir, "events")
	cfg.VaultDB = filepath.Join(dir, "vault")
	cfg.CertDir = filepath.Join(dir, "certs")

	k, err := kernel.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = k.Shutdown(ctx, 0)
	})

	s, err := New(k)
	require.NoError(t, err)
	return s
}

func withTenant(tenant types.TenantID) context.Context {
	return context.WithValue(context.Background(), tenantKey{}, tenant)
}

func TestServerDeployAndStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := withTenant("acme")

	_, err := s.Deploy(ctx, &DeployRequest{Name: "echo", Code: "function handle(m){return m;}", Format: "js"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := s.Status(ctx, &StatusRequest{Service: "echo"})
		return err == nil && resp.Alive
	}, time.Second, 5*time.Millisecond)
}

func TestServerRejectsCallsWithoutVerifiedTenant(t *testing.T) {
	s := newTestServer(t)

	_, err := s.Deploy(context.Background(), &DeployRequest{Name: "echo", Code: "x", Format: "js"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrUnauthorized))
}

func TestServerKillThenListIsEmpty(t *testing.T) {
	s := newTestServer(t)
	ctx := withTenant("acme")

	_, err := s.Deploy(ctx, &DeployRequest{Name: "echo", Code: "function handle(m){return m;}", Format: "js"})
	require.NoError(t, err)

	_, err = s.Kill(ctx, &KillRequest{Service: "echo"})
	require.NoError(t, err)

	resp, err := s.List(ctx, &ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Services)
}

func TestServerSecretCrossTenantIsNotFound(t *testing.T) {
	s := newTestServer(t)
	masterKey := "6120666978656420333220636861722074657374206d6173746572206b6579"

	_, err := s.SetSecret(withTenant("acme"), &SetSecretRequest{Name: "db", Value: "hunter2", MasterKey: masterKey})
	require.NoError(t, err)

	_, err = s.GetSecret(withTenant("other"), &GetSecretRequest{Name: "db", MasterKey: masterKey})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}
