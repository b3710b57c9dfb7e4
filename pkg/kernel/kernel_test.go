package kernel

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/kestrel/pkg/config"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoSource = "function handle(m) { return m; }"

func newTestKernel(t *testing.T, tweak func(*config.Config)) *Kernel {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.EventsDB = filepath.Join(dir, "events")
	cfg.VaultDB = filepath.Join(dir, "vault")
	cfg.CertDir = filepath.Join(dir, "certs")
	if tweak != nil {
		tweak(&cfg)
	}

	k, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = k.Shutdown(ctx, 0)
	})
	return k
}

func TestDeployStatusKillLifecycle(t *testing.T) {
	k := newTestKernel(t, nil)
	ref := types.ServiceRef{Tenant: "acme", Service: "echo"}
	spec := types.ServiceSpec{Tenant: "acme", Name: "echo", Code: echoSource, Format: types.FormatJS}

	require.NoError(t, k.Deploy(context.Background(), spec))

	require.Eventually(t, func() bool {
		status, err := k.Status(ref)
		return err == nil && status.Alive
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, k.Kill(ref))

	_, err := k.Status(ref)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestServicesAreIsolatedPerTenant(t *testing.T) {
	k := newTestKernel(t, nil)
	require.NoError(t, k.Deploy(context.Background(), types.ServiceSpec{Tenant: "acme", Name: "svc", Code: echoSource, Format: types.FormatJS}))
	require.NoError(t, k.Deploy(context.Background(), types.ServiceSpec{Tenant: "other", Name: "svc", Code: echoSource, Format: types.FormatJS}))

	acme := k.List("acme")
	require.Len(t, acme, 1)
	assert.Equal(t, types.TenantID("acme"), acme[0].Tenant)

	other := k.List("other")
	require.Len(t, other, 1)
	assert.Equal(t, types.TenantID("other"), other[0].Tenant)
}

func TestDeployOverloadsAtPerTenantLimit(t *testing.T) {
	k := newTestKernel(t, func(c *config.Config) { c.MaxPerTenant = 100; c.MaxTotal = 1000 })

	// Saturate the tenant's admission slots directly, mirroring the
	// 101st-acquire overload scenario without deploying 100 real workers.
	tokens := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		tok, err := k.Shedder.Acquire("acme")
		require.NoError(t, err)
		tokens = append(tokens, tok)
	}

	err := k.Deploy(context.Background(), types.ServiceSpec{Tenant: "acme", Name: "svc", Code: echoSource, Format: types.FormatJS})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrOverloaded))

	for _, tok := range tokens {
		k.Shedder.Release(tok)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	k := newTestKernel(t, nil)
	ref := types.ServiceRef{Tenant: "acme", Service: "flaky"}
	b := k.BreakerFor(ref)

	failing := func(ctx context.Context) (any, error) { return nil, errors.New("boom") }
	for i := 0; i < 5; i++ {
		_, _ = b.Call(context.Background(), time.Second, failing)
	}

	_, err := b.Call(context.Background(), time.Second, failing)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrCircuitOpen))
}

func TestSecretCrossTenantAccessIsNotFound(t *testing.T) {
	k := newTestKernel(t, nil)
	key := []byte("a fixed 32-char test master key")

	require.NoError(t, k.SetSecret(context.Background(), "acme", "db", []byte("hunter2"), key))

	_, err := k.GetSecret(context.Background(), "other", "db", key)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestSecretRevokeIsIdempotent(t *testing.T) {
	k := newTestKernel(t, nil)
	key := []byte("a fixed 32-char test master key")

	require.NoError(t, k.SetSecret(context.Background(), "acme", "db", []byte("hunter2"), key))
	require.NoError(t, k.DeleteSecret(context.Background(), "acme", "db"))
	require.NoError(t, k.DeleteSecret(context.Background(), "acme", "db"))

	_, err := k.GetSecret(context.Background(), "acme", "db", key)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestGetServicesFallsBackToTenantList(t *testing.T) {
	k := newTestKernel(t, nil)
	require.NoError(t, k.Deploy(context.Background(), types.ServiceSpec{Tenant: "acme", Name: "svc", Code: echoSource, Format: types.FormatJS}))

	refs := k.GetServices("acme", "")
	require.Len(t, refs, 1)
	assert.Equal(t, types.ServiceID("svc"), refs[0].Service)
}
