package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/storage"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEventStore(t *testing.T) *events.EventStore {
	t.Helper()
	es, err := events.New(storage.NewMemStore(), time.Hour, 1000)
	require.NoError(t, err)
	es.Start()
	t.Cleanup(es.Stop)
	return es
}

func testConfig() Config {
	return Config{FailureThreshold: 2, SuccessThreshold: 2, ResetTimeout: 20 * time.Millisecond}
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	ref := types.ServiceRef{Tenant: "acme", Service: "svc"}
	b := New(ref, testConfig(), newTestEventStore(t))
	defer b.Stop()

	failing := func(ctx context.Context) (any, error) { return nil, errors.New("boom") }

	_, err := b.Call(context.Background(), time.Second, failing)
	require.Error(t, err)
	assert.Equal(t, 0, b.State())

	_, err = b.Call(context.Background(), time.Second, failing)
	require.Error(t, err)
	assert.Equal(t, 1, b.State())

	_, err = b.Call(context.Background(), time.Second, failing)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrCircuitOpen))
}

func TestBreakerHalfOpensAfterResetAndCloses(t *testing.T) {
	ref := types.ServiceRef{Tenant: "acme", Service: "svc"}
	cfg := testConfig()
	b := New(ref, cfg, newTestEventStore(t))
	defer b.Stop()

	failing := func(ctx context.Context) (any, error) { return nil, errors.New("boom") }
	succeeding := func(ctx context.Context) (any, error) { return "ok", nil }

	for i := 0; i < cfg.FailureThreshold; i++ {
		_, _ = b.Call(context.Background(), time.Second, failing)
	}
	require.Equal(t, 1, b.State())

	time.Sleep(cfg.ResetTimeout * 2)

	_, err := b.Call(context.Background(), time.Second, succeeding)
	require.NoError(t, err)
	_, err = b.Call(context.Background(), time.Second, succeeding)
	require.NoError(t, err)
	assert.Equal(t, 0, b.State())
}

func TestBreakerRecoversPanicAsFailure(t *testing.T) {
	ref := types.ServiceRef{Tenant: "acme", Service: "svc"}
	b := New(ref, testConfig(), newTestEventStore(t))
	defer b.Stop()

	panicking := func(ctx context.Context) (any, error) { panic("kaboom") }

	_, err := b.Call(context.Background(), time.Second, panicking)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrTransientInternal))
}

func TestRegistryCreatesOneBreakerPerService(t *testing.T) {
	reg := NewRegistry(testConfig(), newTestEventStore(t))

	ref := types.ServiceRef{Tenant: "acme", Service: "svc"}
	b1 := reg.For(ref)
	b2 := reg.For(ref)
	assert.Same(t, b1, b2)

	snap := reg.Snapshot()
	assert.Equal(t, 0, snap[ref])

	reg.Remove(ref)
	assert.Empty(t, reg.Snapshot())
}
