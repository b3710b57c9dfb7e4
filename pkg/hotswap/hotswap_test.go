package hotswap

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/kestrel/pkg/deploy"
	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/registry"
	"github.com/cuemby/kestrel/pkg/storage"
	"github.com/cuemby/kestrel/pkg/supervisor"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const v1Source = `
function handle(m) { return "v1"; }
function exportState() { return {version: 1}; }
`

const v2Source = `
function handle(m) { return "v2"; }
function migrate(old) { __state = old; }
`

const crashingSource = `
function handle(m) { throw new Error("boom"); }
`

func newTestEngine(t *testing.T) (*Engine, *deploy.Deployer) {
	t.Helper()
	es, err := events.New(storage.NewMemStore(), time.Hour, 1000)
	require.NoError(t, err)
	es.Start()
	t.Cleanup(es.Stop)

	sys := supervisor.NewSystem(es)
	t.Cleanup(sys.Shutdown)
	reg := registry.New()
	t.Cleanup(reg.Stop)

	d := deploy.New(sys, reg, es)
	return New(d, es), d
}

func deployAndWait(t *testing.T, d *deploy.Deployer, spec types.ServiceSpec) types.ServiceRef {
	t.Helper()
	ref := types.ServiceRef{Tenant: spec.Tenant, Service: spec.Name}
	require.NoError(t, d.Deploy(context.Background(), spec))
	require.Eventually(t, func() bool {
		status, err := d.Status(ref)
		return err == nil && status.Alive
	}, time.Second, 5*time.Millisecond)
	return ref
}

func TestSwapInstallsNewVersion(t *testing.T) {
	e, d := newTestEngine(t)
	spec := types.ServiceSpec{Tenant: "acme", Name: "svc", Code: v1Source, Format: types.FormatJS}
	ref := deployAndWait(t, d, spec)

	newSpec := types.ServiceSpec{Tenant: "acme", Name: "svc", Code: v2Source, Format: types.FormatJS}
	require.NoError(t, e.Swap(context.Background(), ref, newSpec, 50*time.Millisecond))

	handle := d.Handle(ref)
	result, err := handle.Send(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "v2", result)
}

func TestSwapRejectsConcurrentSwap(t *testing.T) {
	e, d := newTestEngine(t)
	spec := types.ServiceSpec{Tenant: "acme", Name: "svc", Code: v1Source, Format: types.FormatJS}
	ref := deployAndWait(t, d, spec)

	newSpec := types.ServiceSpec{Tenant: "acme", Name: "svc", Code: v2Source, Format: types.FormatJS}
	require.NoError(t, e.Swap(context.Background(), ref, newSpec, time.Second))

	err := e.Swap(context.Background(), ref, newSpec, time.Second)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))
}

func TestSwapUnknownRefReturnsNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	ref := types.ServiceRef{Tenant: "acme", Service: "ghost"}
	newSpec := types.ServiceSpec{Tenant: "acme", Name: "ghost", Code: v2Source, Format: types.FormatJS}

	err := e.Swap(context.Background(), ref, newSpec, time.Second)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestSwapRollsBackOnCrashWithinWindow(t *testing.T) {
	e, d := newTestEngine(t)
	spec := types.ServiceSpec{Tenant: "acme", Name: "svc", Code: v1Source, Format: types.FormatJS}
	ref := deployAndWait(t, d, spec)

	sub := e.events.Subscribe(events.Filter{Tenant: "acme", Types: []types.EventType{types.EventHotSwapRolledBack}})
	defer sub.Close()

	crashingSpec := types.ServiceSpec{Tenant: "acme", Name: "svc", Code: crashingSource, Format: types.FormatJS}
	require.NoError(t, e.Swap(context.Background(), ref, crashingSpec, 500*time.Millisecond))

	handle := d.Handle(ref)
	_, _ = handle.Send(context.Background(), "ping")

	select {
	case ev := <-sub.Events:
		assert.Equal(t, types.EventHotSwapRolledBack, ev.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a rollback after the new version crashed")
	}
}

func TestReplaceKillsAndRedeploysFresh(t *testing.T) {
	e, d := newTestEngine(t)
	spec := types.ServiceSpec{Tenant: "acme", Name: "svc", Code: v1Source, Format: types.FormatJS}
	ref := deployAndWait(t, d, spec)

	newSpec := types.ServiceSpec{Tenant: "acme", Name: "svc", Code: v2Source, Format: types.FormatJS}
	require.NoError(t, e.Replace(context.Background(), ref, newSpec))

	require.Eventually(t, func() bool {
		status, err := d.Status(ref)
		return err == nil && status.Alive
	}, time.Second, 5*time.Millisecond)

	handle := d.Handle(ref)
	result, err := handle.Send(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "v2", result)
}
