package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/registry"
	"github.com/cuemby/kestrel/pkg/storage"
	"github.com/cuemby/kestrel/pkg/supervisor"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoSource = "function handle(m) { return m; }"

func newTestDeployer(t *testing.T) *Deployer {
	t.Helper()
	es, err := events.New(storage.NewMemStore(), time.Hour, 1000)
	require.NoError(t, err)
	es.Start()
	t.Cleanup(es.Stop)

	sys := supervisor.NewSystem(es)
	t.Cleanup(sys.Shutdown)

	reg := registry.New()
	t.Cleanup(reg.Stop)

	return New(sys, reg, es)
}

func TestDeployStartsAndRegistersWorker(t *testing.T) {
	d := newTestDeployer(t)
	spec := types.ServiceSpec{Tenant: "acme", Name: "echo", Code: echoSource, Format: types.FormatJS}

	require.NoError(t, d.Deploy(context.Background(), spec))

	ref := types.ServiceRef{Tenant: "acme", Service: "echo"}
	assert.Eventually(t, func() bool {
		status, err := d.Status(ref)
		return err == nil && status.Alive
	}, time.Second, 5*time.Millisecond)
}

func TestDeployRejectsDuplicateName(t *testing.T) {
	d := newTestDeployer(t)
	spec := types.ServiceSpec{Tenant: "acme", Name: "echo", Code: echoSource, Format: types.FormatJS}

	require.NoError(t, d.Deploy(context.Background(), spec))
	err := d.Deploy(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrAlreadyExists))
}

func TestDeployRejectsUnsupportedFormat(t *testing.T) {
	d := newTestDeployer(t)
	spec := types.ServiceSpec{Tenant: "acme", Name: "echo", Code: echoSource, Format: "wasm"}

	err := d.Deploy(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))
}

func TestKillStopsAndUnregisters(t *testing.T) {
	d := newTestDeployer(t)
	ref := types.ServiceRef{Tenant: "acme", Service: "echo"}
	spec := types.ServiceSpec{Tenant: "acme", Name: "echo", Code: echoSource, Format: types.FormatJS}
	require.NoError(t, d.Deploy(context.Background(), spec))

	require.NoError(t, d.Kill(ref))

	_, err := d.Status(ref)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestKillUnknownRefReturnsNotFound(t *testing.T) {
	d := newTestDeployer(t)
	err := d.Kill(types.ServiceRef{Tenant: "acme", Service: "ghost"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestListScopesToTenant(t *testing.T) {
	d := newTestDeployer(t)
	require.NoError(t, d.Deploy(context.Background(), types.ServiceSpec{Tenant: "acme", Name: "svc-a", Code: echoSource, Format: types.FormatJS}))
	require.NoError(t, d.Deploy(context.Background(), types.ServiceSpec{Tenant: "other", Name: "svc-b", Code: echoSource, Format: types.FormatJS}))

	refs := d.List("acme")
	require.Len(t, refs, 1)
	assert.Equal(t, types.ServiceID("svc-a"), refs[0].Service)
}

func TestDiscoverCrossesTenants(t *testing.T) {
	d := newTestDeployer(t)
	require.NoError(t, d.Deploy(context.Background(), types.ServiceSpec{Tenant: "acme", Name: "gateway", Code: echoSource, Format: types.FormatJS}))
	require.NoError(t, d.Deploy(context.Background(), types.ServiceSpec{Tenant: "other", Name: "gateway", Code: echoSource, Format: types.FormatJS}))

	handles := d.Discover("gateway")
	assert.Len(t, handles, 2)
}
