package registry

import (
	"testing"
	"time"

	"github.com/cuemby/kestrel/pkg/runtime"
	"github.com/cuemby/kestrel/pkg/supervisor"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHandle(t *testing.T, sys *supervisor.System, ref types.ServiceRef) *supervisor.WorkerHandle {
	t.Helper()
	factory, err := runtime.Compile(types.ServiceSpec{
		Tenant: ref.Tenant,
		Name:   ref.Service,
		Code:   "function handle(m) { return m; }",
		Format: types.FormatJS,
	})
	require.NoError(t, err)

	sub := sys.SubSupervisorFor(ref.Tenant)
	handle, err := sub.Start(factory, ref, "ns")
	require.NoError(t, err)
	return handle
}

func TestRegisterRejectsDuplicateRef(t *testing.T) {
	sys := supervisor.NewSystem(nil)
	defer sys.Shutdown()
	r := New()
	defer r.Stop()

	ref := types.ServiceRef{Tenant: "acme", Service: "svc"}
	h1 := testHandle(t, sys, ref)
	require.NoError(t, r.Register(ref, h1))

	h2 := testHandle(t, sys, types.ServiceRef{Tenant: "acme", Service: "svc2"})
	err := r.Register(ref, h2)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrAlreadyExists))
}

func TestLookupAndUnregister(t *testing.T) {
	sys := supervisor.NewSystem(nil)
	defer sys.Shutdown()
	r := New()
	defer r.Stop()

	ref := types.ServiceRef{Tenant: "acme", Service: "svc"}
	h := testHandle(t, sys, ref)
	require.NoError(t, r.Register(ref, h))

	assert.Same(t, h, r.Lookup(ref))

	r.Unregister(ref)
	assert.Nil(t, r.Lookup(ref))

	// Unregistering again is a no-op.
	r.Unregister(ref)
}

func TestListForTenantIsolatesTenants(t *testing.T) {
	sys := supervisor.NewSystem(nil)
	defer sys.Shutdown()
	r := New()
	defer r.Stop()

	acmeRef := types.ServiceRef{Tenant: "acme", Service: "svc"}
	otherRef := types.ServiceRef{Tenant: "other", Service: "svc"}
	require.NoError(t, r.Register(acmeRef, testHandle(t, sys, acmeRef)))
	require.NoError(t, r.Register(otherRef, testHandle(t, sys, otherRef)))

	acme := r.ListForTenant("acme")
	require.Len(t, acme, 1)
	assert.Equal(t, acmeRef, acme[0].Ref())
}

func TestListByNameCrossesTenants(t *testing.T) {
	sys := supervisor.NewSystem(nil)
	defer sys.Shutdown()
	r := New()
	defer r.Stop()

	ref1 := types.ServiceRef{Tenant: "acme", Service: "gateway"}
	ref2 := types.ServiceRef{Tenant: "other", Service: "gateway"}
	require.NoError(t, r.Register(ref1, testHandle(t, sys, ref1)))
	require.NoError(t, r.Register(ref2, testHandle(t, sys, ref2)))

	found := r.ListByName("gateway")
	assert.Len(t, found, 2)
}

func TestAllReturnsEverything(t *testing.T) {
	sys := supervisor.NewSystem(nil)
	defer sys.Shutdown()
	r := New()
	defer r.Stop()

	ref := types.ServiceRef{Tenant: "acme", Service: "svc"}
	require.NoError(t, r.Register(ref, testHandle(t, sys, ref)))

	all := r.All()
	require.Len(t, all, 1)
	_, ok := all[ref]
	assert.True(t, ok)

	// Give the actor goroutine a moment in case of scheduling jitter
	// before we tear the system down.
	time.Sleep(10 * time.Millisecond)
}
