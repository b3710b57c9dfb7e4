package registry

import (
	"github.com/cuemby/kestrel/pkg/supervisor"
	"github.com/cuemby/kestrel/pkg/types"
)

type command any

type registerCmd struct {
	ref    types.ServiceRef
	handle *supervisor.WorkerHandle
	resp   chan error
}

type unregisterCmd struct {
	ref  types.ServiceRef
	resp chan struct{}
}

type lookupCmd struct {
	ref  types.ServiceRef
	resp chan *supervisor.WorkerHandle
}

type listTenantCmd struct {
	tenant types.TenantID
	resp   chan []*supervisor.WorkerHandle
}

type listNameCmd struct {
	name string
	resp chan []*supervisor.WorkerHandle
}

type listAllCmd struct {
	resp chan map[types.ServiceRef]*supervisor.WorkerHandle
}

// Registry enforces the one actor goroutine that owns Kestrel's
// (tenant, service) -> *supervisor.WorkerHandle map. Register's
// check-and-insert uniqueness test runs on that single goroutine, so
// it is atomic without taking a lock that could nest with a caller's
// own lock.
type Registry struct {
	cmdCh  chan command
	stopCh chan struct{}
}

// New starts the registry's actor goroutine.
func New() *Registry {
	r := &Registry{
		cmdCh:  make(chan command, 256),
		stopCh: make(chan struct{}),
	}
	go r.run()
	return r
}

// Stop halts the actor goroutine.
func (r *Registry) Stop() { close(r.stopCh) }

func (r *Registry) run() {
	entries := make(map[types.ServiceRef]*supervisor.WorkerHandle)

	for {
		select {
		case <-r.stopCh:
			return

		case raw := <-r.cmdCh:
			switch cmd := raw.(type) {
			case registerCmd:
				if _, exists := entries[cmd.ref]; exists {
					cmd.resp <- types.NewError(types.ErrAlreadyExists, "service already registered: "+cmd.ref.String())
					continue
				}
				entries[cmd.ref] = cmd.handle
				cmd.resp <- nil

			case unregisterCmd:
				delete(entries, cmd.ref)
				close(cmd.resp)

			case lookupCmd:
				cmd.resp <- entries[cmd.ref]

			case listTenantCmd:
				var out []*supervisor.WorkerHandle
				for ref, h := range entries {
					if ref.Tenant == cmd.tenant {
						out = append(out, h)
					}
				}
				cmd.resp <- out

			case listNameCmd:
				var out []*supervisor.WorkerHandle
				for ref, h := range entries {
					if string(ref.Service) == cmd.name {
						out = append(out, h)
					}
				}
				cmd.resp <- out

			case listAllCmd:
				out := make(map[types.ServiceRef]*supervisor.WorkerHandle, len(entries))
				for ref, h := range entries {
					out[ref] = h
				}
				cmd.resp <- out
			}
		}
	}
}

// Register inserts handle under ref, failing with AlreadyExists if
// ref is already registered. This is the uniqueness enforcement point
// for the whole kernel: nothing else may bind a (tenant, service) pair
// that's already taken.
func (r *Registry) Register(ref types.ServiceRef, handle *supervisor.WorkerHandle) error {
	resp := make(chan error, 1)
	r.cmdCh <- registerCmd{ref: ref, handle: handle, resp: resp}
	return <-resp
}

// Unregister removes ref from the registry. Idempotent: removing an
// absent ref is not an error.
func (r *Registry) Unregister(ref types.ServiceRef) {
	resp := make(chan struct{})
	r.cmdCh <- unregisterCmd{ref: ref, resp: resp}
	<-resp
}

// Lookup returns the handle registered for ref, or nil if none.
func (r *Registry) Lookup(ref types.ServiceRef) *supervisor.WorkerHandle {
	resp := make(chan *supervisor.WorkerHandle, 1)
	r.cmdCh <- lookupCmd{ref: ref, resp: resp}
	return <-resp
}

// ListForTenant returns every handle registered under tenant.
func (r *Registry) ListForTenant(tenant types.TenantID) []*supervisor.WorkerHandle {
	resp := make(chan []*supervisor.WorkerHandle, 1)
	r.cmdCh <- listTenantCmd{tenant: tenant, resp: resp}
	return <-resp
}

// ListByName returns every handle across all tenants registered
// under service name name, for cross-tenant discovery queries.
func (r *Registry) ListByName(name string) []*supervisor.WorkerHandle {
	resp := make(chan []*supervisor.WorkerHandle, 1)
	r.cmdCh <- listNameCmd{name: name, resp: resp}
	return <-resp
}

// All returns every registered (ref, handle) pair, for metrics
// collection and admin introspection.
func (r *Registry) All() map[types.ServiceRef]*supervisor.WorkerHandle {
	resp := make(chan map[types.ServiceRef]*supervisor.WorkerHandle, 1)
	r.cmdCh <- listAllCmd{resp: resp}
	return <-resp
}
