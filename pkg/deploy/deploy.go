package deploy

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/log"
	"github.com/cuemby/kestrel/pkg/registry"
	"github.com/cuemby/kestrel/pkg/runtime"
	"github.com/cuemby/kestrel/pkg/supervisor"
	"github.com/cuemby/kestrel/pkg/types"
)

var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9]`)

// Namespace renders the sandbox namespace a worker runs under. Every
// non-alphanumeric rune is replaced with "_", and the tenant and
// service segments are then joined with "__" — a separator that can
// never appear inside a sanitized segment, so two different (tenant,
// service) pairs can never sanitize to the same namespace.
func Namespace(ref types.ServiceRef) string {
	t := nameSanitizer.ReplaceAllString(string(ref.Tenant), "_")
	s := nameSanitizer.ReplaceAllString(string(ref.Service), "_")
	return t + "__" + s
}

// Deployer is the kernel's entry point for turning a ServiceSpec into
// a running, supervised worker. It owns no state of its own beyond
// its collaborators — the Registry and the System supervision tree
// are the sources of truth — so it can be constructed fresh per
// kernel instance without any handoff.
type Deployer struct {
	system   *supervisor.System
	registry *registry.Registry
	events   *events.EventStore

	mu        sync.Mutex
	factories map[types.ServiceRef]*runtime.Factory
}

// New constructs a Deployer over the given supervision tree, registry
// and event store.
func New(system *supervisor.System, reg *registry.Registry, es *events.EventStore) *Deployer {
	return &Deployer{
		system:    system,
		registry:  reg,
		events:    es,
		factories: make(map[types.ServiceRef]*runtime.Factory),
	}
}

// Deploy compiles spec's source, starts a supervised worker for it,
// and registers the resulting handle. No placeholder reserves the
// (tenant, service) slot while the worker starts: registration happens
// only after the worker is running, and a deploy that loses the
// registration race kills its freshly started worker, so two
// concurrent deploys of the same name can never both win. A service
// id outside types.ServiceNamePattern is rejected with InvalidInput.
func (d *Deployer) Deploy(ctx context.Context, spec types.ServiceSpec) error {
	ref := types.ServiceRef{Tenant: spec.Tenant, Service: spec.Name}

	if !regexp.MustCompile(`^` + types.ServiceNamePattern + `$`).MatchString(string(spec.Name)) {
		err := types.NewError(types.ErrInvalidInput, "invalid service id: "+string(spec.Name))
		d.emitFailed(ctx, ref, err)
		return err
	}

	if d.registry.Lookup(ref) != nil {
		return types.NewError(types.ErrAlreadyExists, "service already deployed: "+ref.String())
	}

	factory, err := runtime.Compile(spec)
	if err != nil {
		d.emitFailed(ctx, ref, err)
		return err
	}

	sub := d.system.SubSupervisorFor(spec.Tenant)
	namespace := Namespace(ref)

	handle, err := sub.Start(factory, ref, namespace)
	if err != nil {
		d.emitFailed(ctx, ref, err)
		return err
	}

	if err := d.registry.Register(ref, handle); err != nil {
		// Lost a race against a concurrent deploy of the same name; the
		// worker we just started is orphaned, so kill it immediately.
		handle.Kill()
		d.emitFailed(ctx, ref, err)
		return err
	}

	d.SetFactory(ref, factory)

	_, _ = d.events.Emit(ctx, spec.Tenant, types.EventServiceDeployed, ref.String(), types.Payload{
		"service":   string(spec.Name),
		"format":    string(spec.Format),
		"namespace": namespace,
	}, nil)
	_, _ = d.events.Emit(ctx, spec.Tenant, types.EventServiceStarted, ref.String(), types.Payload{"service": string(spec.Name)}, nil)

	return nil
}

// Factory returns the currently compiled factory for ref, or nil if
// ref has no running worker. pkg/hotswap uses this as the rollback
// target before installing a new version.
func (d *Deployer) Factory(ref types.ServiceRef) *runtime.Factory {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.factories[ref]
}

// SetFactory records the factory currently backing ref's worker.
// pkg/hotswap calls this after a successful swap so a subsequent
// rollback target is always the most recently installed version.
func (d *Deployer) SetFactory(ref types.ServiceRef, factory *runtime.Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[ref] = factory
}

func (d *Deployer) emitFailed(ctx context.Context, ref types.ServiceRef, cause error) {
	log.WithService(string(ref.Tenant), string(ref.Service)).Error().Err(cause).Msg("deploy failed")
	_, _ = d.events.Emit(ctx, ref.Tenant, types.EventDeployFailed, ref.String(), types.Payload{
		"service": string(ref.Service),
		"error":   cause.Error(),
	}, nil)
}

// Kill stops and unregisters the running service at ref. Per the
// transient restart policy this is terminal: the worker will not be
// restarted.
func (d *Deployer) Kill(ref types.ServiceRef) error {
	handle := d.registry.Lookup(ref)
	if handle == nil {
		return types.NewError(types.ErrNotFound, "service not found: "+ref.String())
	}
	handle.Kill()
	d.registry.Unregister(ref)
	d.mu.Lock()
	delete(d.factories, ref)
	d.mu.Unlock()
	return nil
}

// Status returns a point-in-time sample of the running worker at ref.
func (d *Deployer) Status(ref types.ServiceRef) (types.WorkerStatus, error) {
	handle := d.registry.Lookup(ref)
	if handle == nil {
		return types.WorkerStatus{}, types.NewError(types.ErrNotFound, "service not found: "+ref.String())
	}
	return handle.Status(), nil
}

// List returns the (tenant, service) refs of every running service
// belonging to tenant.
func (d *Deployer) List(tenant types.TenantID) []types.ServiceRef {
	handles := d.registry.ListForTenant(tenant)
	refs := make([]types.ServiceRef, 0, len(handles))
	for _, h := range handles {
		refs = append(refs, h.Ref())
	}
	return refs
}

// Discover returns the handle for every service named name across
// every tenant, for cross-tenant service discovery.
func (d *Deployer) Discover(name string) []*supervisor.WorkerHandle {
	return d.registry.ListByName(strings.TrimSpace(name))
}

// Handle returns the live WorkerHandle for ref, or nil if not found.
// Exposed so higher layers (hotswap, the RPC gateway) can act on a
// specific running worker without re-deriving it from the registry.
func (d *Deployer) Handle(ref types.ServiceRef) *supervisor.WorkerHandle {
	return d.registry.Lookup(ref)
}
