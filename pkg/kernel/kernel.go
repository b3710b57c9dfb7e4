// Package kernel wires Kestrel's subsystems together and exposes the
// transport-agnostic core operations (Deploy, Status, Kill, List,
// WatchEvents, Shutdown, RegisterService, DiscoverService,
// GetServices, SetSecret, GetSecret, DeleteSecret, ListSecrets,
// Health) that both gateways translate into their own wire format.
// Modeled on the teacher's pkg/manager: one struct owning every
// collaborator, constructed once at startup and handed to both the
// gRPC and HTTP servers.
package kernel

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/kestrel/pkg/breaker"
	"github.com/cuemby/kestrel/pkg/capability"
	"github.com/cuemby/kestrel/pkg/config"
	"github.com/cuemby/kestrel/pkg/deploy"
	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/hotswap"
	"github.com/cuemby/kestrel/pkg/log"
	"github.com/cuemby/kestrel/pkg/metrics"
	"github.com/cuemby/kestrel/pkg/registry"
	"github.com/cuemby/kestrel/pkg/security"
	"github.com/cuemby/kestrel/pkg/shedder"
	"github.com/cuemby/kestrel/pkg/storage"
	"github.com/cuemby/kestrel/pkg/supervisor"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/cuemby/kestrel/pkg/vault"
	"github.com/rs/zerolog"
)

// defaultRollbackWindow is the Watchdog's arming window applied when a
// caller doesn't specify one.
const defaultRollbackWindow = 30 * time.Second

// Kernel owns every subsystem for one running kestrel process.
type Kernel struct {
	cfg config.Config

	eventStore *events.EventStore
	eventsDB   storage.Store
	vaultDB    storage.Store

	Registry   *registry.Registry
	System     *supervisor.System
	Deployer   *deploy.Deployer
	HotSwap    *hotswap.Engine
	Capability *capability.Manager
	Vault      *vault.Vault
	Shedder    *shedder.Shedder
	Breakers   *breaker.Registry
	CA         *security.CA

	collector *metrics.Collector
	logger    zerolog.Logger
}

// New constructs and starts every subsystem from cfg. Callers must
// call Shutdown to release the underlying BoltDB files and stop every
// actor goroutine.
func New(cfg config.Config) (*Kernel, error) {
	logger := log.WithComponent("kernel")

	eventsDB, err := storage.NewBoltStore(filepath.Dir(cfg.EventsDB), filepath.Base(cfg.EventsDB))
	if err != nil {
		return nil, fmt.Errorf("failed to open events store: %w", err)
	}

	es, err := events.New(eventsDB, 7*24*time.Hour, 100_000)
	if err != nil {
		_ = eventsDB.Close()
		return nil, fmt.Errorf("failed to construct event store: %w", err)
	}
	es.Start()

	vaultDB, err := storage.NewBoltStore(filepath.Dir(cfg.VaultDB), filepath.Base(cfg.VaultDB))
	if err != nil {
		_ = eventsDB.Close()
		return nil, fmt.Errorf("failed to open vault store: %w", err)
	}

	capMgr, err := capability.New(vaultDB, es)
	if err != nil {
		_ = eventsDB.Close()
		_ = vaultDB.Close()
		return nil, fmt.Errorf("failed to construct capability manager: %w", err)
	}

	ca := security.New(cfg.CertDir)
	if err := ca.Load(); err != nil {
		_ = eventsDB.Close()
		_ = vaultDB.Close()
		return nil, fmt.Errorf("failed to load certificate authority: %w", err)
	}

	reg := registry.New()
	system := supervisor.NewSystem(es)
	deployer := deploy.New(system, reg, es)
	hs := hotswap.New(deployer, es)
	v := vault.New(vaultDB, es)
	sh := shedder.New(cfg)
	sh.Start()
	br := breaker.NewRegistry(breaker.DefaultConfig(), es)

	collector := metrics.NewCollector(reg, es, sh, br)
	collector.Start()

	_, _ = es.Emit(context.Background(), "", types.EventSystemStarted, types.SubjectSystem, types.Payload{
		"max_tenants":    int64(cfg.MaxTenants),
		"max_per_tenant": int64(cfg.MaxPerTenant),
		"max_total":      int64(cfg.MaxTotal),
	}, nil)

	return &Kernel{
		cfg:        cfg,
		eventStore: es,
		eventsDB:   eventsDB,
		vaultDB:    vaultDB,
		Registry:   reg,
		System:     system,
		Deployer:   deployer,
		HotSwap:    hs,
		Capability: capMgr,
		Vault:      v,
		Shedder:    sh,
		Breakers:   br,
		CA:         ca,
		collector:  collector,
		logger:     logger,
	}, nil
}

// Events exposes the kernel's event store for gateways that need
// direct access to Subscribe/Since (WatchEvents).
func (k *Kernel) Events() *events.EventStore { return k.eventStore }

// admit acquires a LoadShedder permit for tenant, running fn only if
// granted, and always releasing the permit before returning. This is
// the admission step the control-flow diagram places in front of
// Deploy and HotSwap.
func (k *Kernel) admit(tenant types.TenantID, fn func() error) error {
	token, err := k.Shedder.Acquire(tenant)
	if err != nil {
		return err
	}
	defer k.Shedder.Release(token)
	return fn()
}

// Deploy compiles and starts spec as a supervised worker, subject to
// LoadShedder admission control.
func (k *Kernel) Deploy(ctx context.Context, spec types.ServiceSpec) error {
	return k.admit(spec.Tenant, func() error {
		return k.Deployer.Deploy(ctx, spec)
	})
}

// RegisterService is Deploy's name in the gateway's core operation
// list (spec.md §6). The distilled spec lists it alongside Deploy
// without a distinct semantics of its own — resolved here as an alias
// rather than a second code path, since this kernel has no separate
// "register an externally-started process" concept to give it its own
// meaning (DESIGN.md, Open Question).
func (k *Kernel) RegisterService(ctx context.Context, spec types.ServiceSpec) error {
	return k.Deploy(ctx, spec)
}

// Swap hot-swaps ref's running worker to newSpec's code, subject to
// admission control, arming the Watchdog for window (or
// defaultRollbackWindow if window is zero).
func (k *Kernel) Swap(ctx context.Context, ref types.ServiceRef, newSpec types.ServiceSpec, window time.Duration) error {
	if window <= 0 {
		window = defaultRollbackWindow
	}
	return k.admit(ref.Tenant, func() error {
		return k.HotSwap.Swap(ctx, ref, newSpec, window)
	})
}

// Replace performs the safe-variant hot swap (kill then redeploy), subject
// to the same admission control as Swap.
func (k *Kernel) Replace(ctx context.Context, ref types.ServiceRef, newSpec types.ServiceSpec) error {
	return k.admit(ref.Tenant, func() error {
		return k.HotSwap.Replace(ctx, ref, newSpec)
	})
}

// Status returns a point-in-time sample of ref's running worker.
func (k *Kernel) Status(ref types.ServiceRef) (types.WorkerStatus, error) {
	return k.Deployer.Status(ref)
}

// Kill stops and unregisters ref. Not admission-controlled: shedding
// load should never block tearing work down. The supervise loop that
// observes the kill is the sole emitter of EventServiceKilled (see
// pkg/supervisor/subsupervisor.go); Kill only clears this ref's
// breaker so a killed-then-redeployed service starts with a clean
// breaker state.
func (k *Kernel) Kill(ref types.ServiceRef) error {
	err := k.Deployer.Kill(ref)
	if err == nil {
		k.Breakers.Remove(ref)
	}
	return err
}

// List returns every service ref running for tenant.
func (k *Kernel) List(tenant types.TenantID) []types.ServiceRef {
	return k.Deployer.List(tenant)
}

// GetServices implements the dual-mode GetServices(name?) operation:
// with a non-empty name it looks up exactly (tenant, name) in the
// Registry, returning that one ref or none; with an empty name it
// falls back to List scoped to the caller's own tenant.
func (k *Kernel) GetServices(tenant types.TenantID, name string) []types.ServiceRef {
	if name == "" {
		return k.List(tenant)
	}
	h := k.Registry.Lookup(types.ServiceRef{Tenant: tenant, Service: types.ServiceID(name)})
	if h == nil {
		return []types.ServiceRef{}
	}
	return []types.ServiceRef{h.Ref()}
}

// DiscoverService returns every running handle named name across
// every tenant. filters is accepted for forward compatibility with
// future metadata-based filtering (spec.md §6); this kernel's
// ServiceSpec carries no filterable metadata yet, so filters is
// currently ignored (DESIGN.md, Open Question).
func (k *Kernel) DiscoverService(name string, filters map[string]string) []*supervisor.WorkerHandle {
	return k.Deployer.Discover(name)
}

// SetSecret stores value under (tenant, name), encrypted with
// masterKey.
func (k *Kernel) SetSecret(ctx context.Context, tenant types.TenantID, name string, value []byte, masterKey []byte) error {
	return k.Vault.Store(ctx, tenant, name, value, masterKey)
}

// GetSecret retrieves and decrypts the secret stored under (tenant, name).
func (k *Kernel) GetSecret(ctx context.Context, tenant types.TenantID, name string, masterKey []byte) ([]byte, error) {
	return k.Vault.Retrieve(ctx, tenant, name, masterKey)
}

// DeleteSecret removes the secret stored under (tenant, name).
func (k *Kernel) DeleteSecret(ctx context.Context, tenant types.TenantID, name string) error {
	return k.Vault.Revoke(ctx, tenant, name)
}

// ListSecrets returns the names of every secret stored for tenant.
func (k *Kernel) ListSecrets(tenant types.TenantID) ([]string, error) {
	return k.Vault.ListSecrets(tenant)
}

// BreakerFor returns the circuit breaker guarding ref, creating one on
// first use. Gateways wrap outbound calls to a worker in this
// breaker's Call.
func (k *Kernel) BreakerFor(ref types.ServiceRef) *breaker.Breaker {
	return k.Breakers.For(ref)
}

// Health reports a coarse liveness signal for each core subsystem.
func (k *Kernel) Health() map[string]bool {
	return map[string]bool{
		"events":   true,
		"registry": true,
		"vault":    true,
	}
}

// Shutdown emits system_shutdown_started, waits up to grace for
// in-flight work to settle, then stops every actor goroutine and
// closes the underlying BoltDB files in dependency order (collector
// and admission control first, storage last).
func (k *Kernel) Shutdown(ctx context.Context, grace time.Duration) error {
	_, _ = k.eventStore.Emit(ctx, "", types.EventSystemShutdownStarted, types.SubjectSystem, types.Payload{
		"grace_ms": int64(grace / time.Millisecond),
	}, nil)

	if grace > 0 {
		timer := time.NewTimer(grace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	k.collector.Stop()
	k.Shedder.Stop()

	for tenant := range k.tenantSnapshot() {
		for _, ref := range k.Deployer.List(tenant) {
			_ = k.Deployer.Kill(ref)
		}
	}

	k.Registry.Stop()
	k.eventStore.Flush()

	_, _ = k.eventStore.Emit(context.Background(), "", types.EventSystemShutdownComplete, types.SubjectSystem, nil, nil)
	k.eventStore.Stop()

	if err := k.eventsDB.Close(); err != nil {
		k.logger.Error().Err(err).Msg("failed to close events store")
	}
	if err := k.vaultDB.Close(); err != nil {
		k.logger.Error().Err(err).Msg("failed to close vault store")
	}
	return nil
}

func (k *Kernel) tenantSnapshot() map[types.TenantID]struct{} {
	tenants := make(map[types.TenantID]struct{})
	for ref := range k.Registry.All() {
		tenants[ref.Tenant] = struct{}{}
	}
	return tenants
}
