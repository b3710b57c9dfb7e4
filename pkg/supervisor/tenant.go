package supervisor

import (
	"sync"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/types"
)

// TenantSupervisor owns the single TenantSubSupervisor for one
// tenant. It exists as its own tier, above TenantSubSupervisor,
// because a tenant's supervision boundary is the unit System creates
// and tears down dynamically — splitting "own this tenant" from
// "supervise these workers" leaves room to shard a very large
// tenant's workers across more than one sub-supervisor later without
// changing how System manages tenants.
type TenantSupervisor struct {
	tenant types.TenantID
	sub    *TenantSubSupervisor
}

func newTenantSupervisor(tenant types.TenantID, es *events.EventStore) *TenantSupervisor {
	return &TenantSupervisor{
		tenant: tenant,
		sub:    newTenantSubSupervisor(tenant, es),
	}
}

// Stop tears down every worker belonging to this tenant.
func (t *TenantSupervisor) Stop() {
	t.sub.Stop()
}

// System is the top-level supervisor: one per kernel process, owning
// a TenantSupervisor per tenant that has ever deployed a service.
// Tenant supervisors are created lazily on first use and never
// removed implicitly — a tenant with zero running services still has
// an (idle) supervision tree, so isolation boundaries don't flap as
// services come and go.
type System struct {
	events *events.EventStore

	mu      sync.Mutex
	tenants map[types.TenantID]*TenantSupervisor
}

// NewSystem constructs the root of the supervision tree.
func NewSystem(es *events.EventStore) *System {
	return &System{
		events:  es,
		tenants: make(map[types.TenantID]*TenantSupervisor),
	}
}

func (s *System) tenantSupervisor(tenant types.TenantID) *TenantSupervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tenants[tenant]
	if !ok {
		ts = newTenantSupervisor(tenant, s.events)
		s.tenants[tenant] = ts
	}
	return ts
}

// SubSupervisorFor returns (creating if necessary) the
// TenantSubSupervisor responsible for ref.Tenant's workers.
func (s *System) SubSupervisorFor(tenant types.TenantID) *TenantSubSupervisor {
	return s.tenantSupervisor(tenant).sub
}

// Tenants returns every tenant with a supervision tree, whether or
// not it currently has any running workers.
func (s *System) Tenants() []types.TenantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TenantID, 0, len(s.tenants))
	for t := range s.tenants {
		out = append(out, t)
	}
	return out
}

// Shutdown tears down every tenant's supervision tree. Workers are
// killed, not crash-restarted, matching a graceful process exit.
func (s *System) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.tenants {
		ts.Stop()
	}
}
