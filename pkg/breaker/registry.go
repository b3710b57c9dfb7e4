package breaker

import (
	"sync"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/types"
)

// Registry owns one Breaker per guarded service, created lazily on
// first use.
type Registry struct {
	cfg    Config
	events *events.EventStore

	mu       sync.Mutex
	breakers map[types.ServiceRef]*Breaker
}

// NewRegistry constructs a Registry using cfg for every breaker it
// creates.
func NewRegistry(cfg Config, es *events.EventStore) *Registry {
	return &Registry{
		cfg:      cfg,
		events:   es,
		breakers: make(map[types.ServiceRef]*Breaker),
	}
}

// For returns the Breaker guarding ref, creating one on first use.
func (r *Registry) For(ref types.ServiceRef) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[ref]
	if !ok {
		b = New(ref, r.cfg, r.events)
		r.breakers[ref] = b
	}
	return b
}

// Remove stops and discards the breaker for ref, called when ref is
// killed so a future redeploy starts with a fresh breaker.
func (r *Registry) Remove(ref types.ServiceRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[ref]; ok {
		b.Stop()
		delete(r.breakers, ref)
	}
}

// Snapshot returns the current state of every breaker the registry has
// created so far, for metrics collection.
func (r *Registry) Snapshot() map[types.ServiceRef]int {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	refs := make([]types.ServiceRef, 0, len(r.breakers))
	for ref, b := range r.breakers {
		refs = append(refs, ref)
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[types.ServiceRef]int, len(refs))
	for i, ref := range refs {
		out[ref] = breakers[i].State()
	}
	return out
}
