package capability

import (
	"context"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/types"
)

// Owner is the resource a Proxy forwards permitted operations to —
// satisfied by *supervisor.WorkerHandle without this package needing
// to import pkg/supervisor.
type Owner interface {
	Send(ctx context.Context, message any) (any, error)
}

// Op is a tagged message: the operation being requested, plus its
// arguments. Proxy inspects only Tag; Args passes through untouched.
type Op struct {
	Tag  string
	Args any
}

// Proxy enforces a whitelist of operations between a caller and a
// resource owner. Every message not in AllowedOps is refused without
// ever reaching the owner, and every refusal is audited the same way
// a capability denial is.
type Proxy struct {
	ResourceRef string
	AllowedOps  map[string]struct{}
	Owner       Owner
	Tenant      types.TenantID

	events *events.EventStore
}

// NewProxy constructs a Proxy forwarding only the operations named in
// allowedOps to owner.
func NewProxy(tenant types.TenantID, resourceRef string, allowedOps []string, owner Owner, es *events.EventStore) *Proxy {
	set := make(map[string]struct{}, len(allowedOps))
	for _, op := range allowedOps {
		set[op] = struct{}{}
	}
	return &Proxy{
		ResourceRef: resourceRef,
		AllowedOps:  set,
		Owner:       owner,
		Tenant:      tenant,
		events:      es,
	}
}

// Forward relays op to the proxy's owner if its tag is whitelisted.
// Anything else — an operation not in the whitelist, or a message
// that isn't an Op at all — is treated as a denial: emitted, and
// reported back as Forbidden without ever reaching the owner.
func (p *Proxy) Forward(ctx context.Context, message any) (any, error) {
	op, ok := message.(Op)
	if !ok {
		p.deny(ctx, "malformed message")
		return nil, types.NewError(types.ErrPermissionDenied, "Forbidden")
	}
	if _, allowed := p.AllowedOps[op.Tag]; !allowed {
		p.deny(ctx, "operation not whitelisted: "+op.Tag)
		return nil, types.NewError(types.ErrPermissionDenied, "Forbidden")
	}
	return p.Owner.Send(ctx, op.Args)
}

func (p *Proxy) deny(ctx context.Context, reason string) {
	_, _ = p.events.Emit(ctx, p.Tenant, types.EventCapabilityDenied, p.ResourceRef, types.Payload{
		"reason": reason,
	}, nil)
}
