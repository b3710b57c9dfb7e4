package supervisor

import (
	"context"
	"sync/atomic"

	"github.com/cuemby/kestrel/pkg/types"
)

// WorkerHandle is the stable reference the Registry and the kernel
// hold for a deployed service. The worker behind it may crash and be
// replaced by the owning TenantSubSupervisor many times; the handle
// itself never changes identity, so callers never need to re-lookup
// the Registry after a restart.
type WorkerHandle struct {
	ref     types.ServiceRef
	current atomic.Pointer[workerState]
	dead    atomic.Bool
	swapCh  chan swapRequest
}

// swapRequest asks the handle's supervise loop to replace the running
// instance with one built from factory, optionally migrating oldState
// into it. Routing swaps through the supervise loop (rather than
// mutating WorkerHandle.current directly) keeps one goroutine as the
// sole authority over a handle's worker lifecycle, so a hot-swap can
// never race a crash-restart.
type swapRequest struct {
	factory   factoryFn
	namespace string
	oldState  any
	resp      chan error
}

// factoryFn abstracts runtime.Factory.New so this file doesn't need to
// import pkg/runtime just for a method value type.
type factoryFn func(namespace string) (WorkerInstance, error)

// Ref returns the (tenant, service) this handle was registered under.
func (h *WorkerHandle) Ref() types.ServiceRef { return h.ref }

// Send delivers message to the worker's mailbox and waits for the
// handle() function's return value.
func (h *WorkerHandle) Send(ctx context.Context, message any) (any, error) {
	ws := h.current.Load()
	if ws == nil || h.dead.Load() {
		return nil, types.NewError(types.ErrNotFound, "worker is not running")
	}

	resp := make(chan workerResult, 1)
	select {
	case ws.mailbox <- workerMsg{payload: message, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-resp:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status samples the live worker's activity counters. If the worker
// has been killed, or is mid-restart after a crash, Alive is false.
func (h *WorkerHandle) Status() types.WorkerStatus {
	ws := h.current.Load()
	if ws == nil || h.dead.Load() {
		return types.WorkerStatus{Alive: false}
	}

	resp := make(chan types.WorkerStatus, 1)
	select {
	case ws.statusCh <- statusReq{resp: resp}:
		return <-resp
	default:
		// mailbox loop is mid-handle(); report what we can without blocking
		return types.WorkerStatus{
			Alive:      true,
			Namespace:  ws.namespace,
			Memory:     estimateMemory(ws),
			QueueLen:   len(ws.mailbox),
			Reductions: ws.reductions.Load(),
		}
	}
}

// Kill explicitly terminates the worker. Per the transient restart
// policy, an explicit kill is never followed by a restart.
func (h *WorkerHandle) Kill() {
	h.dead.Store(true)
	if ws := h.current.Load(); ws != nil {
		close(ws.killCh)
	}
}

// IsDead reports whether the handle has been explicitly killed.
func (h *WorkerHandle) IsDead() bool { return h.dead.Load() }

// ExportState invokes the running instance's optional exportState()
// hook, used by pkg/hotswap to snapshot state before installing a new
// version. Returns nil if the instance defines no such hook.
func (h *WorkerHandle) ExportState() (any, error) {
	ws := h.current.Load()
	if ws == nil || h.dead.Load() {
		return nil, types.NewError(types.ErrNotFound, "worker is not running")
	}
	return ws.instance.ExportState()
}

// RequestSwap asks the handle's supervise loop to hot-swap the
// running instance for one built by factory, migrating oldState into
// it when the new instance defines migrate(). It is the building
// block pkg/hotswap drives its armed/rolled_back/succeeded state
// machine through.
func (h *WorkerHandle) RequestSwap(ctx context.Context, factory func(namespace string) (WorkerInstance, error), namespace string, oldState any) error {
	if h.dead.Load() {
		return types.NewError(types.ErrNotFound, "worker is not running")
	}

	resp := make(chan error, 1)
	req := swapRequest{factory: factory, namespace: namespace, oldState: oldState, resp: resp}
	select {
	case h.swapCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
