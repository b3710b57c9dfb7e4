package hotswap

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/kestrel/pkg/deploy"
	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/log"
	"github.com/cuemby/kestrel/pkg/runtime"
	"github.com/cuemby/kestrel/pkg/supervisor"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/rs/zerolog"
)

// watchEntry is the Watchdog's bookkeeping for one in-flight swap: the
// factory to fall back to, and the machinery to detect a crash inside
// the rollback window.
type watchEntry struct {
	ref        types.ServiceRef
	oldFactory *runtime.Factory
	namespace  string
	sub        *events.Subscription
	timer      *time.Timer
	cancel     chan struct{}
}

// Engine implements hot code replacement for a running worker: swap
// in a freshly compiled version of its service code without losing
// the (tenant, service) registration or dropping in-flight messages
// any longer than the swap itself takes. A Watchdog then holds the
// previous version armed for rollbackWindow — if the new version
// crashes inside that window, the Watchdog swaps back automatically.
//
// Two decisions not settled by the system this was modeled after:
// the old module is always snapshotted (via its optional
// exportState() hook) before the new module is loaded, not after; and
// the new module's optional migrate(oldState) hook is invoked with
// that snapshot only if the new module defines one.
type Engine struct {
	deployer *deploy.Deployer
	events   *events.EventStore

	mu      sync.Mutex
	watches map[types.ServiceRef]*watchEntry

	logger zerolog.Logger
}

// New constructs a hot-swap Engine over deployer's registry and es for
// event emission and crash detection.
func New(deployer *deploy.Deployer, es *events.EventStore) *Engine {
	return &Engine{
		deployer: deployer,
		events:   es,
		watches:  make(map[types.ServiceRef]*watchEntry),
		logger:   log.WithComponent("hotswap"),
	}
}

// Swap compiles newSpec and replaces ref's running instance with it,
// arming a Watchdog for rollbackWindow. An InvalidInput error is
// returned if ref already has a swap in flight — swaps don't queue, the caller
// must wait for the prior one to resolve.
func (e *Engine) Swap(ctx context.Context, ref types.ServiceRef, newSpec types.ServiceSpec, rollbackWindow time.Duration) error {
	e.mu.Lock()
	if _, busy := e.watches[ref]; busy {
		e.mu.Unlock()
		return types.NewError(types.ErrInvalidInput, "hot-swap already in flight for "+ref.String())
	}
	e.mu.Unlock()

	handle := e.deployer.Handle(ref)
	if handle == nil {
		return types.NewError(types.ErrNotFound, "service not found: "+ref.String())
	}

	oldFactory, oldState, err := e.snapshot(handle, ref)
	if err != nil {
		return err
	}

	newFactory, err := runtime.Compile(newSpec)
	if err != nil {
		e.emitFailed(ctx, ref, err)
		return err
	}

	namespace := deploy.Namespace(ref)
	_, _ = e.events.Emit(ctx, ref.Tenant, types.EventHotSwapStarted, ref.String(), types.Payload{"service": string(ref.Service)}, nil)

	swapErr := handle.RequestSwap(ctx, func(ns string) (supervisor.WorkerInstance, error) {
		return newFactory.New(ns)
	}, namespace, oldState)
	if swapErr != nil {
		e.emitFailed(ctx, ref, swapErr)
		return swapErr
	}
	e.deployer.SetFactory(ref, newFactory)

	e.arm(ref, oldFactory, namespace, handle, rollbackWindow)
	return nil
}

// Replace performs the safe-variant swap: kill the running instance
// for ref and deploy newSpec fresh in its place, with no state
// snapshot, no Watchdog, and no rollback. Used when the caller would
// rather accept a brief outage than risk migrate() running on
// unmigratable state. Emits hot_swap_succeeded with a simple_replace
// method tag on success, hot_swap_failed when the kill or the
// redeploy fails. Rejecting a Replace because a swap is already in
// flight emits no event.
func (e *Engine) Replace(ctx context.Context, ref types.ServiceRef, newSpec types.ServiceSpec) error {
	e.mu.Lock()
	if _, busy := e.watches[ref]; busy {
		e.mu.Unlock()
		return types.NewError(types.ErrInvalidInput, "hot-swap already in flight for "+ref.String())
	}
	e.mu.Unlock()

	if err := e.deployer.Kill(ref); err != nil {
		e.emitFailed(ctx, ref, err)
		return err
	}

	if err := e.deployer.Deploy(ctx, newSpec); err != nil {
		e.emitFailed(ctx, ref, err)
		return err
	}

	_, _ = e.events.Emit(ctx, ref.Tenant, types.EventHotSwapSucceeded, ref.String(), types.Payload{
		"service": string(ref.Service),
		"method":  "simple_replace",
	}, nil)
	return nil
}

// snapshot captures the currently-running instance's exported state,
// and returns the factory that would be needed to rebuild it — the
// eager "old module" snapshot the Watchdog falls back to on rollback.
func (e *Engine) snapshot(handle *supervisor.WorkerHandle, ref types.ServiceRef) (*runtime.Factory, any, error) {
	oldState, err := handle.ExportState()
	if err != nil {
		e.logger.Warn().Err(err).Str("service_id", string(ref.Service)).Msg("exportState() failed, proceeding without state snapshot")
		oldState = nil
	}
	oldFactory := e.deployer.Factory(ref)
	if oldFactory == nil {
		return nil, nil, types.NewError(types.ErrTransientInternal, "no compiled factory recorded for rollback")
	}
	return oldFactory, oldState, nil
}

func (e *Engine) arm(ref types.ServiceRef, oldFactory *runtime.Factory, namespace string, handle *supervisor.WorkerHandle, window time.Duration) {
	sub := e.events.Subscribe(events.Filter{
		Tenant:  ref.Tenant,
		Subject: ref.String(),
		Types:   []types.EventType{types.EventServiceCrashed},
	})

	entry := &watchEntry{
		ref:        ref,
		oldFactory: oldFactory,
		namespace:  namespace,
		sub:        sub,
		timer:      time.NewTimer(window),
		cancel:     make(chan struct{}),
	}

	e.mu.Lock()
	e.watches[ref] = entry
	e.mu.Unlock()

	go e.watch(entry, handle)
}

func (e *Engine) watch(entry *watchEntry, handle *supervisor.WorkerHandle) {
	defer func() {
		entry.timer.Stop()
		entry.sub.Close()
		e.mu.Lock()
		delete(e.watches, entry.ref)
		e.mu.Unlock()
	}()

	select {
	case <-entry.sub.Events:
		e.rollback(entry, handle)

	case <-entry.timer.C:
		_, _ = e.events.Emit(context.Background(), entry.ref.Tenant, types.EventHotSwapSucceeded, entry.ref.String(), types.Payload{"service": string(entry.ref.Service)}, nil)

	case <-entry.cancel:
	}
}

func (e *Engine) rollback(entry *watchEntry, handle *supervisor.WorkerHandle) {
	ctx := context.Background()
	err := handle.RequestSwap(ctx, func(ns string) (supervisor.WorkerInstance, error) {
		return entry.oldFactory.New(ns)
	}, entry.namespace, nil)

	if err != nil {
		e.logger.Error().Err(err).Str("service_id", string(entry.ref.Service)).Msg("rollback swap failed")
		_, _ = e.events.Emit(ctx, entry.ref.Tenant, types.EventHotSwapFailed, entry.ref.String(), types.Payload{
			"service": string(entry.ref.Service),
			"error":   err.Error(),
		}, nil)
		return
	}
	e.deployer.SetFactory(entry.ref, entry.oldFactory)

	_, _ = e.events.Emit(ctx, entry.ref.Tenant, types.EventHotSwapRolledBack, entry.ref.String(), types.Payload{"service": string(entry.ref.Service)}, nil)
}

func (e *Engine) emitFailed(ctx context.Context, ref types.ServiceRef, cause error) {
	_, _ = e.events.Emit(ctx, ref.Tenant, types.EventHotSwapFailed, ref.String(), types.Payload{
		"service": string(ref.Service),
		"error":   cause.Error(),
	}, nil)
}
