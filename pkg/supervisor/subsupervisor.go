package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/log"
	"github.com/cuemby/kestrel/pkg/runtime"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/rs/zerolog"
)

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
	backoffReset   = 60 * time.Second
)

// TenantSubSupervisor supervises the workers of a single tenant,
// applying Kestrel's transient restart policy: a worker that crashes
// is restarted with exponential backoff (100ms, doubling, capped at
// 30s); a worker that ran cleanly for backoffReset has its backoff
// reset before the next crash. An explicit Kill never triggers a
// restart — "transient" restart semantics, not "permanent".
type TenantSubSupervisor struct {
	tenant types.TenantID
	events *events.EventStore

	mu      sync.Mutex
	workers map[types.ServiceID]*WorkerHandle
	stopCh  chan struct{}
	logger  zerolog.Logger
}

func newTenantSubSupervisor(tenant types.TenantID, es *events.EventStore) *TenantSubSupervisor {
	return &TenantSubSupervisor{
		tenant:  tenant,
		events:  es,
		workers: make(map[types.ServiceID]*WorkerHandle),
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("supervisor").With().Str("tenant_id", string(tenant)).Logger(),
	}
}

// Start registers and launches a new worker for spec, supervised
// under the transient restart policy. Returns AlreadyExists if a
// worker for this (tenant, service) is already registered here.
func (ts *TenantSubSupervisor) Start(factory *runtime.Factory, ref types.ServiceRef, namespace string) (*WorkerHandle, error) {
	ts.mu.Lock()
	if _, exists := ts.workers[ref.Service]; exists {
		ts.mu.Unlock()
		return nil, types.NewError(types.ErrAlreadyExists, "worker already running for this service")
	}
	handle := &WorkerHandle{ref: ref, swapCh: make(chan swapRequest)}
	ts.workers[ref.Service] = handle
	ts.mu.Unlock()

	go ts.supervise(handle, factory, namespace)
	return handle, nil
}

// Get returns the handle registered for service, if any.
func (ts *TenantSubSupervisor) Get(service types.ServiceID) (*WorkerHandle, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	h, ok := ts.workers[service]
	return h, ok
}

// List returns every handle currently supervised for this tenant.
func (ts *TenantSubSupervisor) List() []*WorkerHandle {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]*WorkerHandle, 0, len(ts.workers))
	for _, h := range ts.workers {
		out = append(out, h)
	}
	return out
}

// Stop halts supervision for every worker under this tenant. Workers
// are killed, not left to crash-restart.
func (ts *TenantSubSupervisor) Stop() {
	close(ts.stopCh)
}

func (ts *TenantSubSupervisor) remove(ref types.ServiceRef) {
	ts.mu.Lock()
	delete(ts.workers, ref.Service)
	ts.mu.Unlock()
}

// supervise is the single goroutine with authority over handle's
// lifecycle: it starts instances, watches for crash or kill, applies
// the backoff schedule, and is the only place a hot-swap request
// (arriving on handle.swapCh) is allowed to replace the running
// instance — so a swap can never race a crash-triggered restart.
func (ts *TenantSubSupervisor) supervise(handle *WorkerHandle, factory *runtime.Factory, namespace string) {
	backoff := initialBackoff
	var migrateState any

	startInstance := func() (*workerState, chan exitReason, error) {
		inst, err := factory.New(namespace)
		if err != nil {
			return nil, nil, err
		}
		if migrateState != nil && inst.HasMigrate() {
			_ = inst.Migrate(migrateState)
		}
		migrateState = nil

		ws := newWorkerState(handle.ref, namespace, inst)
		handle.current.Store(ws)
		exitCh := make(chan exitReason, 1)
		go runWorker(ws, func(r exitReason) { exitCh <- r })
		return ws, exitCh, nil
	}

	ws, exitCh, err := startInstance()
	if err != nil {
		ts.logger.Error().Err(err).Str("service_id", string(handle.ref.Service)).Msg("failed to instantiate worker")
		ts.emitCrash(handle.ref, err)
		ts.remove(handle.ref)
		handle.dead.Store(true)
		return
	}
	start := time.Now()

	for {
		select {
		case reason := <-exitCh:
			uptime := time.Since(start)
			if reason == exitKilled {
				ts.remove(handle.ref)
				ts.emitKilled(handle.ref)
				return
			}

			ts.emitCrash(handle.ref, nil)
			if uptime >= backoffReset {
				backoff = initialBackoff
			}

			select {
			case <-time.After(backoff):
			case <-ts.stopCh:
				ts.remove(handle.ref)
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}

			if handle.dead.Load() {
				// Kill landed while this crash's backoff was sleeping:
				// the explicit kill is terminal and must not be
				// followed by a restart of an already-unregistered
				// handle. The crash above already had its own
				// service_crashed emitted; this kill still needs its
				// one service_killed.
				ts.remove(handle.ref)
				ts.emitKilled(handle.ref)
				return
			}

			ws, exitCh, err = startInstance()
			if err != nil {
				ts.logger.Error().Err(err).Str("service_id", string(handle.ref.Service)).Msg("failed to restart worker")
				ts.remove(handle.ref)
				handle.dead.Store(true)
				return
			}
			start = time.Now()

		case req := <-handle.swapCh:
			var oldState any
			if ws.instance.HasMigrate() {
				if snap, err := ws.instance.ExportState(); err == nil {
					oldState = snap
				}
			}
			if req.oldState != nil {
				oldState = req.oldState
			}

			newInst, err := req.factory(req.namespace)
			if err != nil {
				req.resp <- err
				continue
			}
			if oldState != nil && newInst.HasMigrate() {
				if err := newInst.Migrate(oldState); err != nil {
					req.resp <- err
					continue
				}
			}

			newWS := newWorkerState(handle.ref, req.namespace, newInst)
			newExitCh := make(chan exitReason, 1)
			handle.current.Store(newWS)
			go runWorker(newWS, func(r exitReason) { newExitCh <- r })

			close(ws.killCh)
			<-exitCh // drain the old instance's kill notification

			ws, exitCh = newWS, newExitCh
			start = time.Now()
			req.resp <- nil

		case <-ts.stopCh:
			close(ws.killCh)
			ts.remove(handle.ref)
			return
		}
	}
}

func (ts *TenantSubSupervisor) emitCrash(ref types.ServiceRef, cause error) {
	if ts.events == nil {
		return
	}
	payload := types.Payload{"service": string(ref.Service)}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	_, _ = ts.events.Emit(context.Background(), ref.Tenant, types.EventServiceCrashed, ref.String(), payload, nil)
}

func (ts *TenantSubSupervisor) emitKilled(ref types.ServiceRef) {
	if ts.events == nil {
		return
	}
	_, _ = ts.events.Emit(context.Background(), ref.Tenant, types.EventServiceKilled, ref.String(), types.Payload{"service": string(ref.Service)}, nil)
}
