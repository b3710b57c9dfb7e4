package supervisor

import (
	"sync/atomic"
	"time"

	"github.com/cuemby/kestrel/pkg/types"
)

// WorkerInstance is the subset of *runtime.Instance the supervisor
// needs. Depending on an interface here (instead of importing
// pkg/runtime's concrete type) lets pkg/supervisor's tests substitute
// a fake instance without spinning up a goja VM.
type WorkerInstance interface {
	Handle(message any) (any, error)
	HasMigrate() bool
	Migrate(oldState any) error
	ExportState() (any, error)
}

type exitReason int

const (
	exitCrashed exitReason = iota
	exitKilled
)

type workerMsg struct {
	payload any
	resp    chan workerResult
}

type workerResult struct {
	value any
	err   error
}

type statusReq struct {
	resp chan types.WorkerStatus
}

// workerState is one live attempt at running a service's compiled
// program. A crash or an explicit kill replaces or discards it; the
// owning WorkerHandle always points at the current attempt.
type workerState struct {
	ref        types.ServiceRef
	namespace  string
	instance   WorkerInstance
	mailbox    chan workerMsg
	statusCh   chan statusReq
	killCh     chan struct{}
	startedAt  time.Time
	reductions atomic.Int64
}

func newWorkerState(ref types.ServiceRef, namespace string, instance WorkerInstance) *workerState {
	return &workerState{
		ref:       ref,
		namespace: namespace,
		instance:  instance,
		mailbox:   make(chan workerMsg, 256),
		statusCh:  make(chan statusReq),
		killCh:    make(chan struct{}),
		startedAt: time.Now(),
	}
}

// runWorker is the worker's mailbox loop. It runs until killed or
// until the instance's handle() function panics or returns an error,
// either of which is reported to onExit as a crash so the owning
// TenantSubSupervisor can apply the restart policy.
func runWorker(ws *workerState, onExit func(exitReason)) {
	defer func() {
		if r := recover(); r != nil {
			onExit(exitCrashed)
		}
	}()

	for {
		select {
		case <-ws.killCh:
			onExit(exitKilled)
			return

		case req := <-ws.statusCh:
			req.resp <- types.WorkerStatus{
				Alive:      true,
				Namespace:  ws.namespace,
				Memory:     estimateMemory(ws),
				QueueLen:   len(ws.mailbox),
				Reductions: ws.reductions.Load(),
			}

		case msg := <-ws.mailbox:
			result, err := ws.instance.Handle(msg.payload)
			ws.reductions.Add(1)
			if msg.resp != nil {
				msg.resp <- workerResult{value: result, err: err}
			}
			if err != nil {
				onExit(exitCrashed)
				return
			}
		}
	}
}

// estimateMemory is a coarse per-worker footprint estimate: goja
// gives no cheap per-VM heap introspection, so this approximates
// from activity rather than sampling the true JS heap.
func estimateMemory(ws *workerState) int64 {
	const baseBytes = 64 * 1024
	return baseBytes + ws.reductions.Load()*128
}
