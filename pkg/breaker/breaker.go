// Package breaker implements one CircuitBreaker per guarded service:
// closed -> open on a run of failures, open -> half_open after a
// reset timer, half_open -> closed on a run of successes or back to
// open on any failure. A timed-out or panicking call counts as a
// failure without the panic ever propagating past Call. Grounded on
// the actor-goroutine discipline the rest of this tree uses for
// linearized state machines, rather than a mutex-guarded struct.
package breaker

import (
	"context"
	"time"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/types"
)

// state is the breaker's closed taxonomy of states.
type state int

const (
	closed state = iota
	open
	halfOpen
)

// Config tunes a Breaker's thresholds and timers.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

// DefaultConfig returns the kernel-wide defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

type command any

type callCmd struct {
	resp chan callPermission
}

type callPermission struct {
	allowed bool
}

type resultCmd struct {
	success bool
}

type stateCmd struct {
	resp chan state
}

// Breaker guards a single service's calls.
type Breaker struct {
	ref    types.ServiceRef
	cfg    Config
	events *events.EventStore

	cmdCh  chan command
	stopCh chan struct{}
}

// New constructs a Breaker for ref using cfg's thresholds, emitting
// state transitions through es.
func New(ref types.ServiceRef, cfg Config, es *events.EventStore) *Breaker {
	b := &Breaker{
		ref:    ref,
		cfg:    cfg,
		events: es,
		cmdCh:  make(chan command, 16),
		stopCh: make(chan struct{}),
	}
	go b.run()
	return b
}

// Stop terminates the breaker's actor goroutine.
func (b *Breaker) Stop() { close(b.stopCh) }

func (b *Breaker) run() {
	st := closed
	failures := 0
	successes := 0
	var resetAt time.Time

	for {
		select {
		case <-b.stopCh:
			return

		case raw := <-b.cmdCh:
			switch c := raw.(type) {
			case callCmd:
				if st == open {
					if time.Now().Before(resetAt) {
						c.resp <- callPermission{allowed: false}
						continue
					}
					st = halfOpen
					successes = 0
				}
				c.resp <- callPermission{allowed: true}

			case resultCmd:
				switch st {
				case closed:
					if c.success {
						failures = 0
						continue
					}
					failures++
					if failures >= b.cfg.FailureThreshold {
						st = open
						resetAt = time.Now().Add(b.cfg.ResetTimeout)
						b.emitOpened()
					}

				case halfOpen:
					if !c.success {
						st = open
						resetAt = time.Now().Add(b.cfg.ResetTimeout)
						successes = 0
						continue
					}
					successes++
					if successes >= b.cfg.SuccessThreshold {
						st = closed
						failures = 0
						b.emitClosed()
					}

				case open:
					// A stray result can arrive after a timeout already forced
					// open; nothing to do until the next Call reopens the timer.
				}

			case stateCmd:
				c.resp <- st
			}
		}
	}
}

// State reports the breaker's current state (0=closed, 1=open, 2=half_open)
// for metrics and status introspection.
func (b *Breaker) State() int {
	resp := make(chan state, 1)
	b.cmdCh <- stateCmd{resp: resp}
	switch <-resp {
	case closed:
		return 0
	case open:
		return 1
	default:
		return 2
	}
}

func (b *Breaker) emitOpened() {
	_, _ = b.events.Emit(context.Background(), b.ref.Tenant, types.EventCircuitBreakerOpened, b.ref.String(), types.Payload{
		"service": string(b.ref.Service),
	}, nil)
}

func (b *Breaker) emitClosed() {
	_, _ = b.events.Emit(context.Background(), b.ref.Tenant, types.EventCircuitBreakerClosed, b.ref.String(), types.Payload{
		"service": string(b.ref.Service),
	}, nil)
}

// Call runs fn under the breaker's protection. If the breaker is
// open, it returns a CircuitOpen error without invoking fn. A timeout
// or a panic inside fn is reported as a failure and never escapes
// Call as a panic.
func (b *Breaker) Call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (any, error)) (result any, err error) {
	resp := make(chan callPermission, 1)
	b.cmdCh <- callCmd{resp: resp}
	if !(<-resp).allowed {
		return nil, types.NewError(types.ErrCircuitOpen, "circuit open for "+b.ref.String())
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: types.NewError(types.ErrTransientInternal, "panic in protected call")}
			}
		}()
		v, e := fn(callCtx)
		done <- outcome{value: v, err: e}
	}()

	select {
	case o := <-done:
		b.cmdCh <- resultCmd{success: o.err == nil}
		return o.value, o.err

	case <-callCtx.Done():
		b.cmdCh <- resultCmd{success: false}
		return nil, types.NewError(types.ErrTransientInternal, "call timed out")
	}
}
