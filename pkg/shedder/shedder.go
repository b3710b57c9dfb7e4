// Package shedder implements process-wide admission control: a
// tenant may not have more than max_per_tenant in-flight operations,
// and the process as a whole may not exceed max_total. Built as a
// single-serialized actor goroutine, the same pattern pkg/registry
// and pkg/events use, so acquire/release/stats are linearized without
// a mutex guarding shared maps directly.
package shedder

import (
	"github.com/cuemby/kestrel/pkg/config"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/google/uuid"
)

// Stats is a point-in-time snapshot of admission-control state.
type Stats struct {
	PerTenant     map[types.TenantID]int
	TotalInFlight int
	NumTenants    int
	MaxPerTenant  int
	MaxTotal      int
}

type command any

type checkCmd struct {
	tenant types.TenantID
	resp   chan bool
}

type acquireCmd struct {
	tenant types.TenantID
	resp   chan acquireResult
}

type acquireResult struct {
	token string
	ok    bool
}

type releaseCmd struct {
	token string
}

type statsCmd struct {
	resp chan Stats
}

// Shedder is the process-wide LoadShedder actor.
type Shedder struct {
	cfg    config.Config
	cmdCh  chan command
	stopCh chan struct{}
}

// New constructs a Shedder reading tenant limit overrides from cfg.
// Callers must call Start before using it.
func New(cfg config.Config) *Shedder {
	return &Shedder{
		cfg:    cfg,
		cmdCh:  make(chan command, 64),
		stopCh: make(chan struct{}),
	}
}

// Start launches the actor goroutine.
func (s *Shedder) Start() { go s.run() }

// Stop terminates the actor goroutine.
func (s *Shedder) Stop() { close(s.stopCh) }

func (s *Shedder) run() {
	perTenant := make(map[types.TenantID]int)
	tokens := make(map[string]types.TenantID)

	fits := func(tenant types.TenantID) bool {
		maxPerTenant, maxTotal := s.cfg.TenantLimits(string(tenant))
		if perTenant[tenant] >= maxPerTenant {
			return false
		}
		total := 0
		for _, c := range perTenant {
			total += c
		}
		return total < maxTotal
	}

	for {
		select {
		case <-s.stopCh:
			return

		case raw := <-s.cmdCh:
			switch c := raw.(type) {
			case checkCmd:
				c.resp <- fits(c.tenant)

			case acquireCmd:
				if !fits(c.tenant) {
					c.resp <- acquireResult{ok: false}
					continue
				}
				token := uuid.NewString()
				tokens[token] = c.tenant
				perTenant[c.tenant]++
				c.resp <- acquireResult{token: token, ok: true}

			case releaseCmd:
				tenant, ok := tokens[c.token]
				if !ok {
					continue
				}
				delete(tokens, c.token)
				perTenant[tenant]--
				if perTenant[tenant] <= 0 {
					delete(perTenant, tenant)
				}

			case statsCmd:
				snap := Stats{
					PerTenant:    make(map[types.TenantID]int, len(perTenant)),
					MaxPerTenant: s.cfg.MaxPerTenant,
					MaxTotal:     s.cfg.MaxTotal,
				}
				for t, n := range perTenant {
					snap.PerTenant[t] = n
					snap.TotalInFlight += n
				}
				snap.NumTenants = len(perTenant)
				c.resp <- snap
			}
		}
	}
}

// Check is a non-mutating probe: would acquire(tenant) currently
// succeed?
func (s *Shedder) Check(tenant types.TenantID) bool {
	resp := make(chan bool, 1)
	s.cmdCh <- checkCmd{tenant: tenant, resp: resp}
	return <-resp
}

// Acquire reserves one in-flight slot for tenant, returning a token
// that must be passed to Release. Returns ErrOverloaded if tenant or
// the process as a whole is at its limit.
func (s *Shedder) Acquire(tenant types.TenantID) (string, error) {
	resp := make(chan acquireResult, 1)
	s.cmdCh <- acquireCmd{tenant: tenant, resp: resp}
	r := <-resp
	if !r.ok {
		return "", types.NewError(types.ErrOverloaded, "admission limit reached for tenant "+string(tenant))
	}
	return r.token, nil
}

// Release frees the slot held by token. Idempotent: releasing an
// unknown or already-released token is a no-op.
func (s *Shedder) Release(token string) {
	s.cmdCh <- releaseCmd{token: token}
}

// Stats returns a point-in-time snapshot of admission-control state.
func (s *Shedder) Stats() Stats {
	resp := make(chan Stats, 1)
	s.cmdCh <- statsCmd{resp: resp}
	return <-resp
}
