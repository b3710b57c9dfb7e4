package metrics

import (
	"time"

	"github.com/cuemby/kestrel/pkg/breaker"
	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/registry"
	"github.com/cuemby/kestrel/pkg/shedder"
	"github.com/cuemby/kestrel/pkg/types"
)

// Collector periodically samples Kestrel's live subsystems and
// publishes their state as gauges, the same polling-ticker shape the
// teacher used for its cluster-wide collector.
type Collector struct {
	registry *registry.Registry
	events   *events.EventStore
	shedder  *shedder.Shedder
	breakers *breaker.Registry

	stopCh chan struct{}
}

// NewCollector constructs a Collector wired to the kernel's running
// subsystems.
func NewCollector(reg *registry.Registry, es *events.EventStore, sh *shedder.Shedder, br *breaker.Registry) *Collector {
	return &Collector{
		registry: reg,
		events:   es,
		shedder:  sh,
		breakers: br,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic collection on its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector's goroutine.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkerMetrics()
	c.collectEventMetrics()
	c.collectShedderMetrics()
	c.collectBreakerMetrics()
}

func (c *Collector) collectWorkerMetrics() {
	if c.registry == nil {
		return
	}

	perTenant := make(map[types.TenantID]int)
	tenants := make(map[types.TenantID]struct{})
	for ref, handle := range c.registry.All() {
		tenants[ref.Tenant] = struct{}{}
		if handle.Status().Alive {
			perTenant[ref.Tenant]++
		}
	}

	WorkersTotal.Reset()
	for tenant, count := range perTenant {
		WorkersTotal.WithLabelValues(string(tenant)).Set(float64(count))
	}
	TenantsTotal.Set(float64(len(tenants)))
}

func (c *Collector) collectEventMetrics() {
	if c.events == nil {
		return
	}
	EventStoreLastID.Set(float64(c.events.LastID()))
}

func (c *Collector) collectShedderMetrics() {
	if c.shedder == nil {
		return
	}

	stats := c.shedder.Stats()
	InFlightTotal.Reset()
	for tenant, inFlight := range stats.PerTenant {
		InFlightTotal.WithLabelValues(string(tenant)).Set(float64(inFlight))
	}
}

func (c *Collector) collectBreakerMetrics() {
	if c.breakers == nil {
		return
	}

	CircuitBreakerState.Reset()
	for ref, state := range c.breakers.Snapshot() {
		CircuitBreakerState.WithLabelValues(string(ref.Tenant), string(ref.Service)).Set(float64(state))
	}
}
