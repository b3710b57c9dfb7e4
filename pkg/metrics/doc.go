/*
Package metrics provides Prometheus metrics collection and exposition for
Kestrel.

Metrics are registered at package init and exposed via promhttp for
scraping. Collector periodically samples the kernel's live subsystems
(registry, event store, load shedder, breaker registry) and publishes
their state as gauges. The gateway request metrics and the deploy and
hot-swap duration histograms are observed inline by pkg/api/httpgw.
The remaining counters and gauges (deploys, crashes, events emitted,
event subscribers, hot swaps, capability grants and denials, secrets,
overloaded rejections) are registered and exposed, but no code in
this module updates them.

# Metrics Catalog

Registry / supervision:
  - kestrel_workers_total{tenant}: live workers per tenant
  - kestrel_tenants_total: tenants with a supervision tree
  - kestrel_service_deploys_total{result}: deploy attempts by result
  - kestrel_service_crashes_total{tenant}: worker crashes by tenant

Event store:
  - kestrel_events_emitted_total{event_type}
  - kestrel_event_store_last_id
  - kestrel_event_subscribers_total

Hot swap:
  - kestrel_hot_swaps_total{outcome}: succeeded/rolled_back/failed

Capability / vault:
  - kestrel_capability_grants_total
  - kestrel_capability_denials_total
  - kestrel_secrets_total{tenant}

Backpressure:
  - kestrel_inflight_total{tenant}
  - kestrel_overloaded_rejections_total{tenant}
  - kestrel_circuit_breaker_state{tenant,service}: 0=closed 1=open 2=half_open

Gateway:
  - kestrel_api_requests_total{operation,status}
  - kestrel_api_request_duration_seconds{operation}
  - kestrel_deploy_duration_seconds
  - kestrel_hot_swap_duration_seconds

# Usage

	timer := metrics.NewTimer()
	err := deployer.Deploy(ctx, spec)
	timer.ObserveDuration(metrics.DeployDuration)
	if err != nil {
		metrics.ServiceDeploysTotal.WithLabelValues("failed").Inc()
	} else {
		metrics.ServiceDeploysTotal.WithLabelValues("succeeded").Inc()
	}

	http.Handle("/v1/metrics", metrics.Handler())
*/
package metrics
