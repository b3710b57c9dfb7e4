// Package supervisor implements Kestrel's supervision tree: System
// owns one TenantSupervisor per tenant (created lazily, never
// implicitly removed), each wrapping a TenantSubSupervisor that runs
// and restarts that tenant's workers. Every worker follows a
// "transient" restart policy — restarted on crash with exponential
// backoff, never restarted after an explicit Kill — so a crash loop
// in one tenant's service can never propagate into another tenant's
// supervision tree.
package supervisor
