// Package deploy turns a ServiceSpec into a running, supervised
// worker: compile the source with pkg/runtime, start it under the
// tenant's TenantSubSupervisor, and register the resulting handle in
// pkg/registry. Namespace derives a collision-free sandbox name from
// a (tenant, service) pair by sanitizing each segment independently
// and joining with a separator that can't occur inside a sanitized
// segment.
package deploy
