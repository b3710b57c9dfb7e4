// Package registry maintains the (tenant, service) -> worker handle
// map every deploy, status, kill and discovery operation consults. It
// follows the same single-actor-goroutine shape as pkg/events: one
// goroutine owns the map, reached through a command channel, so
// Register's check-and-insert uniqueness test is atomic without a
// mutex held across a caller-supplied factory call.
package registry
