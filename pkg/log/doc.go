// Package log provides Kestrel's structured logging wrapper around
// zerolog: a global logger configured once at startup and a set of
// context-logger helpers (component, tenant, service) used throughout
// the kernel.
package log
