// Package hotswap implements live code replacement for a running
// worker and the Watchdog that guards it: after a swap, the previous
// version stays armed for a rollback window, and an automatic
// rollback fires if the new version crashes before the window
// elapses. Built on pkg/supervisor's WorkerHandle.RequestSwap and
// pkg/events' subscription filtering, following the same
// actor-goroutine discipline the rest of the kernel uses instead of
// shared mutable state guarded by locks.
package hotswap
