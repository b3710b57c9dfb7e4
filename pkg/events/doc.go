// Package events implements the EventStore: a single-writer,
// multi-reader, totally-ordered append-only log of everything that
// happens inside the kernel. Writes go through one actor goroutine
// reached via a command channel (the same shape as Warren's old
// Broker, generalized with persistence, monotonic ids and causation
// tracking); reads are served from an in-memory buffer bounded by a
// retention window and a maximum retained count, with BoltDB behind
// it for durability and replay on restart.
package events
