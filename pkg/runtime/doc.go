// Package runtime compiles user-supplied service source into a
// runnable worker program and mints isolated instances of it. Each
// service's code is compiled once with goja into a *Factory; every
// worker process and every hot-swap attempt gets its own *Instance
// bound to a fresh goja VM, since a goja.Runtime is not safe for
// concurrent use.
package runtime
