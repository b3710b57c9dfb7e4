package runtime

import (
	"fmt"
	"sync"

	"github.com/cuemby/kestrel/pkg/types"
	"github.com/dop251/goja"
)

// Factory is a compiled, reusable worker program. Compiling once and
// instantiating many times avoids re-parsing the same source on every
// deploy and every hot-swap attempt.
type Factory struct {
	program *goja.Program
	source  string
}

// Compile parses source as the given format and returns a Factory
// ready to mint Instances. Only types.FormatJS is implemented; every
// other format is rejected rather than silently ignored.
func Compile(spec types.ServiceSpec) (*Factory, error) {
	if spec.Format != types.FormatJS {
		return nil, types.NewError(types.ErrInvalidInput, fmt.Sprintf("unsupported code format: %s", spec.Format))
	}
	program, err := goja.Compile(string(spec.Name), spec.Code, true)
	if err != nil {
		return nil, types.Wrap(types.ErrInvalidInput, "failed to compile service code", err)
	}
	return &Factory{program: program, source: spec.Code}, nil
}

// Instance is one running copy of a compiled Factory's program,
// bound to a single goja VM. A goja.Runtime is not safe for
// concurrent use, so every call into an Instance is serialized by the
// owning Worker's mailbox loop.
type Instance struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	handle  goja.Callable
	migrate goja.Callable
	export  goja.Callable
}

// New instantiates the Factory's program in a fresh VM. The program
// must define a top-level `function handle(message)` — everything
// else (migrate, exportState) is optional.
func (f *Factory) New(namespace string) (*Instance, error) {
	vm := goja.New()
	vm.Set("__namespace", namespace)

	if _, err := vm.RunProgram(f.program); err != nil {
		return nil, types.Wrap(types.ErrInvalidInput, "failed to initialize service instance", err)
	}

	handleVal := vm.Get("handle")
	handleFn, ok := goja.AssertFunction(handleVal)
	if !ok {
		return nil, types.NewError(types.ErrInvalidInput, "service code must define function handle(message)")
	}

	inst := &Instance{vm: vm, handle: handleFn}

	if migrateVal := vm.Get("migrate"); migrateVal != nil {
		if migrateFn, ok := goja.AssertFunction(migrateVal); ok {
			inst.migrate = migrateFn
		}
	}
	if exportVal := vm.Get("exportState"); exportVal != nil {
		if exportFn, ok := goja.AssertFunction(exportVal); ok {
			inst.export = exportFn
		}
	}

	return inst, nil
}

// Handle dispatches one message to the instance's handle function.
func (i *Instance) Handle(message any) (any, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	result, err := i.handle(goja.Undefined(), i.vm.ToValue(message))
	if err != nil {
		return nil, fmt.Errorf("handle() raised: %w", err)
	}
	return result.Export(), nil
}

// HasMigrate reports whether the compiled program defined migrate().
func (i *Instance) HasMigrate() bool { return i.migrate != nil }

// Migrate invokes the instance's optional migrate(oldState) hook. It
// is the caller's responsibility to only call this on a freshly
// created instance, before any Handle call.
func (i *Instance) Migrate(oldState any) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.migrate == nil {
		return nil
	}
	_, err := i.migrate(goja.Undefined(), i.vm.ToValue(oldState))
	if err != nil {
		return fmt.Errorf("migrate() raised: %w", err)
	}
	return nil
}

// ExportState invokes the instance's optional exportState() hook,
// used to snapshot state before a hot-swap. Returns nil if the
// program defines no such hook.
func (i *Instance) ExportState() (any, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.export == nil {
		return nil, nil
	}
	result, err := i.export(goja.Undefined())
	if err != nil {
		return nil, fmt.Errorf("exportState() raised: %w", err)
	}
	return result.Export(), nil
}
