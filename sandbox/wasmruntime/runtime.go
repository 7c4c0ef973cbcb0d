// Package wasmruntime builds one fresh wazero module instance (with its own
// stdio buffers and module config) per guest invocation against the shared
// runtime and compiled toolbox module, and
// enforces the invocation's wall-clock, fuel, and memory ceilings.
package wasmruntime

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/sys"

	"github.com/gartnera/wasm-sandbox/sandbox/fetch"
	"github.com/gartnera/wasm-sandbox/sandbox/fetchbridge"
	"github.com/gartnera/wasm-sandbox/sandbox/wasmengine"
)

// Mount is one extra filesystem capability preopened to the guest, beyond
// the work directory which is always mounted at "/work".
type Mount struct {
	HostPath  string
	GuestPath string
	Writable  bool
}

// Request describes one guest invocation.
type Request struct {
	Command          string // dispatched to the guest via TOOLBOX_CMD and as argv[0]
	Args             []string
	WorkDir          string
	Mounts           []Mount
	EnvVars          map[string]string
	MemoryLimitBytes uint64
	FuelLimit        uint64
	FetchClient      *fetch.Client // nil disables the guest fetch bridge
}

// Result is the captured outcome of a successful (non-error) invocation.
type Result struct {
	ExitCode int32
	Stdout   []byte
	Stderr   []byte
}

// TrapError reports a guest trap or instantiation failure that is not a
// clean WASI exit. Fuel exhaustion is reported as ResourceExhaustedError.
type TrapError struct {
	Err error
}

func (e *TrapError) Error() string { return fmt.Sprintf("trap: %v", e.Err) }
func (e *TrapError) Unwrap() error { return e.Err }

// TimeoutError reports that the invocation exceeded its wall-clock budget.
type TimeoutError struct {
	Stdout, Stderr []byte
}

func (e *TimeoutError) Error() string { return "timeout" }

// ResourceExhaustedError reports the guest exceeded its fuel ceiling.
type ResourceExhaustedError struct {
	Spent, Limit uint64
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted: spent %d of %d fuel units", e.Spent, e.Limit)
}

const memoryPageSize = 65536

// Run performs one guest invocation under the limits in req, bounding the
// whole call at timeout, and returns the captured outputs on success or a
// typed error (*TrapError, *TimeoutError, *ResourceExhaustedError) on
// failure.
func Run(ctx context.Context, req Request, timeout time.Duration) (*Result, error) {
	engine, err := wasmengine.Get(ctx, memoryLimitPages(req.MemoryLimitBytes))
	if err != nil {
		return nil, &TrapError{Err: fmt.Errorf("acquiring engine: %w", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fuelLimit := req.FuelLimit
	factory := newFuelFactory(fuelLimit, cancel)
	runCtx = experimental.WithFunctionListenerFactory(runCtx, factory)
	runCtx = fetchbridge.WithClient(runCtx, req.FetchClient)

	linker := engine.Runtime

	var stdout, stderr bytes.Buffer

	fsConfig := wazero.NewFSConfig().WithDirMount(req.WorkDir, "/work")
	for _, m := range req.Mounts {
		if m.Writable {
			fsConfig = fsConfig.WithDirMount(m.HostPath, m.GuestPath)
		} else {
			fsConfig = fsConfig.WithReadOnlyDirMount(m.HostPath, m.GuestPath)
		}
	}

	modConfig := wazero.NewModuleConfig().
		WithName(""). // anonymous: many invocations instantiate the same compiled module concurrently
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithFSConfig(fsConfig).
		WithArgs(append([]string{req.Command}, req.Args...)...).
		WithEnv("TOOLBOX_CMD", req.Command)
	for k, v := range req.EnvVars {
		modConfig = modConfig.WithEnv(k, v)
	}

	type outcome struct {
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		mod, err := linker.InstantiateModule(runCtx, engine.Compiled, modConfig)
		if mod != nil {
			defer mod.Close(runCtx)
		}
		done <- outcome{err: err}
	}()

	select {
	case o := <-done:
		return finish(o.err, stdout.Bytes(), stderr.Bytes(), factory)
	case <-runCtx.Done():
		if factory.Spent() > fuelLimit {
			return nil, &ResourceExhaustedError{Spent: factory.Spent(), Limit: fuelLimit}
		}
		return nil, &TimeoutError{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	}
}

func finish(err error, stdout, stderr []byte, factory *fuelFactory) (*Result, error) {
	if err == nil {
		return &Result{ExitCode: 0, Stdout: stdout, Stderr: stderr}, nil
	}
	if exitErr, ok := err.(*sys.ExitError); ok {
		return &Result{ExitCode: int32(exitErr.ExitCode()), Stdout: stdout, Stderr: stderr}, nil
	}
	if factory.Spent() > factory.limit {
		return nil, &ResourceExhaustedError{Spent: factory.Spent(), Limit: factory.limit}
	}
	return nil, &TrapError{Err: err}
}

// defaultMemoryLimitPages is used only if a caller passes a zero byte
// ceiling straight through; Sandbox always resolves Config's default first.
const defaultMemoryLimitPages = 4096 // 256 MiB

func memoryLimitPages(bytesLimit uint64) uint32 {
	if bytesLimit == 0 {
		return defaultMemoryLimitPages
	}
	pages := bytesLimit / memoryPageSize
	if bytesLimit%memoryPageSize != 0 {
		pages++
	}
	return uint32(pages)
}
