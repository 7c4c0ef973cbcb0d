// Package wasmengine holds the process-wide, once-initialized wazero
// runtime and compiled toolbox module shared read-only by every sandbox.
package wasmengine

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/gartnera/wasm-sandbox/sandbox/fetchbridge"
)

//go:embed toolbox.wasm
var toolboxWASM []byte

// Engine bundles the shared runtime and its one compiled module. Both are
// safe for concurrent use across many sandboxes: wazero's CompiledModule is
// immutable, and Runtime.InstantiateModule is called fresh per invocation.
type Engine struct {
	Runtime  wazero.Runtime
	Compiled wazero.CompiledModule
}

var (
	once    sync.Once
	shared  *Engine
	initErr error
)

// Get returns the shared Engine, compiling it on first call. Every
// subsequent call, concurrent or not, returns the same instance.
//
// memoryLimitPages bounds every module the engine ever instantiates: wazero
// ties WithMemoryLimitPages to the Runtime, not to an individual module
// instantiation, so unlike the fuel and wall-clock ceilings (which are
// genuinely per-invocation) the memory ceiling is fixed by whichever
// sandbox happens to initialize the engine first. Later callers passing a
// different value are silently bound by the first value; this is recorded
// as an accepted limitation, not a bug.
func Get(ctx context.Context, memoryLimitPages uint32) (*Engine, error) {
	once.Do(func() {
		shared, initErr = newEngine(ctx, memoryLimitPages)
	})
	return shared, initErr
}

func newEngine(ctx context.Context, memoryLimitPages uint32) (*Engine, error) {
	cfg := runtimeConfig(memoryLimitPages)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiating WASI: %w", err)
	}

	// The fetch bridge host module is registered once, here, on the shared
	// runtime rather than per invocation: a guest import namespace can only
	// be bound once per Runtime. Per-call state (which client, which
	// pending response) rides the context each call carries instead; see
	// fetchbridge.WithClient.
	hostBuilder := rt.NewHostModuleBuilder(fetchbridge.ModuleName)
	fetchbridge.Register(hostBuilder)
	if _, err := hostBuilder.Instantiate(ctx); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiating fetch bridge: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, toolboxWASM)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compiling toolbox module: %w", err)
	}

	return &Engine{Runtime: rt, Compiled: compiled}, nil
}

// runtimeConfig builds a compiler-backed config, falling back to the
// interpreter on platforms wazero's compiler doesn't support.
// NewRuntimeConfigCompiler panics on an unsupported GOOS/GOARCH rather than
// returning an error, so the fallback is a recover, not a feature check.
// WithCloseOnContextDone is what actually stops an in-flight guest call when
// the caller's context is cancelled or times out; everything this package
// calls "interruption" rests on that flag.
func runtimeConfig(memoryLimitPages uint32) (cfg wazero.RuntimeConfig) {
	defer func() {
		if recover() != nil {
			cfg = wazero.NewRuntimeConfigInterpreter().
				WithCloseOnContextDone(true).
				WithMemoryLimitPages(memoryLimitPages)
		}
	}()
	return wazero.NewRuntimeConfigCompiler().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(memoryLimitPages)
}
