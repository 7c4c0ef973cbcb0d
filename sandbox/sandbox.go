// Package sandbox is the embeddable facade: one Sandbox per caller-supplied
// work directory, exposing file access, a snapshot diff, allowlisted
// command execution inside a WASM guest, and a policy-gated HTTP fetch.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gartnera/wasm-sandbox/sandbox/allowlist"
	"github.com/gartnera/wasm-sandbox/sandbox/fetch"
	"github.com/gartnera/wasm-sandbox/sandbox/pathcap"
	"github.com/gartnera/wasm-sandbox/sandbox/wasmengine"
	"github.com/gartnera/wasm-sandbox/sandbox/wasmruntime"
)

// State is a Sandbox's lifecycle position.
type State int

const (
	Alive State = iota
	Destroyed
)

// Sandbox is the single entry point into the runtime. It is safe for
// concurrent use: the mutex guards only the lifecycle state transition,
// since every other field is immutable after New returns and the engine,
// compiled module, allowlist, and fetch client are themselves safe for
// concurrent use.
type Sandbox struct {
	mu    sync.Mutex
	state State

	cfg     Config
	paths   *pathcap.Validator
	allowed *allowlist.List
	fetch   *fetch.Client // nil when cfg.FetchPolicy is nil
	snap    *snapshot
}

// New validates config, takes the initial snapshot, and ensures the shared
// WASM engine is compiled. The returned Sandbox is Alive.
func New(ctx context.Context, cfg Config) (*Sandbox, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var roots []pathcap.Root
	for _, m := range cfg.Mounts {
		roots = append(roots, pathcap.Root{
			GuestPath: m.GuestPath,
			RealPath:  m.HostPath,
			Writable:  m.Writable,
		})
	}
	validator, err := pathcap.New(cfg.WorkDir, roots)
	if err != nil {
		return nil, newErr(KindInvalidConfig, cfg.WorkDir, err)
	}

	snap, err := takeSnapshot(cfg.WorkDir)
	if err != nil {
		return nil, newErr(KindIO, cfg.WorkDir, err)
	}

	var client *fetch.Client
	if cfg.FetchPolicy != nil {
		client = fetch.New(&fetch.Policy{
			AllowedDomains:   cfg.FetchPolicy.AllowedDomains,
			BlockedDomains:   cfg.FetchPolicy.BlockedDomains,
			DenyPrivateIPs:   cfg.FetchPolicy.DenyPrivateIPs,
			RequestTimeoutMS: cfg.FetchPolicy.RequestTimeoutMS,
			MaxRedirects:     cfg.FetchPolicy.MaxRedirects,
		})
	}

	if _, err := wasmengine.Get(ctx, memoryLimitPages(cfg.memoryLimitBytes())); err != nil {
		return nil, newErr(KindIO, "", fmt.Errorf("priming wasm engine: %w", err))
	}

	return &Sandbox{
		cfg:     cfg,
		state:   Alive,
		paths:   validator,
		allowed: allowlist.New(cfg.ExtraCommands),
		fetch:   client,
		snap:    snap,
	}, nil
}

func (s *Sandbox) checkAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Destroyed {
		return errDestroyed
	}
	return nil
}

// ReadFile returns the bytes at p, resolved and validated against the work
// directory and any extra mounts.
func (s *Sandbox) ReadFile(p string) ([]byte, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	real, err := s.paths.Validate(p, false)
	if err != nil {
		return nil, wrapTraversal(p, err)
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return nil, newErr(KindIO, p, err)
	}
	return data, nil
}

// WriteFile writes b to p, validated for write access, using a
// write-then-rename so a reader never observes a partial file.
func (s *Sandbox) WriteFile(p string, b []byte) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	real, err := s.paths.Validate(p, true)
	if err != nil {
		return wrapTraversal(p, err)
	}
	tmp := real + ".tmp-wasmsandbox"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return newErr(KindIO, p, err)
	}
	if err := os.Rename(tmp, real); err != nil {
		os.Remove(tmp)
		return newErr(KindIO, p, err)
	}
	return nil
}

// ListDir lists the entries directly inside p; order is unspecified.
func (s *Sandbox) ListDir(p string) ([]DirEntry, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	real, err := s.paths.Validate(p, false)
	if err != nil {
		return nil, wrapTraversal(p, err)
	}
	entries, err := os.ReadDir(real)
	if err != nil {
		return nil, newErr(KindIO, p, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, newErr(KindIO, p, err)
		}
		out = append(out, DirEntry{
			Name:   e.Name(),
			IsDir:  e.IsDir(),
			IsFile: !e.IsDir(),
			Size:   info.Size(),
		})
	}
	return out, nil
}

// Diff reports every path that differs from the snapshot taken at New.
func (s *Sandbox) Diff() ([]DiffEntry, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	entries, err := s.snap.diff(s.cfg.WorkDir)
	if err != nil {
		return nil, newErr(KindIO, s.cfg.WorkDir, err)
	}
	return entries, nil
}

// Exec runs cmd with args, either via the curl host interception or by
// dispatching into the guest toolbox.
func (s *Sandbox) Exec(ctx context.Context, cmd string, args []string) (*ExecResult, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if !s.allowed.IsAvailable(cmd) {
		return nil, newErr(KindCommandNotFound, cmd, nil)
	}
	if s.allowed.IsHostIntercepted(cmd) {
		return s.execCurl(ctx, args)
	}
	return s.execGuest(ctx, cmd, args)
}

// ExecJS is shorthand for Exec("node", ["-e", code]).
func (s *Sandbox) ExecJS(ctx context.Context, code string) (*ExecResult, error) {
	return s.Exec(ctx, "node", []string{"-e", code})
}

func (s *Sandbox) execGuest(ctx context.Context, cmd string, args []string) (*ExecResult, error) {
	var mounts []wasmruntime.Mount
	for _, m := range s.cfg.Mounts {
		mounts = append(mounts, wasmruntime.Mount{
			HostPath:  m.HostPath,
			GuestPath: m.GuestPath,
			Writable:  m.Writable,
		})
	}

	req := wasmruntime.Request{
		Command:          cmd,
		Args:             args,
		WorkDir:          s.cfg.WorkDir,
		Mounts:           mounts,
		EnvVars:          s.cfg.EnvVars,
		MemoryLimitBytes: s.cfg.memoryLimitBytes(),
		FuelLimit:        s.cfg.fuelLimit(),
		FetchClient:      s.fetch,
	}

	result, err := wasmruntime.Run(ctx, req, s.cfg.timeout())
	if err != nil {
		return nil, wrapRuntimeErr(cmd, err)
	}
	return &ExecResult{ExitCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr}, nil
}

// Fetch performs req through the configured safe HTTP client.
func (s *Sandbox) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if s.fetch == nil {
		return nil, newErr(KindNetworkingDisabled, req.URL, nil)
	}
	resp, err := s.fetch.Do(ctx, fetch.Request{
		URL:     req.URL,
		Method:  req.Method,
		Headers: req.Headers,
		Body:    req.Body,
	})
	if err != nil {
		return nil, wrapFetchErr(req.URL, err)
	}
	return &FetchResponse{
		Status:  resp.Status,
		OK:      resp.OK,
		Body:    resp.Body,
		Headers: resp.Headers,
	}, nil
}

// Destroy transitions the sandbox to Destroyed. Idempotent; every
// subsequent call to any other method fails with a "destroyed" error.
func (s *Sandbox) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Destroyed
}

func wrapTraversal(input string, err error) error {
	return newErr(KindPathTraversal, input, err)
}

func wrapFetchErr(input string, err error) error {
	switch err.(type) {
	case *fetch.PolicyError:
		return newErr(KindPolicyDenied, input, err)
	case *fetch.TransportError:
		return newErr(KindTransportError, input, err)
	default:
		return newErr(KindIO, input, err)
	}
}

func wrapRuntimeErr(input string, err error) error {
	switch err.(type) {
	case *wasmruntime.TimeoutError:
		return newErr(KindTimeout, input, err)
	case *wasmruntime.ResourceExhaustedError:
		return newErr(KindResourceExhausted, input, err)
	case *wasmruntime.TrapError:
		return newErr(KindTrap, input, err)
	default:
		return newErr(KindTrap, input, err)
	}
}

const wasmMemoryPageSize = 65536

// memoryLimitPages converts a byte ceiling into the page count wazero's
// engine config wants, mirroring wasmruntime's own conversion so New's
// priming call and every later Exec agree on the same engine.
func memoryLimitPages(bytesLimit uint64) uint32 {
	pages := bytesLimit / wasmMemoryPageSize
	if bytesLimit%wasmMemoryPageSize != 0 {
		pages++
	}
	return uint32(pages)
}
