// Package config persists the CLI's defaults for sandbox.Config: the work
// directory, extra mounts, fetch policy domains, allowlist extensions, and
// resource ceilings. It is seeded at startup and hot-reloaded, but the
// sandbox.Config passed to sandbox.New for any already-running Sandbox
// remains the authority, per spec.md's "immutable after construction".
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const appName = "wasm-sandbox"

// MountConfig is one persisted extra filesystem mount.
type MountConfig struct {
	HostPath  string `yaml:"host_path"`
	GuestPath string `yaml:"guest_path"`
	Writable  bool   `yaml:"writable,omitempty"`
}

// FetchPolicyConfig persists the domain allow/block lists and SSRF guards
// applied to Sandbox.Fetch, the curl interceptor, and the guest fetch
// bridge.
type FetchPolicyConfig struct {
	AllowedDomains   []string `yaml:"allowed_domains,omitempty"`
	BlockedDomains   []string `yaml:"blocked_domains,omitempty"`
	DenyPrivateIPs   *bool    `yaml:"deny_private_ips,omitempty"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms,omitempty"`
	MaxRedirects     int      `yaml:"max_redirects,omitempty"`
}

// DenyPrivateIPsEnabled returns whether private/loopback/link-local
// addresses are rejected (default: true — the safe default for an agent
// sandbox with networking enabled at all).
func (f *FetchPolicyConfig) DenyPrivateIPsEnabled() bool {
	if f == nil || f.DenyPrivateIPs == nil {
		return true
	}
	return *f.DenyPrivateIPs
}

// Config holds all persisted defaults. New fields can be added over time;
// unknown YAML fields are silently ignored for forward compatibility.
type Config struct {
	WorkDir          string             `yaml:"work_dir,omitempty"`
	Mounts           []MountConfig      `yaml:"mounts,omitempty"`
	ExtraCommands    []string           `yaml:"extra_commands,omitempty"`
	FetchPolicy      *FetchPolicyConfig `yaml:"fetch_policy,omitempty"`
	TimeoutMS        int                `yaml:"timeout_ms,omitempty"`
	MemoryLimitBytes uint64             `yaml:"memory_limit_bytes,omitempty"`
	FuelLimit        uint64             `yaml:"fuel_limit,omitempty"`
}

// Path returns the platform-appropriate config file path. If
// WASM_SANDBOX_CONFIG is set, that path is used directly.
func Path() (string, error) {
	if p := os.Getenv("WASM_SANDBOX_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine config directory: %w", err)
	}
	return filepath.Join(dir, appName, "config.yaml"), nil
}

// Load reads and parses the config file. If the file does not exist, a
// zero-value Config is returned with no error.
func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg to the YAML file, creating the directory if needed.
func Save(cfg *Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Watch monitors the config file for changes and calls onChange with the
// newly loaded Config. It blocks until ctx is cancelled. If the config
// directory does not exist yet, Watch creates it so fsnotify can watch it.
func Watch(ctx context.Context, onChange func(*Config)) error {
	p, err := Path()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(p) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cfg, err := Load()
				if err != nil {
					slog.Error("failed to reload config", "error", err)
					continue
				}
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}
