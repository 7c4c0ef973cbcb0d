package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gartnera/wasm-sandbox/config"
	"github.com/gartnera/wasm-sandbox/sandbox"
)

var (
	execWorkDir          string
	execMounts           []string
	execEnv              []string
	execTimeoutMS        int
	execMemoryLimitBytes uint64
	execFuelLimit        uint64
	execAllowDomains     []string
	execBlockDomains     []string
	execDenyPrivateIPs   bool
)

var execCmd = &cobra.Command{
	Use:   "exec <command> [args...]",
	Short: "Run a single allowlisted command inside the WASM sandbox",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExec(args[0], args[1:])
	},
}

func init() {
	execCmd.Flags().StringVar(&execWorkDir, "work-dir", "", "Work directory granted to the guest (defaults to the persisted work_dir, else the current directory)")
	execCmd.Flags().StringArrayVar(&execMounts, "mount", nil, "Extra mount as host:guest[:ro] (repeatable)")
	execCmd.Flags().StringArrayVar(&execEnv, "env", nil, "Extra guest environment variable as KEY=VALUE (repeatable)")
	execCmd.Flags().IntVar(&execTimeoutMS, "timeout-ms", 0, "Invocation timeout in milliseconds (0 uses the persisted value, else the package default)")
	execCmd.Flags().Uint64Var(&execMemoryLimitBytes, "memory-limit-bytes", 0, "Guest linear memory ceiling in bytes (0 uses the persisted value, else the package default)")
	execCmd.Flags().Uint64Var(&execFuelLimit, "fuel-limit", 0, "Guest fuel ceiling (0 uses the persisted value, else the package default)")
	execCmd.Flags().StringArrayVar(&execAllowDomains, "allow-domain", nil, "Domain to allow for outbound fetch (repeatable; enables networking)")
	execCmd.Flags().StringArrayVar(&execBlockDomains, "block-domain", nil, "Domain to block for outbound fetch (repeatable)")
	execCmd.Flags().BoolVar(&execDenyPrivateIPs, "deny-private-ips", true, "Reject fetch targets that resolve to private, loopback, or link-local addresses")
	rootCmd.AddCommand(execCmd)
}

func runExec(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}

	workDir := execWorkDir
	if workDir == "" {
		workDir = cfg.WorkDir
	}
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	sc := sandboxConfigFromPersisted(cfg, workDir)

	for _, spec := range execMounts {
		m, err := parseMountFlag(spec)
		if err != nil {
			return err
		}
		sc.Mounts = append(sc.Mounts, m)
	}

	if len(execEnv) > 0 {
		if sc.EnvVars == nil {
			sc.EnvVars = make(map[string]string, len(execEnv))
		}
		for _, kv := range execEnv {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("--env %q is not in KEY=VALUE form", kv)
			}
			sc.EnvVars[k] = v
		}
	}

	if execTimeoutMS > 0 {
		sc.Timeout = time.Duration(execTimeoutMS) * time.Millisecond
	}
	if execMemoryLimitBytes > 0 {
		sc.MemoryLimitBytes = execMemoryLimitBytes
	}
	if execFuelLimit > 0 {
		sc.FuelLimit = execFuelLimit
	}

	if len(execAllowDomains) > 0 || len(execBlockDomains) > 0 {
		if sc.FetchPolicy == nil {
			sc.FetchPolicy = &sandbox.FetchPolicy{DenyPrivateIPs: execDenyPrivateIPs}
		}
		sc.FetchPolicy.AllowedDomains = append(sc.FetchPolicy.AllowedDomains, execAllowDomains...)
		sc.FetchPolicy.BlockedDomains = append(sc.FetchPolicy.BlockedDomains, execBlockDomains...)
	}

	ctx := context.Background()
	sb, err := sandbox.New(ctx, sc)
	if err != nil {
		return fmt.Errorf("initializing sandbox: %w", err)
	}
	defer sb.Destroy()

	result, err := sb.Exec(ctx, command, args)
	if err != nil {
		return err
	}

	if len(result.Stdout) > 0 {
		os.Stdout.Write(result.Stdout)
	}
	if len(result.Stderr) > 0 {
		os.Stderr.Write(result.Stderr)
	}
	if result.ExitCode != 0 {
		os.Exit(int(result.ExitCode))
	}
	return nil
}

// parseMountFlag parses a --mount value of the form host:guest or
// host:guest:ro.
func parseMountFlag(spec string) (sandbox.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return sandbox.Mount{}, fmt.Errorf("--mount %q must be host:guest or host:guest:ro", spec)
	}
	m := sandbox.Mount{HostPath: parts[0], GuestPath: parts[1], Writable: true}
	if len(parts) == 3 {
		if parts[2] != "ro" {
			return sandbox.Mount{}, fmt.Errorf("--mount %q has an unrecognized third segment %q (expected ro)", spec, parts[2])
		}
		m.Writable = false
	}
	return m, nil
}
