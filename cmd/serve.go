package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/gartnera/wasm-sandbox/config"
	"github.com/gartnera/wasm-sandbox/sandbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start the MCP server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newMCPServer registers one MCP tool, "exec", backed by sb.
func newMCPServer(sb *sandbox.Sandbox) *server.MCPServer {
	s := server.NewMCPServer(
		"wasm-sandbox",
		"0.1.0",
	)

	execTool := mcp.NewTool(
		"exec",
		mcp.WithDescription("Execute an allowlisted command inside the WASM sandbox. Commands not on the allowlist are rejected before any sandboxed work happens."),
		mcp.WithString("command",
			mcp.Description("The allowlisted command name"),
			mcp.Required(),
		),
		mcp.WithArray("args",
			mcp.Description("Arguments to pass to the command"),
		),
	)

	s.AddTool(execTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := request.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: command"), nil
		}

		var execArgs []string
		if rawArgs, ok := request.Params.Arguments.(map[string]any); ok {
			if list, ok := rawArgs["args"].([]any); ok {
				for _, a := range list {
					if s, ok := a.(string); ok {
						execArgs = append(execArgs, s)
					}
				}
			}
		}

		result, err := sb.Exec(ctx, command, execArgs)
		if err != nil {
			var sbErr *sandbox.Error
			if errors.As(err, &sbErr) {
				return mcp.NewToolResultError(sbErr.Error()), nil
			}
			return mcp.NewToolResultError(err.Error()), nil
		}

		text := string(result.Stdout)
		if len(result.Stderr) > 0 {
			text += "\n--- stderr ---\n" + string(result.Stderr)
		}
		return mcp.NewToolResultText(text), nil
	})
	return s
}

func runServe() error {
	slog.Info("starting MCP server")

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = &config.Config{}
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sb, err := sandbox.New(ctx, sandboxConfigFromPersisted(cfg, workDir))
	if err != nil {
		return fmt.Errorf("initializing sandbox: %w", err)
	}
	defer sb.Destroy()

	go func() {
		err := config.Watch(ctx, func(newCfg *config.Config) {
			// sandbox.Config is immutable after New (spec §3); a reload here
			// only takes effect for the next process, not this live Sandbox.
			slog.Info("config changed on disk; restart to apply it to this server",
				"extra_commands", newCfg.ExtraCommands)
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("config watcher failed", "error", err)
		}
	}()

	s := newMCPServer(sb)
	return server.ServeStdio(s)
}

// sandboxConfigFromPersisted builds a sandbox.Config from the persisted CLI
// defaults.
func sandboxConfigFromPersisted(cfg *config.Config, workDir string) sandbox.Config {
	sc := sandbox.Config{
		WorkDir:          workDir,
		ExtraCommands:    cfg.ExtraCommands,
		Timeout:          time.Duration(cfg.TimeoutMS) * time.Millisecond,
		MemoryLimitBytes: cfg.MemoryLimitBytes,
		FuelLimit:        cfg.FuelLimit,
	}
	for _, m := range cfg.Mounts {
		sc.Mounts = append(sc.Mounts, sandbox.Mount{
			HostPath:  m.HostPath,
			GuestPath: m.GuestPath,
			Writable:  m.Writable,
		})
	}
	if cfg.FetchPolicy != nil {
		sc.FetchPolicy = &sandbox.FetchPolicy{
			AllowedDomains:   cfg.FetchPolicy.AllowedDomains,
			BlockedDomains:   cfg.FetchPolicy.BlockedDomains,
			DenyPrivateIPs:   cfg.FetchPolicy.DenyPrivateIPsEnabled(),
			RequestTimeoutMS: cfg.FetchPolicy.RequestTimeoutMS,
			MaxRedirects:     cfg.FetchPolicy.MaxRedirects,
		}
	}
	return sc
}
