package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/syntax"

	"github.com/gartnera/wasm-sandbox/config"
	"github.com/gartnera/wasm-sandbox/sandbox"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive sandbox shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell()
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// runShell reads lines from stdin, splits each into an argv with
// mvdan.cc/sh/v3/syntax purely as a quote-aware tokenizer, and executes the
// result through Sandbox.Exec. It never interprets shell semantics: no
// pipes, redirects, globs, or variable expansion.
func runShell() error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load config, using defaults: %v\n", err)
		cfg = &config.Config{}
	}

	ctx := context.Background()
	sb, err := sandbox.New(ctx, sandboxConfigFromPersisted(cfg, workDir))
	if err != nil {
		return fmt.Errorf("initializing sandbox: %w", err)
	}
	defer sb.Destroy()

	scanner := bufio.NewScanner(os.Stdin)
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))

	var cwd, prevCwd string // slash-separated, relative to the sandbox work dir; "" is the root

	for {
		fmt.Fprintf(os.Stderr, "sandbox:/%s$ ", cwd)

		var accumulated string
		if !scanner.Scan() {
			fmt.Fprintln(os.Stderr)
			break
		}
		accumulated = scanner.Text()

		for {
			_, err := parser.Parse(strings.NewReader(accumulated), "")
			if err == nil || !syntax.IsIncomplete(err) {
				break
			}
			fmt.Fprintf(os.Stderr, "> ")
			if !scanner.Scan() {
				break
			}
			accumulated += "\n" + scanner.Text()
		}

		line := strings.TrimSpace(accumulated)
		if line == "" {
			continue
		}
		if line == "exit" {
			break
		}

		if line == "cd" || strings.HasPrefix(line, "cd ") {
			target := strings.TrimSpace(strings.TrimPrefix(line, "cd"))
			cwd, prevCwd = changeDir(sb, cwd, prevCwd, target)
			continue
		}

		argv, err := tokenize(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sandbox: %v\n", err)
			continue
		}
		if len(argv) == 0 {
			continue
		}

		result, err := sb.Exec(ctx, argv[0], argv[1:])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if len(result.Stdout) > 0 {
			os.Stdout.Write(result.Stdout)
		}
		if len(result.Stderr) > 0 {
			os.Stderr.Write(result.Stderr)
		}
		if result.ExitCode != 0 {
			fmt.Fprintf(os.Stderr, "sandbox: exit %d\n", result.ExitCode)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("input error: %w", err)
	}
	return nil
}

// tokenize splits line into a quote-aware argv using the same bash word
// splitting rules as mvdan.cc/sh/v3, without evaluating any shell operator:
// a line containing "|", "&&", or similar is passed through as literal words,
// so the sandbox sees one opaque command plus its arguments.
func tokenize(line string) ([]string, error) {
	fields, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Fields(strings.NewReader(line))
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// changeDir updates the shell's displayed working directory. The sandbox's
// own work directory is fixed for the lifetime of sb (sandbox.Config is
// immutable after New), so cd never changes what Sandbox.Exec actually runs
// against; it only tracks a relative subdirectory for the prompt, validated
// against the sandbox's containment boundary via ListDir.
func changeDir(sb *sandbox.Sandbox, cwd, prevCwd, target string) (string, string) {
	var newCwd string
	switch {
	case target == "" || target == "~":
		newCwd = ""
	case target == "-":
		newCwd = prevCwd
		fmt.Fprintf(os.Stderr, "/%s\n", newCwd)
	case strings.HasPrefix(target, "/"):
		newCwd = strings.TrimPrefix(target, "/")
	default:
		newCwd = path.Join(cwd, target)
	}
	newCwd = path.Clean(newCwd)
	if newCwd == "." {
		newCwd = ""
	}

	entries, err := sb.ListDir(newCwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cd: %v\n", err)
		return cwd, prevCwd
	}
	_ = entries

	return newCwd, cwd
}
