package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"

	"github.com/gartnera/wasm-sandbox/config"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check this environment's capability to run the sandbox",
	Long: `Checks that the host architecture supports wazero's ahead-of-time
compiler (falling back to the interpreter is still viable, but slower), and
that the configured work directory exists and is writable.`,
	RunE: runPreflight,
}

func init() {
	rootCmd.AddCommand(preflightCmd)
}

func runPreflight(cmd *cobra.Command, args []string) error {
	ok := true

	if compilerSupported() {
		fmt.Println("ok   wazero compiler supported for this architecture")
	} else {
		fmt.Println("warn wazero compiler unsupported here; falling back to the interpreter (slower)")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("warn failed to load persisted config: %v\n", err)
		cfg = &config.Config{}
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			fmt.Printf("fail could not determine a work directory: %v\n", err)
			ok = false
		}
	}

	if workDir != "" {
		if err := checkWritable(workDir); err != nil {
			fmt.Printf("fail work directory %q is not writable: %v\n", workDir, err)
			ok = false
		} else {
			fmt.Printf("ok   work directory %q is writable\n", workDir)
		}
	}

	if !ok {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

// compilerSupported reports whether wazero's ahead-of-time compiler backend
// is usable on this GOOS/GOARCH. NewRuntimeConfigCompiler panics rather than
// returning an error on unsupported platforms, so detection is a recover.
func compilerSupported() (supported bool) {
	defer func() {
		if recover() != nil {
			supported = false
		}
	}()
	_ = wazero.NewRuntimeConfigCompiler()
	return true
}

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	probe, err := os.CreateTemp(dir, ".wasm-sandbox-preflight-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
