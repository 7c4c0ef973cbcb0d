package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gartnera/wasm-sandbox/config"
)

var mountsCmd = &cobra.Command{
	Use:   "mounts",
	Short: "Manage extra filesystem mounts granted to the guest",
}

var mountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured extra mounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, m := range cfg.Mounts {
			fmt.Printf("%s -> %s (writable=%v)\n", m.HostPath, m.GuestPath, m.Writable)
		}
		return nil
	},
}

var mountsWritable bool

var mountsAddCmd = &cobra.Command{
	Use:   "add <host-path> <guest-path>",
	Short: "Add an extra mount",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Mounts = append(cfg.Mounts, config.MountConfig{
			HostPath:  args[0],
			GuestPath: args[1],
			Writable:  mountsWritable,
		})
		return saveConfig(cfg)
	},
}

var mountsRemoveCmd = &cobra.Command{
	Use:   "remove <guest-path>",
	Short: "Remove an extra mount by its guest path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		filtered := cfg.Mounts[:0]
		for _, m := range cfg.Mounts {
			if m.GuestPath != args[0] {
				filtered = append(filtered, m)
			}
		}
		cfg.Mounts = filtered
		return saveConfig(cfg)
	},
}

func init() {
	mountsAddCmd.Flags().BoolVar(&mountsWritable, "writable", false, "Mount the host path writable")
	mountsCmd.AddCommand(mountsListCmd)
	mountsCmd.AddCommand(mountsAddCmd)
	mountsCmd.AddCommand(mountsRemoveCmd)
	configCmd.AddCommand(mountsCmd)
}
