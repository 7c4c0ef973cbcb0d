package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gartnera/wasm-sandbox/config"
)

var fetchPolicyCmd = &cobra.Command{
	Use:   "fetch-policy",
	Short: "Manage the outbound HTTP fetch policy",
}

var fetchPolicyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current fetch policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fp := cfg.FetchPolicy
		if fp == nil {
			fmt.Println("networking disabled (no fetch policy configured)")
			return nil
		}
		fmt.Printf("deny_private_ips: %v\n", fp.DenyPrivateIPsEnabled())
		fmt.Printf("allowed_domains: %v\n", fp.AllowedDomains)
		fmt.Printf("blocked_domains: %v\n", fp.BlockedDomains)
		return nil
	},
}

func ensureFetchPolicy(cfg *config.Config) *config.FetchPolicyConfig {
	if cfg.FetchPolicy == nil {
		cfg.FetchPolicy = &config.FetchPolicyConfig{}
	}
	return cfg.FetchPolicy
}

var allowDomainCmd = &cobra.Command{
	Use:   "allow-domain <domain>...",
	Short: "Add domains to the fetch policy allowlist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fp := ensureFetchPolicy(cfg)
		fp.AllowedDomains = append(fp.AllowedDomains, args...)
		return saveConfig(cfg)
	},
}

var blockDomainCmd = &cobra.Command{
	Use:   "block-domain <domain>...",
	Short: "Add domains to the fetch policy blocklist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fp := ensureFetchPolicy(cfg)
		fp.BlockedDomains = append(fp.BlockedDomains, args...)
		return saveConfig(cfg)
	},
}

var denyPrivateIPsCmd = &cobra.Command{
	Use:   "deny-private-ips <true|false>",
	Short: "Toggle SSRF protection against private, loopback, and link-local addresses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fp := ensureFetchPolicy(cfg)
		deny := args[0] == "true"
		fp.DenyPrivateIPs = &deny
		return saveConfig(cfg)
	},
}

func init() {
	fetchPolicyCmd.AddCommand(fetchPolicyShowCmd)
	fetchPolicyCmd.AddCommand(allowDomainCmd)
	fetchPolicyCmd.AddCommand(blockDomainCmd)
	fetchPolicyCmd.AddCommand(denyPrivateIPsCmd)
	configCmd.AddCommand(fetchPolicyCmd)
}
