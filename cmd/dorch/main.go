// Dorch - SDN Domain Orchestrator
//
// A daemon realising Network Function Forwarding Graphs (NF-FG) on an
// OpenFlow domain:
//   - Northbound REST API for deploying, updating and inspecting graphs
//   - Logical flow rules expanded to per-switch rules along shortest paths
//   - Transport VLAN tagging keeps deployments apart on inter-switch links
//   - VNFs realised as controller-hosted applications (ONOS)
//   - Domain description export for the upper orchestration layers
//
// Commands:
//
//	dorch serve              Run the orchestrator daemon
//	dorch user add <name>    Create an API user (prompts for the password)
//	dorch user list          List API users
//	dorch user remove <name> Delete an API user
//	dorch version            Print version information
//
// The configuration file is resolved from --config, the DORCH_CONFIG
// environment variable, or /etc/dorch/config.yaml, in that order.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dorch-network/dorch/pkg/dorch/config"
	"github.com/dorch-network/dorch/pkg/util"
	"github.com/dorch-network/dorch/pkg/version"
)

var (
	// Global option flags
	configPath string

	// Global state
	cfg *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "dorch",
	Short:             "SDN Domain Orchestrator",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Dorch realises Network Function Forwarding Graphs on an OpenFlow
domain: logical endpoint-to-endpoint rules become per-switch flows along
shortest paths, kept apart by transport VLAN tags, with VNFs activated as
controller applications.

  dorch serve --config /etc/dorch/config.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isHelpOrVersion(cmd) {
			return nil
		}
		var err error
		cfg, err = config.Load(config.Path(configPath))
		if err != nil {
			return err
		}
		if err := util.SetLogLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("dorch dev build (use 'make build' for version info)")
		} else {
			fmt.Printf("dorch %s (%s)\n", version.Version, version.GitCommit)
		}
	},
}

// isHelpOrVersion checks whether cmd (or any ancestor) is a help or
// version command, which run without a configuration file.
func isHelpOrVersion(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version":
			return true
		}
	}
	return false
}
