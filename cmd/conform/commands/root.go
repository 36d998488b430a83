package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conform",
		Short: "OpenConform - Network Configuration Compliance Engine",
		Long: `OpenConform detects configuration drift on network devices, generates
remediation command sequences, and deploys them as reviewable plans.

Features:
  - Per-feature diff of intended vs actual configuration (cli, json, custom)
  - Remediation command synthesis from per-platform rule sets
  - Config plans scoped by composable device filters
  - Parallel plan deployment with bounded workers and transient-failure retries
  - Policy-gated deployments (change control, forbidden commands, blast radius)
  - Rule and policy hot reload`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "workspace config file path (default conform.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInventoryCommand())
	rootCmd.AddCommand(newIntendedCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newRemediateCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newCancelCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newRulesCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newEventsCommand())

	return rootCmd
}

// addFilterFlags registers the shared device-selection flags on a command.
func addFilterFlags(cmd *cobra.Command) *filterFlags {
	flags := &filterFlags{}
	cmd.Flags().StringSliceVar(&flags.names, "device", nil, "device hostname (repeatable)")
	cmd.Flags().StringSliceVar(&flags.ids, "id", nil, "device ID (repeatable)")
	cmd.Flags().StringSliceVar(&flags.locations, "location", nil, "filter by location (repeatable)")
	cmd.Flags().StringSliceVar(&flags.roles, "role", nil, "filter by role (repeatable)")
	cmd.Flags().StringSliceVar(&flags.platforms, "platform", nil, "filter by platform (repeatable)")
	cmd.Flags().StringSliceVar(&flags.deviceTypes, "device-type", nil, "filter by hardware model (repeatable)")
	cmd.Flags().StringSliceVar(&flags.tags, "tag", nil, "filter by tag (repeatable)")
	cmd.Flags().StringSliceVar(&flags.statuses, "status", nil, "filter by device status (repeatable)")
	return flags
}
