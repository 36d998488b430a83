package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/rules"
)

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate and inspect the CUE rule sources",
	}

	cmd.AddCommand(newRulesValidateCommand())
	cmd.AddCommand(newRulesListCommand())

	return cmd
}

func newRulesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [source...]",
		Short: "Validate rule sources without opening the workspace",
		Long: `Parse and validate the CUE rule sources and report every problem found.
Sources default to the rules section of the workspace configuration.
Warnings are reported but do not fail validation.`,
		Example: `  # Validate the configured sources
  conform rules validate

  # Validate a single file before committing it
  conform rules validate rules/cisco-ios.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args
			if len(sources) == 0 {
				cfg, err := loadWorkspaceConfig(configPath)
				if err != nil {
					return err
				}
				sources = cfg.Rules.Sources
			}

			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			loader := rules.NewLoader(logger)

			ruleSet, err := loader.Load(cmd.Context(), sources)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(ruleSet)
			}

			for i := range ruleSet.Errors {
				e := &ruleSet.Errors[i]
				fmt.Printf("%-8s %s\n", e.Severity, e.Error())
			}
			if !ruleSet.Valid() {
				return fmt.Errorf("rule set is invalid")
			}

			fmt.Printf("Valid: %d features, %d platforms, %d comparators from %d files\n",
				len(ruleSet.Features), len(ruleSet.Platforms), len(ruleSet.Comparators), len(ruleSet.SourceFiles))
			return nil
		},
	}
}

func newRulesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loaded features per platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			if jsonOutput {
				return printJSON(ws.rules.Features)
			}

			fmt.Printf("%-16s %-18s %-10s %s\n", "PLATFORM", "FEATURE", "STRATEGY", "ORDER")
			for i := range ws.rules.Features {
				f := &ws.rules.Features[i]
				order := "strict"
				if f.OrderInsensitive {
					order = "insensitive"
				}
				fmt.Printf("%-16s %-18s %-10s %s\n", f.Platform, f.Name, f.Strategy, order)
			}
			return nil
		},
	}
}
