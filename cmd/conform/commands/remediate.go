package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/engine"
)

func newRemediateCommand() *cobra.Command {
	var features []string

	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Generate remediation commands from compliance results",
		Long: `Derive the ordered command sequences that bring drifted devices back to
their intended configuration, using the per-platform remediation rules.

Remediation is generated from the latest stored compliance result of each
(device, feature) pair; run 'conform diff' first. Compliant pairs produce
no commands. A diff element matching no remediation rule fails the whole
feature so a partial fix is never stored.`,
		Example: `  # Remediate everything that drifted
  conform remediate

  # Remediate one device
  conform remediate --device sw-access-01`,
	}
	filter := addFilterFlags(cmd)
	cmd.Flags().StringSliceVar(&features, "feature", nil, "restrict to the named features (repeatable)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer ws.Close()

		f := filter.toFilter()
		devices, err := ws.registry.ListDevices(cmd.Context(), &f)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return fmt.Errorf("no devices match the filter")
		}

		var generated []*engine.RemediationResult
		for _, device := range devices {
			names := features
			if len(names) == 0 {
				names, err = ws.results.ListFeatures(cmd.Context(), device.ID)
				if err != nil {
					return err
				}
			}

			for _, feature := range names {
				compliance, err := ws.results.LatestCompliance(cmd.Context(), device.ID, feature)
				if err != nil {
					return err
				}
				if compliance == nil || compliance.Compliant {
					continue
				}

				remediation, err := ws.remediation.Generate(device, compliance)
				if err != nil {
					ws.tel.Metrics.RecordRemediation(device.Platform, "failed", 0)
					return fmt.Errorf("device %s feature %s: %w", device.Name, feature, err)
				}
				if err := ws.results.SaveRemediation(cmd.Context(), remediation); err != nil {
					return err
				}

				ws.tel.Metrics.RecordRemediation(device.Platform, "generated", len(remediation.Commands))
				generated = append(generated, remediation)
			}
		}

		if jsonOutput {
			return printJSON(generated)
		}

		if len(generated) == 0 {
			fmt.Println("Nothing to remediate")
			return nil
		}
		for _, r := range generated {
			fmt.Printf("%s / %s (%d commands, from revision %d):\n", r.DeviceID, r.Feature, len(r.Commands), r.SourceRevision)
			for _, c := range r.Commands {
				fmt.Printf("  %s\n", c)
			}
		}
		return nil
	}

	return cmd
}
