package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/engine"
)

// deviceStatus is the per-device view assembled for the status command.
type deviceStatus struct {
	Device     *engine.Device             `json:"device"`
	Golden     *engine.GoldenRecord       `json:"golden"`
	Compliance []*engine.ComplianceResult `json:"compliance"`
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-device compliance and capture status",
		Long: `Summarize each matched device: the latest compliance result per feature
plus the golden record tracking when backups and compliance runs last
ran and last succeeded.`,
		Example: `  # Status of every device
  conform status

  # Status of one site's core switches
  conform status --role core --location ams01`,
	}
	filter := addFilterFlags(cmd)

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
			fmt.Println("No devices match")
			return nil
		}

		var statuses []*deviceStatus
		for _, device := range devices {
			status := &deviceStatus{Device: device}

			status.Golden, err = ws.golden.Get(cmd.Context(), device.ID)
			if err != nil {
				return err
			}

			features, err := ws.results.ListFeatures(cmd.Context(), device.ID)
			if err != nil {
				return err
			}
			for _, feature := range features {
				result, err := ws.results.LatestCompliance(cmd.Context(), device.ID, feature)
				if err != nil {
					return err
				}
				if result != nil {
					status.Compliance = append(status.Compliance, result)
				}
			}

			statuses = append(statuses, status)
		}

		if jsonOutput {
			return printJSON(statuses)
		}
		printStatuses(statuses)
		return nil
	}

	return cmd
}

func printStatuses(statuses []*deviceStatus) {
	for _, s := range statuses {
		fmt.Printf("%s (%s, %s)\n", s.Device.Name, s.Device.Platform, s.Device.Status)
		fmt.Printf("  backup:     last attempt %s, last success %s\n",
			formatGoldenTime(s.Golden.BackupLastAttempt), formatGoldenTime(s.Golden.BackupLastSuccess))
		fmt.Printf("  compliance: last attempt %s, last success %s\n",
			formatGoldenTime(s.Golden.ComplianceLastAttempt), formatGoldenTime(s.Golden.ComplianceLastSuccess))

		if len(s.Compliance) == 0 {
			fmt.Println("  no compliance results stored")
			continue
		}
		for _, r := range s.Compliance {
			fmt.Printf("  %-16s %-14s rev %d at %s\n",
				r.Feature, r.State(), r.Revision, r.ComputedAt.Format("2006-01-02 15:04"))
		}
	}
}

func formatGoldenTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006-01-02 15:04")
}
