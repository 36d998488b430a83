package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/engine"
	"github.com/openconform/openconform/pkg/telemetry"
)

func newDiffCommand() *cobra.Command {
	var features []string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compute compliance diffs for devices",
		Long: `Diff the stored intended configuration against the latest captured actual
configuration per feature and record the compliance results.

A feature whose actual configuration was never captured is recorded as
missing without invoking the diff engine; run 'conform backup' first to
capture running configurations.`,
		Example: `  # Diff every active device
  conform diff

  # Diff one device's NTP feature
  conform diff --device sw-access-01 --feature ntp`,
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

		var results []*engine.ComplianceResult
		for _, device := range devices {
			deviceResults, err := diffDevice(cmd.Context(), ws, device, features)
			if err != nil {
				return err
			}
			results = append(results, deviceResults...)
		}

		if jsonOutput {
			return printJSON(results)
		}
		printComplianceSummary(results)
		return nil
	}

	return cmd
}

// diffDevice computes compliance for every in-scope feature of one device.
func diffDevice(ctx context.Context, ws *workspace, device *engine.Device, requested []string) ([]*engine.ComplianceResult, error) {
	featureDefs := ws.rules.FeaturesFor(device.Platform)
	if len(featureDefs) == 0 {
		ws.tel.Logger.WithDevice(device.ID, device.Name).
			Warnf("No features defined for platform %s, skipping", device.Platform)
		return nil, nil
	}

	var results []*engine.ComplianceResult
	success := true

	for i := range featureDefs {
		feature := &featureDefs[i]
		if !featureRequested(feature.Name, requested) {
			continue
		}

		result, err := diffFeature(ctx, ws, device, feature)
		if err != nil {
			success = false
			if terr := ws.golden.TouchCompliance(ctx, device.ID, false); terr != nil {
				return nil, terr
			}
			return nil, err
		}
		if result == nil {
			continue
		}
		results = append(results, result)
	}

	if len(results) > 0 {
		if err := ws.golden.TouchCompliance(ctx, device.ID, success); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// diffFeature diffs one (device, feature) pair and persists the result. A
// pair without a stored intended config yields nil; a pair without a captured
// actual config is recorded as missing without invoking the diff engine.
func diffFeature(ctx context.Context, ws *workspace, device *engine.Device, feature *engine.ConfigFeature) (*engine.ComplianceResult, error) {
	intended, err := ws.configs.GetIntended(ctx, device.ID, feature.Name)
	if err != nil {
		return nil, err
	}
	if intended == nil {
		return nil, nil
	}

	actual, err := ws.configs.GetActual(ctx, device.ID, feature.Name)
	if err != nil {
		return nil, err
	}

	spanCtx, span := ws.tel.Tracer.StartDiffSpan(ctx, device.ID, feature.Name, string(feature.Strategy))
	defer span.End()
	timer := telemetry.NewTimer()

	var result *engine.ComplianceResult
	if actual == nil {
		// Never captured: record the state without diffing.
		result = &engine.ComplianceResult{
			DeviceID:       device.ID,
			Feature:        feature.Name,
			Strategy:       feature.Strategy,
			Compliant:      false,
			IntendedAbsent: true,
			Missing:        intended.Text,
			ComputedAt:     time.Now(),
		}
	} else {
		result, err = ws.diffEngine.Compare(spanCtx, device, feature, intended, actual)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	if err := ws.results.SaveCompliance(ctx, result); err != nil {
		return nil, err
	}

	ws.tel.Metrics.RecordComplianceRun(feature.Name, string(result.State()), string(result.Strategy), timer.Duration())
	_ = ws.tel.Events.PublishComplianceCompleted(device.ID, feature.Name, string(result.State()))

	if !result.Compliant {
		ws.tel.Metrics.RecordDriftDetected(feature.Name, device.Platform)
		_ = ws.tel.Events.PublishDriftDetected(device.ID, feature.Name, len(result.Added)+len(result.Removed)+len(result.Changed))
		_ = ws.events.Publish(ctx, &engine.Event{
			Type:     engine.EventTypeDriftDetected,
			DeviceID: device.ID,
			Feature:  feature.Name,
			Message:  fmt.Sprintf("Drift detected on %s feature %s", device.Name, feature.Name),
			Level:    "warning",
		})
	}

	return result, nil
}

func featureRequested(name string, requested []string) bool {
	if len(requested) == 0 {
		return true
	}
	for _, r := range requested {
		if r == name {
			return true
		}
	}
	return false
}

func printComplianceSummary(results []*engine.ComplianceResult) {
	if len(results) == 0 {
		fmt.Println("No compliance results computed (no intended configs stored?)")
		return
	}

	fmt.Printf("%-38s %-16s %-14s %-8s %s\n", "DEVICE", "FEATURE", "STATE", "REV", "DIFF")
	for _, r := range results {
		diff := "-"
		if !r.Compliant && !r.IntendedAbsent {
			diff = fmt.Sprintf("+%d -%d ~%d", len(r.Added), len(r.Removed), len(r.Changed))
		}
		fmt.Printf("%-38s %-16s %-14s %-8d %s\n", r.DeviceID, r.Feature, r.State(), r.Revision, diff)
	}
}
