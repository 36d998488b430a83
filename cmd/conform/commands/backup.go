package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/engine"
)

func newBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Capture running configurations from devices",
		Long: `Fetch the running configuration from each matched device over its driver
and store the per-feature actual snapshots the diff engine compares
against. Each feature's section is extracted using the feature's match
patterns; the golden record tracks when the last capture ran and
succeeded.`,
		Example: `  # Back up every device
  conform backup

  # Back up the core switches of one site
  conform backup --role core --location ams01`,
	}
	filter := addFilterFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer ws.Close()

		resolver, err := ws.driverResolver()
		if err != nil {
			return err
		}

		f := filter.toFilter()
		devices, err := ws.registry.ListDevices(cmd.Context(), &f)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return fmt.Errorf("no devices match the filter")
		}

		failures := 0
		for _, device := range devices {
			if err := backupDevice(cmd.Context(), ws, resolver, device); err != nil {
				failures++
				ws.tel.Logger.WithDevice(device.ID, device.Name).WithError(err).
					Error("Backup failed")
				continue
			}
			fmt.Printf("Backed up %s\n", device.Name)
		}

		if failures > 0 {
			return fmt.Errorf("backup failed for %d of %d devices", failures, len(devices))
		}
		return nil
	}

	return cmd
}

// backupDevice fetches one device's running config and stores the actual
// snapshot of every feature defined for its platform.
func backupDevice(ctx context.Context, ws *workspace, resolver engine.DriverResolver, device *engine.Device) error {
	capturedAt := time.Now()

	running, err := fetchRunningConfig(ctx, ws, resolver, device)
	if err != nil {
		if terr := ws.golden.TouchBackup(ctx, device.ID, false); terr != nil {
			return terr
		}
		return err
	}

	normalizer := engine.NewNormalizer()
	for _, feature := range ws.rules.FeaturesFor(device.Platform) {
		section, err := normalizer.ExtractFeature(&feature, running)
		if err != nil {
			if terr := ws.golden.TouchBackup(ctx, device.ID, false); terr != nil {
				return terr
			}
			return fmt.Errorf("feature %s: %w", feature.Name, err)
		}

		snapshot := &engine.ConfigSnapshot{
			DeviceID:   device.ID,
			Feature:    feature.Name,
			Text:       section,
			CapturedAt: capturedAt,
		}
		if err := ws.configs.SaveActual(ctx, snapshot); err != nil {
			return err
		}
	}

	return ws.golden.TouchBackup(ctx, device.ID, true)
}

// fetchRunningConfig opens a driver session and retrieves the running
// configuration.
func fetchRunningConfig(ctx context.Context, ws *workspace, resolver engine.DriverResolver, device *engine.Device) (string, error) {
	driver, err := resolver.Resolve(device)
	if err != nil {
		return "", err
	}

	start := time.Now()
	session, err := driver.Connect(ctx, device)
	if err != nil {
		ws.tel.Metrics.RecordDriverError(device.Platform, "connect")
		return "", err
	}
	defer session.Close()

	running, err := session.FetchRunningConfig(ctx)
	ws.tel.Metrics.RecordDriverCall(device.Platform, "fetch_running_config", time.Since(start))
	if err != nil {
		ws.tel.Metrics.RecordDriverError(device.Platform, "fetch_running_config")
		return "", err
	}
	return running, nil
}
