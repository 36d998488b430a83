package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/engine"
)

func newIntendedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intended",
		Short: "Manage intended configurations",
		Long: `Import and inspect the per-feature intended configurations the diff
engine compares devices against.`,
	}

	cmd.AddCommand(newIntendedImportCommand())
	cmd.AddCommand(newIntendedShowCommand())

	return cmd
}

func newIntendedImportCommand() *cobra.Command {
	var (
		deviceName string
		feature    string
	)

	cmd := &cobra.Command{
		Use:   "import [path]",
		Short: "Import intended configurations from files",
		Long: `Import intended configurations. A directory is walked expecting one
subdirectory per device hostname containing one file per feature
(<device>/<feature>.cfg, or .json for structured features). A single
file needs --device and --feature. The path defaults to the intended
section of the workspace configuration.

Files for unknown devices or features not defined for the device's
platform fail the import.`,
		Example: `  # Import the whole intended tree
  conform intended import intended/

  # Import one rendered feature
  conform intended import ntp.cfg --device sw-access-01 --feature ntp`,
		Args: cobra.MaximumNArgs(1),
	}
	cmd.Flags().StringVar(&deviceName, "device", "", "device hostname (single-file import)")
	cmd.Flags().StringVar(&feature, "feature", "", "feature name (single-file import)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer ws.Close()

		path := ws.cfg.Intended.Path
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no path given and no intended path configured")
		}

		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		if !info.IsDir() {
			if deviceName == "" || feature == "" {
				return fmt.Errorf("importing a single file requires --device and --feature")
			}
			if err := importIntendedFile(cmd.Context(), ws, path, deviceName, feature); err != nil {
				return err
			}
			fmt.Printf("Imported %s/%s\n", deviceName, feature)
			return nil
		}

		count, err := importIntendedTree(cmd.Context(), ws, path)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d intended configs\n", count)
		return nil
	}

	return cmd
}

// importIntendedTree walks a <device>/<feature>.<ext> directory layout and
// imports every file. The first failure aborts the walk.
func importIntendedTree(ctx context.Context, ws *workspace, root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		deviceName := entry.Name()

		files, err := os.ReadDir(filepath.Join(root, deviceName))
		if err != nil {
			return count, err
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			name := file.Name()
			feature := strings.TrimSuffix(name, filepath.Ext(name))
			path := filepath.Join(root, deviceName, name)
			if err := importIntendedFile(ctx, ws, path, deviceName, feature); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// importIntendedFile stores one file as the intended config of a (device,
// feature) pair, validating the device exists and the feature is defined for
// its platform.
func importIntendedFile(ctx context.Context, ws *workspace, path, deviceName, feature string) error {
	device, err := ws.registry.GetDeviceByName(ctx, deviceName)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	def, ok := ws.rules.FeatureFor(device.Platform, feature)
	if !ok {
		return fmt.Errorf("%s: feature %s is not defined for platform %s", path, feature, device.Platform)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	snapshot := &engine.ConfigSnapshot{
		DeviceID:   device.ID,
		Feature:    feature,
		CapturedAt: time.Now(),
	}
	if def.Strategy == engine.StrategyJSON || filepath.Ext(path) == ".json" {
		snapshot.Document = data
	} else {
		snapshot.Text = string(data)
	}

	if err := ws.configs.SaveIntended(ctx, snapshot); err != nil {
		_ = ws.golden.TouchIntended(ctx, device.ID, false)
		return fmt.Errorf("%s: %w", path, err)
	}
	return ws.golden.TouchIntended(ctx, device.ID, true)
}

func newIntendedShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <device> <feature>",
		Short: "Show the stored intended config of one (device, feature) pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			device, err := ws.registry.GetDeviceByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			snapshot, err := ws.configs.GetIntended(cmd.Context(), device.ID, args[1])
			if err != nil {
				return err
			}
			if snapshot == nil {
				return fmt.Errorf("no intended config stored for %s/%s", args[0], args[1])
			}

			if jsonOutput {
				return printJSON(snapshot)
			}
			if len(snapshot.Document) > 0 {
				fmt.Println(string(snapshot.Document))
			} else {
				fmt.Println(snapshot.Text)
			}
			return nil
		},
	}
}
