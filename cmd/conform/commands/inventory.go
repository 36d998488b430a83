package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/engine"
)

func newInventoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Manage the device inventory",
		Long:  `Import, list, and inspect the devices the engine manages.`,
	}

	cmd.AddCommand(newInventoryImportCommand())
	cmd.AddCommand(newInventoryListCommand())
	cmd.AddCommand(newInventoryShowCommand())

	return cmd
}

func newInventoryImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import devices from a YAML inventory file",
		Example: `  # Import devices from a file
  conform inventory import devices.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			devices, err := engine.LoadDevicesFile(args[0])
			if err != nil {
				return err
			}

			count, err := ws.registry.ImportDevices(cmd.Context(), devices)
			if err != nil {
				return fmt.Errorf("imported %d of %d devices: %w", count, len(devices), err)
			}

			fmt.Printf("Imported %d devices\n", count)
			return nil
		},
	}
}

func newInventoryListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List devices matching a filter",
		Example: `  # List every device
  conform inventory list

  # List access switches in one site
  conform inventory list --role access --location ams01`,
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

		if jsonOutput {
			return printJSON(devices)
		}

		if len(devices) == 0 {
			fmt.Println("No devices match")
			return nil
		}
		fmt.Printf("%-20s %-14s %-12s %-10s %-12s %s\n", "NAME", "PLATFORM", "LOCATION", "ROLE", "STATUS", "ADDRESS")
		for _, d := range devices {
			fmt.Printf("%-20s %-14s %-12s %-10s %-12s %s\n",
				d.Name, d.Platform, d.Location, d.Role, d.Status, d.Address)
		}
		return nil
	}

	return cmd
}

func newInventoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one device",
		Args:  cobra.ExactArgs(1),
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

			if jsonOutput {
				return printJSON(device)
			}

			fmt.Printf("Name:     %s\n", device.Name)
			fmt.Printf("ID:       %s\n", device.ID)
			fmt.Printf("Platform: %s\n", device.Platform)
			fmt.Printf("Type:     %s\n", device.DeviceType)
			fmt.Printf("Location: %s\n", device.Location)
			fmt.Printf("Role:     %s\n", device.Role)
			fmt.Printf("Status:   %s\n", device.Status)
			fmt.Printf("Address:  %s:%d\n", device.Address, device.Port)
			if len(device.Tags) > 0 {
				fmt.Printf("Tags:     %s\n", strings.Join(device.Tags, ", "))
			}
			return nil
		},
	}
}
