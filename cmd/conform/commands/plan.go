package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build and manage config plans",
		Long: `Config plans aggregate per-device command sets for deployment. The device
filter is resolved when the plan is built; the resulting device set never
changes afterwards.

Plan types:
  remediation  latest remediation commands per device
  intended     the full intended configuration per device
  missing      intended configs of features entirely absent from the device
  manual       an operator-supplied command set, identical on every device
  combination  remediation + missing + manual, merged in that order`,
	}

	cmd.AddCommand(newPlanBuildCommand())
	cmd.AddCommand(newPlanShowCommand())
	cmd.AddCommand(newPlanListCommand())
	cmd.AddCommand(newPlanApproveCommand())

	return cmd
}

func newPlanBuildCommand() *cobra.Command {
	var (
		name             string
		planType         string
		features         []string
		commands         []string
		changeControlID  string
		changeControlURL string
		user             string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a config plan from stored results",
		Example: `  # Plan remediation for every drifted access switch
  conform plan build --type remediation --role access --change-control CHG-1234

  # Push an identical command to two named devices
  conform plan build --type manual --device sw-01 --device sw-02 \
    --command "ntp server 10.0.0.1"`,
	}
	filter := addFilterFlags(cmd)
	cmd.Flags().StringVar(&name, "name", "", "plan name (generated when empty)")
	cmd.Flags().StringVar(&planType, "type", "remediation", "plan type (remediation, intended, missing, manual, combination)")
	cmd.Flags().StringSliceVar(&features, "feature", nil, "restrict to the named features (repeatable)")
	cmd.Flags().StringSliceVar(&commands, "command", nil, "manual command (repeatable, manual/combination plans)")
	cmd.Flags().StringVar(&changeControlID, "change-control", "", "change-control reference; the plan starts out approved")
	cmd.Flags().StringVar(&changeControlURL, "change-control-url", "", "link to the change-control record")
	cmd.Flags().StringVar(&user, "user", "", "requesting user")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer ws.Close()

		builder := engine.NewPlanBuilder(ws.registry, ws.configs, ws.results)

		ctx, span := ws.tel.Tracer.StartPlanBuildSpan(cmd.Context(), planType)
		defer span.End()

		plan, err := builder.BuildPlan(ctx, &engine.PlanRequest{
			Name:             name,
			Type:             engine.PlanType(planType),
			Filter:           filter.toFilter(),
			Features:         features,
			ChangeControlID:  changeControlID,
			ChangeControlURL: changeControlURL,
			ManualCommands:   commands,
			CreatedBy:        user,
		})
		if err != nil {
			return err
		}

		if err := ws.plans.SavePlan(ctx, plan); err != nil {
			return err
		}

		ws.tel.Metrics.RecordPlanBuilt(string(plan.Type), len(plan.Entries))
		_ = ws.tel.Events.PublishPlanCreated(plan.ID, string(plan.Type), len(plan.Entries))
		_ = ws.events.Publish(ctx, &engine.Event{
			Type:    engine.EventTypePlanCreated,
			PlanID:  plan.ID,
			Message: fmt.Sprintf("Plan %s built with %d entries", plan.Name, len(plan.Entries)),
			Level:   "info",
		})

		if jsonOutput {
			return printJSON(plan)
		}
		printPlan(plan, false)
		return nil
	}

	return cmd
}

func newPlanShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			plan, err := ws.plans.GetPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(plan)
			}
			printPlan(plan, true)
			return nil
		},
	}
}

func newPlanListCommand() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored plans",
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by plan status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of plans")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer ws.Close()

		plans, err := ws.plans.ListPlans(cmd.Context(), engine.PlanState(status), limit, 0)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(plans)
		}

		if len(plans) == 0 {
			fmt.Println("No plans stored")
			return nil
		}
		fmt.Printf("%-38s %-28s %-14s %-18s %s\n", "ID", "NAME", "TYPE", "STATUS", "CREATED")
		for _, p := range plans {
			fmt.Printf("%-38s %-28s %-14s %-18s %s\n",
				p.ID, p.Name, p.Type, p.Status, p.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	}

	return cmd
}

func newPlanApproveCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "approve <plan-id>",
		Short: "Approve a pending plan for deployment",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&user, "user", "", "approving user")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer ws.Close()

		plan, err := ws.plans.Approve(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		_ = ws.tel.Events.PublishPlanApproved(plan.ID, user)
		_ = ws.events.Publish(cmd.Context(), &engine.Event{
			Type:    engine.EventTypePlanApproved,
			PlanID:  plan.ID,
			Message: fmt.Sprintf("Plan %s approved", plan.Name),
			Level:   "info",
		})

		fmt.Printf("Plan %s approved\n", plan.ID)
		return nil
	}

	return cmd
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <plan-id>",
		Short: "Cancel a plan that has not completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			plan, err := ws.plans.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Plan %s cancelled\n", plan.ID)
			return nil
		},
	}
}

func printPlan(plan *engine.ConfigPlan, withCommands bool) {
	fmt.Printf("Plan:   %s (%s)\n", plan.Name, plan.ID)
	fmt.Printf("Type:   %s\n", plan.Type)
	fmt.Printf("Status: %s\n", plan.Status)
	if plan.ChangeControlID != "" {
		fmt.Printf("Change: %s\n", plan.ChangeControlID)
	}
	fmt.Printf("Entries: %d\n", len(plan.Entries))
	for i := range plan.Entries {
		entry := &plan.Entries[i]
		fmt.Printf("  %-24s %-12s %d commands\n", entry.DeviceName, entry.Status, len(entry.Commands))
		if withCommands {
			for _, c := range entry.Commands {
				fmt.Printf("    %s\n", strings.TrimRight(c, " "))
			}
		}
	}
}
