package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/drivers/ssh"
	"github.com/openconform/openconform/pkg/engine"
	"github.com/openconform/openconform/pkg/telemetry"
)

func newDeployCommand() *cobra.Command {
	var (
		parallel int
		retries  int
		timeout  time.Duration
		backoff  time.Duration
		dryRun   bool
		user     string
	)

	cmd := &cobra.Command{
		Use:   "deploy <plan-id>",
		Short: "Deploy an approved plan to its devices",
		Long: `Push an approved plan's per-device command sets through a bounded worker
pool. Transient failures (timeouts, connection resets) are retried with
exponential backoff; device rejections and authentication failures are
never retried. The policy gate is consulted once before any device is
touched.

Flags default to the deploy section of the workspace configuration.`,
		Example: `  # Deploy with the configured defaults
  conform deploy 4f7c2d1a-...

  # Validate without touching any device
  conform deploy 4f7c2d1a-... --dry-run`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().IntVar(&parallel, "parallel", 0, "maximum concurrent devices")
	cmd.Flags().IntVar(&retries, "retries", 0, "retries per device for transient failures")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-attempt device timeout")
	cmd.Flags().DurationVar(&backoff, "backoff", 0, "base retry backoff")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the plan without contacting devices")
	cmd.Flags().StringVar(&user, "user", "", "deploying user")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer ws.Close()

		if ws.cfg.Telemetry.MetricsListen != "" {
			if err := ws.tel.StartMetricsServer(); err != nil {
				return err
			}
		}

		plan, err := ws.plans.GetPlan(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		// A dry run never opens a session, so it works without any driver
		// configured.
		var resolver engine.DriverResolver = ssh.NewResolver()
		if !dryRun {
			resolver, err = ws.driverResolver()
			if err != nil {
				return err
			}
		}

		opts := engine.DeployOptions{
			MaxParallel:   ws.cfg.Deploy.MaxParallel,
			MaxRetries:    ws.cfg.Deploy.MaxRetries,
			DeviceTimeout: ws.cfg.Deploy.DeviceTimeout,
			RetryBackoff:  ws.cfg.Deploy.RetryBackoff,
			DryRun:        dryRun,
			User:          user,
		}
		if cmd.Flags().Changed("parallel") {
			opts.MaxParallel = parallel
		}
		if cmd.Flags().Changed("retries") {
			opts.MaxRetries = retries
		}
		if cmd.Flags().Changed("timeout") {
			opts.DeviceTimeout = timeout
		}
		if cmd.Flags().Changed("backoff") {
			opts.RetryBackoff = backoff
		}

		orchestrator := engine.NewDeploymentOrchestrator(
			resolver,
			ws.registry,
			engine.NewStoreJobRecorder(ws.store),
			ws.gate,
			ws.events,
		)

		ctx, span := ws.tel.Tracer.StartDeploySpan(cmd.Context(), plan.ID)
		defer span.End()
		timer := telemetry.NewTimer()
		_ = ws.tel.Events.PublishDeployStarted(plan.ID, user)

		summary, err := orchestrator.Deploy(ctx, plan, opts)
		if summary != nil {
			recordDeployMetrics(cmd.Context(), ws, plan, summary, timer.Duration())
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}

		if jsonOutput {
			return printJSON(summary)
		}
		printDeploySummary(summary)

		if summary.Outcome != engine.OutcomeSucceeded {
			return fmt.Errorf("deployment finished with outcome %s", summary.Outcome)
		}
		return nil
	}

	return cmd
}

// recordDeployMetrics emits the deployment and per-job telemetry after the
// orchestrator finishes.
func recordDeployMetrics(ctx context.Context, ws *workspace, plan *engine.ConfigPlan, summary *engine.DeploymentSummary, duration time.Duration) {
	ws.tel.Metrics.RecordDeployCompleted(string(summary.Outcome), duration)
	_ = ws.tel.Events.PublishDeployCompleted(plan.ID, string(summary.Outcome), duration)

	platforms := platformsByDevice(ctx, ws, plan)
	for i := range summary.Jobs {
		job := &summary.Jobs[i]
		platform := platforms[job.DeviceID]
		ws.tel.Metrics.RecordJobCompleted(string(job.Status), platform, job.Duration)
		for r := 1; r < job.Attempts; r++ {
			ws.tel.Metrics.RecordJobRetry(platform)
		}
	}
}

// platformsByDevice maps the plan's device IDs to their platforms. Lookup
// failures leave the platform empty; metrics still get recorded.
func platformsByDevice(ctx context.Context, ws *workspace, plan *engine.ConfigPlan) map[string]string {
	platforms := make(map[string]string, len(plan.Entries))
	for i := range plan.Entries {
		deviceID := plan.Entries[i].DeviceID
		if _, ok := platforms[deviceID]; ok {
			continue
		}
		device, err := ws.registry.GetDevice(ctx, deviceID)
		if err != nil || device == nil {
			platforms[deviceID] = ""
			continue
		}
		platforms[deviceID] = device.Platform
	}
	return platforms
}

func printDeploySummary(summary *engine.DeploymentSummary) {
	fmt.Printf("Outcome:   %s\n", summary.Outcome)
	fmt.Printf("Devices:   %d total, %d succeeded, %d failed, %d cancelled\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Cancelled)
	if summary.Retries > 0 {
		fmt.Printf("Retries:   %d\n", summary.Retries)
	}
	fmt.Printf("Duration:  %s\n", summary.Duration.Round(time.Millisecond))
	for _, w := range summary.Warnings {
		fmt.Printf("Warning:   %s\n", w)
	}
	for i := range summary.Jobs {
		job := &summary.Jobs[i]
		line := fmt.Sprintf("  %-38s %-12s attempts=%d", job.DeviceID, job.Status, job.Attempts)
		if job.Error != "" {
			line += " error=" + job.Error
		}
		fmt.Println(line)
	}
}
