package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/engine"
)

func newEventsCommand() *cobra.Command {
	var (
		planID   string
		deviceID string
		types    []string
		level    string
		limit    int
		offset   int
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the engine event timeline",
		Long: `List recorded events, newest first. With --follow, keep running and
stream new events matching the filter as they are published.`,
		Example: `  # Last 50 events of one plan
  conform events --plan 4f7c2d1a-...

  # Stream drift detections live
  conform events --type drift_detected --follow`,
	}
	cmd.Flags().StringVar(&planID, "plan", "", "filter by plan ID")
	cmd.Flags().StringVar(&deviceID, "device", "", "filter by device ID")
	cmd.Flags().StringSliceVar(&types, "type", nil, "filter by event type (repeatable)")
	cmd.Flags().StringVar(&level, "level", "", "minimum level (info, warning, error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of events to skip")
	cmd.Flags().BoolVar(&follow, "follow", false, "stream new events until interrupted")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer ws.Close()

		filter := engine.EventFilter{
			PlanID:   planID,
			DeviceID: deviceID,
			MinLevel: level,
		}
		for _, t := range types {
			filter.Types = append(filter.Types, engine.EventType(t))
		}

		events, err := ws.events.History(cmd.Context(), filter, limit, offset)
		if err != nil {
			return err
		}

		if jsonOutput && !follow {
			return printJSON(events)
		}

		// History is newest first; print oldest first so a follow reads
		// chronologically.
		for i := len(events) - 1; i >= 0; i-- {
			printEvent(events[i])
		}

		if !follow {
			return nil
		}

		ch, err := ws.events.Subscribe(cmd.Context(), filter)
		if err != nil {
			return err
		}
		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case event, ok := <-ch:
				if !ok {
					return nil
				}
				printEvent(&event)
			}
		}
	}

	return cmd
}

func printEvent(e *engine.Event) {
	scope := e.PlanID
	if e.DeviceID != "" {
		scope = e.DeviceID
	}
	fmt.Printf("%s  %-8s %-18s %-38s %s\n",
		e.Timestamp.Format("2006-01-02 15:04:05"), e.Level, e.Type, scope, e.Message)
}
