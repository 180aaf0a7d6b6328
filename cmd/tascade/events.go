package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var eventsCmd = &cobra.Command{
	Use:   "events <project>",
	Short: "Read the project event log",
	Long: `Read the append-only event log in sequence order. --after resumes from a
cursor; --follow keeps polling for new events until interrupted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		after, _ := cmd.Flags().GetInt64("after")
		limit, _ := cmd.Flags().GetInt("limit")
		eventTypes, _ := cmd.Flags().GetStringSlice("type")
		follow, _ := cmd.Flags().GetBool("follow")
		interval, _ := cmd.Flags().GetDuration("poll-interval")

		ctx := cmd.Context()
		cursor := after
		for {
			events, err := api().Events(ctx, args[0], cursor, limit, eventTypes)
			if err != nil {
				fail(err)
			}
			for _, e := range events {
				cursor = e.Seq
				printEvent(e)
			}
			if !follow {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	},
}

func printEvent(e *types.Event) {
	if jsonOutput {
		// One JSON object per line so --follow output stays streamable.
		buf, err := json.Marshal(e)
		if err != nil {
			fail(err)
		}
		fmt.Println(string(buf))
		return
	}
	line := fmt.Sprintf("%6d  %s  %-28s %s/%s", e.Seq,
		e.CreatedAt.Format("15:04:05"), e.Type, e.EntityType, shortRef(e.EntityID))
	if e.Actor != "" {
		line += "  " + ui.RenderMuted(e.Actor)
	}
	fmt.Println(line)
}

func init() {
	eventsCmd.Flags().Int64("after", 0, "Resume after this sequence number")
	eventsCmd.Flags().Int("limit", 100, "Events per page")
	eventsCmd.Flags().StringSlice("type", nil, "Filter by event type (repeatable)")
	eventsCmd.Flags().BoolP("follow", "f", false, "Keep polling for new events")
	eventsCmd.Flags().Duration("poll-interval", 2*time.Second, "Poll interval with --follow")
	rootCmd.AddCommand(eventsCmd)
}
