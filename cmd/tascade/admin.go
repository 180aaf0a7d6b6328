package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/outbox"
	"github.com/tascade/tascade/internal/storage/sqlite"
	"github.com/tascade/tascade/internal/ui"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator maintenance commands",
}

const replayPageSize = 500

var replayCheckCmd = &cobra.Command{
	Use:   "replay-check",
	Short: "Replay the event log and diff it against the store",
	Long: `Rebuild task, lease, plan and integration state from the event log alone
and compare it with the live tables. A divergence means some write path
committed without its event, which breaks every downstream consumer of the
log. Opens the database directly; run it next to the coordinator.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := sqlite.New(ctx, config.DatabasePath())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		projects, err := store.ListProjects(ctx, "")
		if err != nil {
			return err
		}

		projection := outbox.NewProjection()
		var total int64
		for _, p := range projects {
			var after int64
			for {
				events, err := store.ListEvents(ctx, p.ID, after, replayPageSize, nil)
				if err != nil {
					return err
				}
				if len(events) == 0 {
					break
				}
				for _, e := range events {
					projection.Apply(e)
					after = e.Seq
					total++
				}
			}
		}

		mismatches, err := projection.Verify(ctx, store)
		if err != nil {
			return err
		}

		if jsonOutput {
			if mismatches == nil {
				mismatches = []string{}
			}
			outputJSON(map[string]any{
				"projects":   len(projects),
				"events":     total,
				"mismatches": mismatches,
			})
			if len(mismatches) > 0 {
				os.Exit(1)
			}
			return nil
		}
		fmt.Printf("Replayed %d event(s) across %d project(s)\n", total, len(projects))
		if len(mismatches) == 0 {
			fmt.Printf("%s Event log reproduces the store\n", ui.RenderPass(ui.IconPass))
			return nil
		}
		fmt.Printf("%s %d divergence(s):\n", ui.RenderFail(ui.IconFail), len(mismatches))
		for _, m := range mismatches {
			fmt.Printf("  %s %s\n", ui.RenderFail("-"), m)
		}
		os.Exit(1)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep against the database",
	Long: `Expire overdue leases and reservations in one pass, without a running
coordinator. Opens the database directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := sqlite.New(ctx, config.DatabasePath())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		coord := core.New(store, serverLogger(), core.Options{})
		res, err := coord.SweepOnce(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(res)
			return nil
		}
		fmt.Printf("%s Expired %d lease(s), %d reservation(s)\n",
			ui.RenderPass(ui.IconPass), res.ExpiredLeases, res.ExpiredReservations)
		return nil
	},
}

func init() {
	adminCmd.AddCommand(replayCheckCmd, sweepCmd)
	rootCmd.AddCommand(adminCmd)
}
