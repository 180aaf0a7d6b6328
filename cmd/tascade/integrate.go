package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/client"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var integrateCmd = &cobra.Command{
	Use:   "integrate",
	Short: "Drive the integration queue",
}

var integrateEnqueueCmd = &cobra.Command{
	Use:   "enqueue <task>",
	Short: "Queue an implemented task for integration",
	Long: `Queue an implemented task for integration. Defaults to the latest
passing artifact; pass --artifact to pick one. Re-running with the same
--idempotency-key returns the existing attempt instead of queuing another.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		artifactRef, _ := cmd.Flags().GetString("artifact")
		idemKey, _ := cmd.Flags().GetString("idempotency-key")
		attempt, err := api().EnqueueIntegration(cmd.Context(), args[0], client.IntegrationParams{
			ArtifactRef:    artifactRef,
			IdempotencyKey: idemKey,
		})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(attempt)
			return
		}
		fmt.Printf("%s Attempt %s queued for %s\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(shortRef(attempt.ID)), ui.RenderID(args[0]))
	},
}

var integrateResultCmd = &cobra.Command{
	Use:   "result <attempt> <status>",
	Short: "Report an attempt's outcome (success, conflict, failed_checks)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		detail, _ := cmd.Flags().GetString("detail")
		attempt, err := api().ReportIntegrationResult(cmd.Context(), args[0], types.IntegrationStatus(args[1]), detail)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(attempt)
			return
		}
		fmt.Printf("%s Attempt %s finished: %s\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(shortRef(attempt.ID)), renderAttemptStatus(attempt.Status))
	},
}

var integrateListCmd = &cobra.Command{
	Use:   "list <task>",
	Short: "List a task's integration attempts",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		attempts, err := api().ListIntegrationAttempts(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if attempts == nil {
				attempts = []*types.IntegrationAttempt{}
			}
			outputJSON(attempts)
			return
		}
		if len(attempts) == 0 {
			fmt.Println(ui.RenderMuted("No integration attempts."))
			return
		}
		for _, a := range attempts {
			line := fmt.Sprintf("%s %s  queued by %s  %s",
				ui.RenderID(shortRef(a.ID)), renderAttemptStatus(a.Status), a.QueuedBy,
				a.CreatedAt.Format("2006-01-02 15:04"))
			if a.Detail != "" {
				line += "  " + ui.RenderMuted(a.Detail)
			}
			fmt.Println(line)
		}
	},
}

func renderAttemptStatus(s types.IntegrationStatus) string {
	switch s {
	case types.IntegrationSuccess:
		return ui.RenderPass(string(s))
	case types.IntegrationConflict, types.IntegrationFailedChecks:
		return ui.RenderFail(string(s))
	default:
		return ui.RenderMuted(string(s))
	}
}

func init() {
	integrateEnqueueCmd.Flags().String("artifact", "", "Artifact to integrate (default: latest passing)")
	integrateEnqueueCmd.Flags().String("idempotency-key", "", "Dedupe key for retried enqueues")
	integrateResultCmd.Flags().StringP("detail", "d", "", "Failure detail or merge reference")
	integrateCmd.AddCommand(integrateEnqueueCmd, integrateResultCmd, integrateListCmd)
	rootCmd.AddCommand(integrateCmd)
}
