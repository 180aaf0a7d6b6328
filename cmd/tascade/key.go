package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage API keys",
}

var keyIssueCmd = &cobra.Command{
	Use:   "issue <name>",
	Short: "Issue an API key",
	Long: `Issue an API key. --project scopes the key to one project; without it
the key is global, which requires (and grants only to) the admin role.
The raw key is printed once and never stored.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		scopes, _ := cmd.Flags().GetStringSlice("scopes")
		issued, err := api().IssueKey(cmd.Context(), project, args[0], scopes)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(issued)
			return
		}
		fmt.Printf("%s Issued key %q (prefix %s, scopes %s)\n",
			ui.RenderPass(ui.IconPass), issued.Key.Name, issued.Key.Prefix, issued.Key.Scopes)
		fmt.Printf("\nRaw key (shown once, store it now):\n\n  %s\n", ui.RenderBold(issued.Raw))
	},
}

var keyRevokeCmd = &cobra.Command{
	Use:   "revoke <raw-key>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := api().RevokeKey(cmd.Context(), args[0]); err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(map[string]bool{"revoked": true})
			return
		}
		fmt.Printf("%s Key revoked\n", ui.RenderPass(ui.IconPass))
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys (prefixes only)",
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		keys, err := api().ListKeys(cmd.Context(), project)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if keys == nil {
				keys = []*types.APIKey{}
			}
			outputJSON(keys)
			return
		}
		if len(keys) == 0 {
			fmt.Println(ui.RenderMuted("No keys."))
			return
		}
		for _, k := range keys {
			status := ui.RenderPass(string(k.Status))
			if k.Status == types.KeyRevoked {
				status = ui.RenderFail(string(k.Status))
			}
			scope := "global"
			if k.ProjectID != "" {
				scope = shortRef(k.ProjectID)
			}
			fmt.Printf("%s… %-20s %s  scope %s  roles %s\n",
				k.Prefix, k.Name, status, scope, k.Scopes)
		}
	},
}

func init() {
	keyIssueCmd.Flags().StringP("project", "p", "", "Scope the key to this project")
	keyIssueCmd.Flags().StringSlice("scopes", []string{string(types.RoleAgent)},
		"Role scopes (planner, agent, reviewer, operator, admin)")
	keyListCmd.Flags().StringP("project", "p", "", "Only keys scoped to this project")
	keyCmd.AddCommand(keyIssueCmd, keyRevokeCmd, keyListCmd)
	rootCmd.AddCommand(keyCmd)
}
