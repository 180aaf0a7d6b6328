package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/storage/sqlite"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

// gatesSkeleton is written next to a new database so operators have a
// commented starting point for gate rules.
const gatesSkeleton = `# Gate rules for the tascade coordinator. The serve process watches this
# file and reloads it on save; removing a rule here disables it without
# losing its decision history.
#
# [[rule]]
# name = "security-review"
# trigger = "task_implemented"
# gate_class = "review_gate"
# reviewer_capability = "security"
# [rule.match]
# path_prefix = "internal/auth"
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the coordinator database and the first admin key",
	Long: `Create the database (with schema), a gates.toml skeleton beside it, and
mint the first admin API key. The raw key is printed once and never stored;
put it in TASCADE_CLIENT_API_KEY or client.api_key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := config.DatabasePath()
		if p, _ := cmd.Flags().GetString("db"); p != "" {
			dbPath = p
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(dbPath); err == nil && !force {
			return fmt.Errorf("database %s already exists (use --force to mint another admin key)", dbPath)
		}

		ctx := cmd.Context()
		store, err := sqlite.New(ctx, dbPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		coord := core.New(store, zerolog.Nop(), core.Options{})
		issued, err := coord.IssueAPIKey(ctx, core.APIKeyInput{
			Name:   "bootstrap-admin",
			Scopes: types.RoleScopes{types.RoleAdmin},
			Actor:  config.Actor(actorFlag),
		})
		if err != nil {
			return err
		}

		gatesPath := filepath.Join(filepath.Dir(dbPath), "gates.toml")
		if _, err := os.Stat(gatesPath); os.IsNotExist(err) {
			if err := os.WriteFile(gatesPath, []byte(gatesSkeleton), 0o644); err != nil {
				return fmt.Errorf("failed to write gates skeleton: %w", err)
			}
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"db":         dbPath,
				"gates_file": gatesPath,
				"admin_key":  issued.Raw,
				"key_prefix": issued.Key.Prefix,
			})
			return nil
		}
		fmt.Printf("%s Database ready at %s\n", ui.RenderPass(ui.IconPass), dbPath)
		fmt.Printf("%s Gate rules skeleton at %s\n", ui.RenderPass(ui.IconPass), gatesPath)
		fmt.Printf("\nAdmin API key (shown once, store it now):\n\n  %s\n\n", ui.RenderBold(issued.Raw))
		fmt.Printf("Start the coordinator with: tascade serve\n")
		return nil
	},
}

func init() {
	initCmd.Flags().String("db", "", "Database path (default: config db.path resolution)")
	initCmd.Flags().Bool("force", false, "Run against an existing database")
	rootCmd.AddCommand(initCmd)
}
