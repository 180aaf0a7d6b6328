// Command tascade is the CLI for the tascade coordinator: the server
// process (serve, mcp) and the operator/agent client commands that talk to
// it over HTTP.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/client"
	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/types"
)

var (
	configFile string
	jsonOutput bool
	actorFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "tascade",
	Short: "Dependency-aware coordination for multi-agent software work",
	Long: `Tascade coordinates autonomous coding agents over a shared plan:
a dependency graph of tasks with leases, reservations, review gates, and an
integration queue. Run the coordinator with "tascade serve", then point
agents and operators at it with the other commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(configFile); err != nil {
			return err
		}
		// Explicit flags win over env and file values.
		if cmd.Flags().Changed("json") {
			config.Set("json", jsonOutput)
		}
		if s, _ := cmd.Flags().GetString("server"); s != "" {
			config.Set("client.base_url", s)
		}
		if k, _ := cmd.Flags().GetString("api-key"); k != "" {
			config.Set("client.api_key", k)
		}
		jsonOutput = config.GetBool("json")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: tascade.yaml found upward from CWD)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Acting identity for writes (default: TASCADE_ACTOR, git user.name, hostname)")
	rootCmd.PersistentFlags().String("server", "", "Coordinator base URL (default: client.base_url)")
	rootCmd.PersistentFlags().String("api-key", "", "API key (default: client.api_key / TASCADE_CLIENT_API_KEY)")
}

// api builds the HTTP client for commands that talk to a running
// coordinator.
func api() *client.Client {
	c := client.New(config.GetString("client.base_url"), config.GetString("client.api_key"))
	c.Actor = config.Actor(actorFlag)
	if t := config.GetDuration("client.timeout"); t > 0 {
		c.HTTPClient.Timeout = t
	}
	return c
}

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// fail prints an error and exits. Domain errors show their code so scripts
// and agents can branch on it even in human output mode.
func fail(err error) {
	if de, ok := types.AsError(err); ok {
		fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", de.Code, de.Message)
		if de.SubCode != "" {
			fmt.Fprintf(os.Stderr, "  sub-code: %s\n", de.SubCode)
		}
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
