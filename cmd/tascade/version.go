package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/ui"
	"github.com/tascade/tascade/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Long: `Print the client version. With --server, also handshake with the
configured server and report compatibility.`,
	Run: func(cmd *cobra.Command, args []string) {
		checkServer, _ := cmd.Flags().GetBool("server")
		out := map[string]any{"version": version.Version, "min_client": version.MinClient}

		if !checkServer {
			if jsonOutput {
				outputJSON(out)
				return
			}
			fmt.Printf("tascade %s\n", version.Version)
			return
		}

		h, serverBehind, err := api().Hello(cmd.Context())
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			out["server_version"] = h.Version
			out["server_status"] = h.Status
			out["server_behind"] = serverBehind
			outputJSON(out)
			return
		}
		fmt.Printf("tascade %s\n", version.Version)
		fmt.Printf("server  %s (%s)\n", h.Version, h.Status)
		if serverBehind {
			fmt.Printf("%s The server is older than this client; newer operations may be missing\n",
				ui.RenderWarn(ui.IconWarn))
		} else {
			fmt.Printf("%s Compatible\n", ui.RenderPass(ui.IconPass))
		}
	},
}

func init() {
	versionCmd.Flags().Bool("server", false, "Also handshake with the configured server")
	rootCmd.AddCommand(versionCmd)
}
