package main

import (
	"context"
	"errors"
	"io"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/storage/sqlite"
	"github.com/tascade/tascade/internal/toolcall"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/version"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tool surface over stdio",
	Long: `Serve the operation table as MCP tools over stdio, opening the database
directly. Meant for a local agent host that spawns the process itself; calls
run with a fixed local identity, scoped by --scopes.

A coordinator reachable over HTTP exposes the same tools on /mcp instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scopesArg, _ := cmd.Flags().GetString("scopes")
		scopes, err := types.ParseRoleScopes(scopesArg)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		return runMCP(cmd.Context(), name, scopes)
	},
}

func init() {
	mcpCmd.Flags().String("scopes", "admin", "Comma-separated role scopes granted to the stdio caller")
	mcpCmd.Flags().String("name", "mcp-local", "Identity name recorded as the actor")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(ctx context.Context, name string, scopes types.RoleScopes) error {
	// stdout carries the protocol; serverLogger writes to stderr or a file.
	log := serverLogger()

	store, err := sqlite.New(ctx, config.DatabasePath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	coord := core.New(store, log, core.Options{
		DefaultLeaseTTL:       config.GetDuration("lease.default_ttl"),
		MaxLeaseTTL:           config.GetDuration("lease.max_ttl"),
		DefaultReservationTTL: config.GetDuration("reservation.default_ttl"),
	})

	identity := &types.Identity{KeyID: "stdio", Name: name, Scopes: scopes}
	server := toolcall.NewMCPServer(coord, version.Version, func(context.Context) (*types.Identity, error) {
		return identity, nil
	})

	err = server.Run(ctx, &sdkmcp.StdioTransport{})
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
