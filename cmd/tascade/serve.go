package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/httpapi"
	"github.com/tascade/tascade/internal/outbox"
	"github.com/tascade/tascade/internal/storage/sqlite"
	"github.com/tascade/tascade/internal/ui"
	"github.com/tascade/tascade/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator: REST + MCP API, sweeper, and outbox",
	Long: `Run the coordinator process. One instance owns the database at a time;
a second serve against the same file reports the running PID and exits.

The process hosts the HTTP surface (REST under /v1, MCP on /mcp, Prometheus
on /metrics), the lease/reservation expiry sweeper, the gates.toml watcher,
and the outbox consumers (JSONL shipper, metrics projection).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			config.Set("server.listen", listen)
		}
		if cmd.Flags().Changed("auth-disabled") {
			v, _ := cmd.Flags().GetBool("auth-disabled")
			config.Set("server.auth_disabled", v)
		}
		if f, _ := cmd.Flags().GetString("log-file"); f != "" {
			config.Set("log.file", f)
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (default: server.listen)")
	serveCmd.Flags().Bool("auth-disabled", false, "Serve without authentication (development only)")
	serveCmd.Flags().String("log-file", "", "Log to a rotated file instead of stderr")
	rootCmd.AddCommand(serveCmd)
}

// serverLogger builds the process logger: console writer on a TTY, JSON
// lines otherwise, rotated file when log.file is set.
func serverLogger() zerolog.Logger {
	var w io.Writer = os.Stderr
	if path := config.GetString("log.file"); path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    config.GetInt("log.max_size_mb"),
			MaxBackups: config.GetInt("log.max_backups"),
			Compress:   true,
		}
	} else if ui.IsTerminal() {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	level, err := zerolog.ParseLevel(config.GetString("log.level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func runServe(ctx context.Context) error {
	log := serverLogger()
	dbPath := config.DatabasePath()

	lock, err := acquireInstanceLock(dbPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	coord := core.New(store, log, core.Options{
		DefaultLeaseTTL:       config.GetDuration("lease.default_ttl"),
		MaxLeaseTTL:           config.GetDuration("lease.max_ttl"),
		DefaultReservationTTL: config.GetDuration("reservation.default_ttl"),
	})

	authDisabled := config.GetBool("server.auth_disabled")
	if authDisabled {
		log.Warn().Msg("AUTHENTICATION DISABLED: every request runs as local-admin")
	}

	srv := httpapi.New(coord, log, httpapi.Options{
		AuthDisabled:   authDisabled,
		MCPEnabled:     config.GetBool("server.mcp_enabled"),
		RequestTimeout: config.GetDuration("server.request_timeout"),
	})
	httpServer := &http.Server{
		Addr:              config.GetString("server.listen"),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Catch up on expiries missed while the process was down, then sweep on
	// a bounded interval.
	if _, err := coord.SweepOnce(ctx); err != nil {
		return fmt.Errorf("failed initial expiry sweep: %w", err)
	}
	g.Go(func() error {
		coord.RunSweeper(ctx, config.SweepInterval())
		return nil
	})

	if rules := config.GetString("gates.rules_file"); rules != "" {
		watcher, err := core.NewRulesWatcher(coord, rules)
		if err != nil {
			return fmt.Errorf("failed to watch gate rules file: %w", err)
		}
		g.Go(func() error {
			err := watcher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	consumers := []outbox.Consumer{outbox.NewMetricsProjection(prometheus.DefaultRegisterer)}
	if dir := config.GetString("outbox.jsonl_dir"); dir != "" {
		consumers = append(consumers, outbox.NewJSONLShipper(dir, store))
	}
	runner := outbox.NewRunner(store, log, outbox.Options{
		PollInterval: config.GetDuration("outbox.poll_interval"),
	}, consumers...)
	g.Go(func() error {
		err := runner.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		log.Info().
			Str("addr", httpServer.Addr).
			Str("db", dbPath).
			Str("version", version.Version).
			Msg("coordinator listening")
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("coordinator stopped")
	return nil
}

// describeHolder formats the "already running" message from the lock file
// contents.
func describeHolder(pid int, alive bool) string {
	if pid <= 0 {
		return "another coordinator holds the database lock"
	}
	state := "status unknown"
	if alive {
		state = "running"
	}
	return fmt.Sprintf("another coordinator (pid %d, %s) holds the database lock", pid, state)
}

// trimPID parses a lock file body into a PID.
func trimPID(body []byte) int {
	var pid int
	_, _ = fmt.Sscanf(strings.TrimSpace(string(body)), "%d", &pid)
	return pid
}
