package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "walletsync",
		Usage: "Wallet transaction history and sync CLI",
		Description: `A command-line tool for the walletsync service.

Use this CLI to browse an address's history straight from the explorer, drive the
local API server, manage headless sync schedules and inspect published views.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Explorer commands (no server needed)
			historyCommand(),
			watchCommand(),
			deltaCommand(),
			// Release check commands
			{
				Name:  "version",
				Usage: "Release check commands",
				Subcommands: []*cli.Command{
					versionCheckCommand(),
					versionShowCommand(),
				},
			},
			// Client commands (HTTP API)
			clientCommands(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					releaseCommand(),
				},
			},
			// Temporal schedule commands
			{
				Name:  "temporal",
				Usage: "Headless sync schedule commands",
				Subcommands: []*cli.Command{
					{
						Name:  "schedule",
						Usage: "Manage per-address sync schedules",
						Subcommands: []*cli.Command{
							createScheduleCommand(),
							deleteScheduleCommand(),
							describeScheduleCommand(),
							listSchedulesCommand(),
						},
					},
					syncCommand(),
				},
			},
			// NATS view streaming commands
			{
				Name:  "nats",
				Usage: "NATS view streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Metadata storage commands
			{
				Name:  "db",
				Usage: "Metadata storage commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					getMetadataCommand(),
					listMetadataCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "explorer-url",
				Usage:   "Explorer backend API URL",
				EnvVars: []string{"EXPLORER_API_URL"},
				Value:   "https://backend.mainnet.alephium.org",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Local API server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.StringFlag{
				Name:    "releases-url",
				Usage:   "Latest release endpoint",
				EnvVars: []string{"RELEASES_LATEST_URL"},
				Value:   "https://api.github.com/repos/alephium/desktop-wallet/releases/latest",
			},
			&cli.StringFlag{
				Name:    "metadata-backend",
				Usage:   "Metadata store backend (pebble, file, postgres)",
				EnvVars: []string{"METADATA_BACKEND"},
				Value:   "pebble",
			},
			&cli.StringFlag{
				Name:    "metadata-path",
				Usage:   "Metadata store path for the pebble and file backends",
				EnvVars: []string{"METADATA_PATH"},
				Value:   "./data/metadata",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "walletsync-address-sync",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
