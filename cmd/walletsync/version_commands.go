package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/metadata"
	"github.com/brojonat/walletsync/service/session"
	versionpkg "github.com/brojonat/walletsync/service/version"
	"github.com/urfave/cli/v2"
)

func versionCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Run one release check against the metadata store",
		Description: `Check for a newer release at most once per interval. The time of the last
attempt is read from and written to the configured metadata store, so running
this repeatedly only contacts the release endpoint when a check is due.
Use --force to check regardless of the stored timestamp.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Check now even if the last check is recent",
			},
			&cli.StringFlag{
				Name:  "current",
				Usage: "Version to compare against (default: this build)",
				Value: version,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Minimum time between checks",
				Value: versionpkg.DefaultInterval,
			},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			ctx := c.Context

			store, err := openMetadataStore(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()

			var notices []session.Notice
			notifier := session.New(logger)
			notifier.OnNotice(func(n session.Notice) { notices = append(notices, n) })

			releases := client.NewReleaseClient(c.String("releases-url"), nil, logger)
			checker := versionpkg.NewChecker(releases, store, c.String("current"),
				versionpkg.WithInterval(c.Duration("interval")),
				versionpkg.WithNotifier(notifier),
				versionpkg.WithLogger(logger),
			)

			result := versionCheckResult{Current: checker.Current()}
			if c.Bool("force") {
				latest, checkErr := checker.Check(ctx)
				checkedAt := time.Now().UTC()
				if _, err := metadata.Update(ctx, store, func(m *metadata.AppMetaData) {
					m.LastVersionCheckedAt = &checkedAt
				}); err != nil {
					return err
				}
				if checkErr != nil {
					return checkErr
				}
				result.Checked = true
				result.Latest = latest
			} else {
				before, err := store.Load(ctx)
				if err != nil {
					return fmt.Errorf("failed to load metadata: %w", err)
				}
				_, due := versionpkg.NextCheck(before.LastVersionCheckedAt, time.Now(), c.Duration("interval"))
				delay, err := checker.Tick(ctx)
				if err != nil {
					return err
				}
				result.Checked = due
				result.Latest, _ = checker.Latest()
				result.NextCheckIn = delay.Round(time.Second).String()
			}
			result.UpdateAvailable = result.Latest != ""

			if c.Bool("json") {
				return json.NewEncoder(c.App.Writer).Encode(result)
			}
			out := c.App.Writer
			if !result.Checked {
				fmt.Fprintf(out, "Not due yet, next check in %s\n", result.NextCheckIn)
				return nil
			}
			if result.UpdateAvailable {
				fmt.Fprintf(out, "✓ New version available: %s (running %s)\n", result.Latest, result.Current)
			} else {
				fmt.Fprintf(out, "✓ Running the latest version (%s)\n", result.Current)
			}
			for _, n := range notices {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Type, n.Text)
			}
			return nil
		},
	}
}

type versionCheckResult struct {
	Current         string `json:"current"`
	Latest          string `json:"latest,omitempty"`
	UpdateAvailable bool   `json:"updateAvailable"`
	Checked         bool   `json:"checked"`
	NextCheckIn     string `json:"nextCheckIn,omitempty"`
}

func versionShowCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "walletsync CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}

// openMetadataStore opens the store selected by the global metadata flags.
func openMetadataStore(ctx context.Context, c *cli.Context) (metadata.Store, error) {
	backend := c.String("metadata-backend")
	store, err := metadata.Open(ctx, backend, c.String("metadata-path"), c.String("database-url"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s metadata store: %w", backend, err)
	}
	return store, nil
}
