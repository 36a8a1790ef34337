package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletsync/service/temporal"
	"github.com/urfave/cli/v2"
)

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create or update the headless sync schedule of an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often to sync",
				EnvVars: []string{"SYNC_INTERVAL"},
				Value:   30 * time.Second,
			},
			&cli.IntFlag{
				Name:  "pages",
				Usage: "Pages to load on each run",
				Value: 1,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			address := c.Args().First()
			interval := c.Duration("interval")
			pages := c.Int("pages")
			if pages < 1 || pages > temporal.MaxSyncPages {
				return fmt.Errorf("pages must be between 1 and %d", temporal.MaxSyncPages)
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.UpsertSyncSchedule(c.Context, address, interval, pages); err != nil {
				return err
			}

			fmt.Printf("✓ Schedule saved: %s\n", temporal.ScheduleID(address))
			fmt.Printf("  Address: %s\n", address)
			fmt.Printf("  Interval: %v\n", interval)
			fmt.Printf("  Pages: %d\n", pages)
			fmt.Printf("  Task Queue: %s\n", temporalClient.TaskQueue())
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete the headless sync schedule of an address",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			address := c.Args().First()

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.DeleteSyncSchedule(c.Context, address); err != nil {
				return err
			}
			fmt.Printf("✓ Schedule deleted: %s\n", temporal.ScheduleID(address))
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Aliases:   []string{"desc"},
		Usage:     "Describe the headless sync schedule of an address",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			address := c.Args().First()

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			summary, err := temporalClient.DescribeSyncSchedule(c.Context, address)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(os.Stdout, summary)
			}

			// Pretty output
			fmt.Printf("Schedule ID:    %s\n", summary.ID)
			fmt.Printf("Address:        %s\n", summary.Address)
			fmt.Printf("Interval:       %s\n", summary.Interval)
			fmt.Printf("Pages:          %d\n", summary.Pages)
			fmt.Printf("Paused:         %v\n", summary.Paused)
			fmt.Printf("Actions:        %d\n", summary.NumActions)
			if summary.LastRunAt != nil {
				fmt.Printf("Last Run:       %s\n", summary.LastRunAt.Format(time.RFC3339))
			}
			for i, next := range summary.NextActionTimes {
				fmt.Printf("Next Run %d:     %s\n", i+1, next.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List all headless sync schedules",
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ids, err := temporalClient.ListSyncSchedules(c.Context)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(os.Stdout, ids)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID")
			for _, id := range ids {
				fmt.Fprintf(w, "%s\n", id)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", len(ids))
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Run one headless sync of an address on a worker and wait for the result",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "pages",
				Usage: "Pages to load",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  "skip-publish",
				Usage: "Do not publish the resulting view to NATS",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			address := c.Args().First()

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			result, err := temporalClient.RunSync(c.Context, temporal.SyncAddressInput{
				Address:     address,
				Pages:       c.Int("pages"),
				SkipPublish: c.Bool("skip-publish"),
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(os.Stdout, result)
			}
			fmt.Printf("✓ Synced %s\n", result.Address)
			fmt.Printf("  Balance:   %s\n", result.Balance)
			fmt.Printf("  Loaded:    %d of %d\n", result.LoadedCount, result.TotalCount)
			fmt.Printf("  Head:      %s\n", result.HeadHash)
			fmt.Printf("  Published: %v\n", result.Published)
			return nil
		},
	}
}

// getTemporalClient connects to Temporal using the global flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := setupLogger(c.String("log-level"))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		nil,
		logger,
	)
}
