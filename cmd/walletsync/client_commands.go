package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/txn"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the local API server",
		Subcommands: []*cli.Command{
			clientListCommand(),
			clientWatchCommand(),
			clientUnwatchCommand(),
			clientViewCommand(),
			clientRefreshCommand(),
			clientLoadPageCommand(),
			{
				Name:  "pending",
				Usage: "Manage pending transactions of a watched address",
				Subcommands: []*cli.Command{
					clientAddPendingCommand(),
					clientRemovePendingCommand(),
				},
			},
			{
				Name:  "schedule",
				Usage: "Manage headless sync schedules through the server",
				Subcommands: []*cli.Command{
					clientScheduleSetCommand(),
					clientScheduleDeleteCommand(),
				},
			},
			streamCommand(),
		},
	}
}

func newAPIClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, setupLogger(c.String("log-level")))
}

func requireAddress(c *cli.Context) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("address is required")
	}
	return c.Args().First(), nil
}

func clientListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List watched addresses",
		Action: func(c *cli.Context) error {
			watches, err := newAPIClient(c).List(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list watches: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, watches)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tBALANCE\tTOTAL\tPENDING\tPOLLING\tSTARTED")
			for _, wt := range watches {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\t%s\n",
					wt.Address,
					wt.Balance,
					wt.TotalCount,
					wt.PendingCount,
					wt.Polling,
					wt.StartedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d addresses\n", len(watches))
			return nil
		},
	}
}

func clientWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Aliases:   []string{"add"},
		Usage:     "Start watching an address on the server",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			summary, created, err := newAPIClient(c).Watch(c.Context, address)
			if err != nil {
				return fmt.Errorf("failed to watch address: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, summary)
			}
			if created {
				fmt.Fprintf(c.App.Writer, "✓ Watching %s\n", address)
			} else {
				fmt.Fprintf(c.App.Writer, "✓ Already watching %s\n", address)
			}
			return nil
		},
	}
}

func clientUnwatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "unwatch",
		Aliases:   []string{"rm"},
		Usage:     "Stop watching an address on the server",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			if err := newAPIClient(c).Unwatch(c.Context, address); err != nil {
				return fmt.Errorf("failed to unwatch address: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Stopped watching %s\n", address)
			return nil
		},
	}
}

func clientViewCommand() *cli.Command {
	return &cli.Command{
		Name:      "view",
		Usage:     "Print the merged transaction list of a watched address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each row (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			codes, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}
			view, err := newAPIClient(c).View(c.Context, address)
			if err != nil {
				return fmt.Errorf("failed to get view: %w", err)
			}
			return printView(c, view, codes)
		},
	}
}

func clientRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Fetch the latest page of a watched address now",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			view, err := newAPIClient(c).Refresh(c.Context, address)
			if err != nil {
				return fmt.Errorf("%s: %w", client.UserMessage(err, "refresh failed"), err)
			}
			return printView(c, view, nil)
		},
	}
}

func clientLoadPageCommand() *cli.Command {
	return &cli.Command{
		Name:      "page",
		Usage:     "Load an older page of a watched address",
		ArgsUsage: "ADDRESS PAGE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: address page")
			}
			address := c.Args().Get(0)
			page, err := strconv.Atoi(c.Args().Get(1))
			if err != nil || page < 1 {
				return fmt.Errorf("page must be a positive integer")
			}

			result, err := newAPIClient(c).LoadPage(c.Context, address, page)
			if err != nil {
				return fmt.Errorf("failed to load page %d: %w", page, err)
			}
			if !c.Bool("json") {
				fmt.Fprintf(os.Stderr, "Fetched %d transactions from page %d\n\n", result.Fetched, result.Page)
			}
			return printView(c, &result.View, nil)
		},
	}
}

func clientAddPendingCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Record a sent transaction that has not confirmed yet",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "txid",
				Usage:    "Transaction ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Recipient address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount sent, in the smallest unit",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			amount, err := txn.ParseAmount(c.String("amount"))
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			view, err := newAPIClient(c).AddPending(c.Context, address, client.Pending{
				TxID:      c.String("txid"),
				ToAddress: c.String("to"),
				Amount:    amount,
				Timestamp: time.Now().UnixMilli(),
			})
			if err != nil {
				return fmt.Errorf("failed to add pending transaction: %w", err)
			}
			return printView(c, view, nil)
		},
	}
}

func clientRemovePendingCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Drop a pending transaction",
		ArgsUsage: "ADDRESS TXID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: address txid")
			}
			address, txID := c.Args().Get(0), c.Args().Get(1)
			if err := newAPIClient(c).RemovePending(c.Context, address, txID); err != nil {
				return fmt.Errorf("failed to remove pending transaction: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Removed pending transaction %s\n", txID)
			return nil
		},
	}
}

func clientScheduleSetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Create or update the sync schedule of an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Value:   30 * time.Second,
				Usage:   "How often to sync",
			},
			&cli.IntFlag{
				Name:  "pages",
				Value: 1,
				Usage: "Pages to load on each run",
			},
		},
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			schedule, err := newAPIClient(c).UpsertSchedule(c.Context, address, c.Duration("interval"), c.Int("pages"))
			if err != nil {
				return fmt.Errorf("failed to set schedule: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, schedule)
			}
			fmt.Fprintf(c.App.Writer, "✓ Schedule saved: %s\n", schedule.ScheduleID)
			fmt.Fprintf(c.App.Writer, "  Interval: %s\n", schedule.Interval)
			fmt.Fprintf(c.App.Writer, "  Pages:    %d\n", schedule.Pages)
			return nil
		},
	}
}

func clientScheduleDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete the sync schedule of an address",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			if err := newAPIClient(c).DeleteSchedule(c.Context, address); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Schedule deleted for %s\n", address)
			return nil
		},
	}
}

func printView(c *cli.Context, view *client.View, codes []*gojq.Code) error {
	rows, err := filterRows(codes, view.Rows)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		view.Rows = rows
		return outputJSON(c.App.Writer, view)
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Address:  %s\n", view.Address)
	fmt.Fprintf(out, "Balance:  %s (locked %s)\n", view.Balance, view.LockedBalance)
	fmt.Fprintf(out, "Loaded:   %d of %d transactions, %d pending\n", len(view.Rows)-view.PendingCount, view.TotalCount, view.PendingCount)
	if view.LastError != "" {
		fmt.Fprintf(out, "Error:    %s\n", view.LastError)
	}
	fmt.Fprintln(out)
	return writeRowsTable(out, rows)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
