package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/session"
	"github.com/brojonat/walletsync/service/txn"
	"github.com/brojonat/walletsync/service/watch"
	"github.com/urfave/cli/v2"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Print the transaction history of an address from the explorer",
		ArgsUsage: "ADDRESS",
		Description: `Refresh the latest page of an address and load older pages, then print
every row newest first. Rows can be filtered with jq expressions; a row is
printed only when every filter is truthy.

Example:
  walletsync history 1DrDyTr9RpRsQnDnXo2YRiPzPW4ooHX5LLoqXrqfMrpQH --pages 3 --jq '.direction == "out"'`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "pages",
				Aliases: []string{"p"},
				Usage:   "Number of pages to load",
				Value:   1,
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each row (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("address is required")
			}
			address := c.Args().First()
			if err := watch.ValidateAddress(address); err != nil {
				return err
			}
			pages := c.Int("pages")
			if pages < 1 {
				return fmt.Errorf("pages must be at least 1")
			}

			codes, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			logger := setupLogger(c.String("log-level"))
			explorer := client.NewExplorerClient(c.String("explorer-url"), nil, logger)
			rec := reconciler.New(address, explorer, session.New(logger), reconciler.WithLogger(logger))
			defer rec.Close()

			ctx := c.Context
			if _, err := rec.RefreshLatest(ctx); err != nil {
				return fmt.Errorf("%s: %w", client.UserMessage(err, reconciler.RefreshFailedMessage), err)
			}
			for loaded := 1; loaded < pages && !rec.View().AllLoaded; loaded++ {
				page := rec.View().NextPage()
				txs, err := rec.LoadMore(ctx, page)
				if err != nil {
					return fmt.Errorf("failed to load page %d: %w", page, err)
				}
				if len(txs) == 0 {
					break
				}
			}

			view := rec.View()
			rows, err := filterRows(codes, view.Rows)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return writeRowsJSON(c.App.Writer, rows)
			}
			fmt.Fprintf(c.App.Writer, "Address:  %s\n", view.Address)
			fmt.Fprintf(c.App.Writer, "Balance:  %s\n", view.Balance)
			fmt.Fprintf(c.App.Writer, "Loaded:   %d of %d transactions\n\n", len(view.Rows), view.TotalCount)
			return writeRowsTable(c.App.Writer, rows)
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch an address and print its merged list on every change",
		ArgsUsage: "ADDRESS",
		Description: `Run a local watch against the explorer. Pending transactions read from
--pending are shown first and the latest page is polled while any of them is
waiting to confirm. Press Ctrl-C to stop.

The pending file is a JSON array:
  [{"txId": "...", "toAddress": "...", "amount": "1000", "timestamp": 1700000000000}]`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "pending",
				Usage: "JSON file with pending transactions sent from the address",
			},
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Poll interval while transactions are pending",
				Value:   2 * time.Second,
			},
			&cli.StringFlag{
				Name:  "retire",
				Usage: "Pending retire policy (never, id, match)",
				Value: "id",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each row (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("address is required")
			}
			address := c.Args().First()

			codes, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}
			policy, err := reconciler.ParseRetirePolicy(c.String("retire"), 10*time.Minute)
			if err != nil {
				return err
			}

			var pending []txn.PendingTransaction
			if path := c.String("pending"); path != "" {
				pending, err = readPendingFile(path, address)
				if err != nil {
					return err
				}
			}

			logger := setupLogger(c.String("log-level"))
			explorer := client.NewExplorerClient(c.String("explorer-url"), nil, logger)
			registry := watch.NewRegistry(explorer,
				watch.WithLogger(logger),
				watch.WithPollInterval(c.Duration("interval")),
				watch.WithRetirePolicy(policy),
			)
			defer registry.Close()

			w, _, err := registry.Watch(address)
			if err != nil {
				return err
			}

			out := c.App.Writer
			jsonOutput := c.Bool("json")
			unsubscribe := w.Reconciler.Subscribe(func(v reconciler.View) {
				if v.Loading {
					return
				}
				rows, err := filterRows(codes, v.Rows)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error filtering rows: %v\n", err)
					return
				}
				if jsonOutput {
					writeRowsJSON(out, rows)
					return
				}
				fmt.Fprintf(out, "─── %s  balance %s  pending %d  %s\n",
					v.Address, v.Balance, v.PendingCount, time.Now().Format(time.RFC3339))
				writeRowsTable(out, rows)
				fmt.Fprintln(out)
			})
			defer unsubscribe()
			stopNotices := w.Session.OnNotice(func(n session.Notice) {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Type, n.Text)
			})
			defer stopNotices()

			for _, p := range pending {
				w.Session.AddPending(p)
			}

			// Setup signal handling for graceful shutdown
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Watching %s... (Ctrl-C to exit)\n\n", address)
			}
			<-ctx.Done()
			return nil
		},
	}
}

func deltaCommand() *cli.Command {
	return &cli.Command{
		Name:      "delta",
		Usage:     "Compute the balance change of a transaction for an address",
		ArgsUsage: "ADDRESS",
		Description: `Read a transaction (or a JSON array of transactions) in the explorer's
format from --file or stdin and print how each one changes the balance of ADDRESS.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Transaction JSON file (default: stdin)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("address is required")
			}
			address := c.Args().First()

			r := c.App.Reader
			if path := c.String("file"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				defer f.Close()
				r = f
			}

			txs, err := readTransactions(r)
			if err != nil {
				return err
			}

			rows := make([]txn.Row, len(txs))
			for i, tx := range txs {
				rows[i] = txn.Classify(tx, address)
			}

			if c.Bool("json") {
				return writeRowsJSON(c.App.Writer, rows)
			}
			return writeRowsTable(c.App.Writer, rows)
		},
	}
}

// readTransactions decodes a single transaction or an array of them.
func readTransactions(r io.Reader) ([]txn.Transaction, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("no transaction on input")
	}

	if strings.HasPrefix(trimmed, "[") {
		var txs []txn.Transaction
		if err := json.Unmarshal([]byte(trimmed), &txs); err != nil {
			return nil, fmt.Errorf("failed to parse transactions: %w", err)
		}
		return txs, nil
	}
	var tx txn.Transaction
	if err := json.Unmarshal([]byte(trimmed), &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	return []txn.Transaction{tx}, nil
}

// readPendingFile loads pending transactions sent from address.
func readPendingFile(path, address string) ([]txn.PendingTransaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending file: %w", err)
	}
	var entries []client.Pending
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse pending file: %w", err)
	}

	pending := make([]txn.PendingTransaction, 0, len(entries))
	for _, e := range entries {
		if e.TxID == "" {
			return nil, fmt.Errorf("pending entry is missing txId")
		}
		ts := time.Now().UTC()
		if e.Timestamp > 0 {
			ts = time.UnixMilli(e.Timestamp).UTC()
		}
		pending = append(pending, txn.PendingTransaction{
			TxID:        e.TxID,
			FromAddress: address,
			ToAddress:   e.ToAddress,
			Amount:      e.Amount,
			Timestamp:   ts,
		})
	}
	return pending, nil
}

// writeRowsJSON writes one JSON object per row.
func writeRowsJSON(w io.Writer, rows []txn.Row) error {
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func writeRowsTable(w io.Writer, rows []txn.Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTIME\tDELTA\tCOUNTERPARTIES")
	for _, row := range rows {
		status := "confirmed"
		if row.Pending {
			status = "pending"
		}
		counterparties := strings.Join(row.Counterparties, ",")
		if row.Label != "" {
			counterparties = row.Label
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			row.ID,
			status,
			row.Timestamp.Format(time.RFC3339),
			row.Delta,
			counterparties,
		)
	}
	return tw.Flush()
}
