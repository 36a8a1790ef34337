package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletsync/service/db"
	"github.com/brojonat/walletsync/service/metadata"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the Postgres metadata table",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Migrations applied")
			return nil
		},
	}
}

func getMetadataCommand() *cli.Command {
	return &cli.Command{
		Name:  "get-metadata",
		Usage: "Print the app metadata record from the configured store",
		Action: func(c *cli.Context) error {
			store, err := openMetadataStore(c.Context, c)
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := store.Load(c.Context)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", metadata.Key, err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, m)
			}

			out := c.App.Writer
			fmt.Fprintf(out, "Record:                %s\n", metadata.Key)
			fmt.Fprintf(out, "Backend:               %s\n", c.String("metadata-backend"))
			if m.LastVersionCheckedAt != nil {
				fmt.Fprintf(out, "Last Version Check:    %s\n", m.LastVersionCheckedAt.Format(time.RFC3339))
			} else {
				fmt.Fprintf(out, "Last Version Check:    never\n")
			}
			if keys := m.ExtraKeys(); len(keys) > 0 {
				fmt.Fprintf(out, "Other Keys:            %v\n", keys)
			}
			return nil
		},
	}
}

func listMetadataCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-metadata",
		Aliases: []string{"ls"},
		Usage:   "List every metadata entry stored in Postgres",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			entries, err := store.ListMetadata(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list metadata: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, entries)
			}

			// Pretty table output
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\n", e.Key, len(e.Value), e.UpdatedAt.Format(time.RFC3339))
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d entries\n", len(entries))
			return nil
		},
	}
}

// getStore connects to Postgres using the global database flag.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := db.Connect(c.Context, dbURL)
	if err != nil {
		return nil, nil, err
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}
