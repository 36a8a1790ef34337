package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			cl := client.NewClient(serverURL, &http.Client{Timeout: c.Duration("timeout")}, nil)
			if err := cl.Health(c.Context); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Server is healthy\n")
			fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)
			return nil
		},
	}
}

func releaseCommand() *cli.Command {
	return &cli.Command{
		Name:  "release",
		Usage: "Show the server's latest-release signal",
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server-url"), nil, nil)
			info, err := cl.Release(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get release info: %w", err)
			}

			if c.Bool("json") {
				return json.NewEncoder(c.App.Writer).Encode(info)
			}
			fmt.Fprintf(c.App.Writer, "Current: %s\n", info.Current)
			if info.UpdateAvailable {
				fmt.Fprintf(c.App.Writer, "Latest:  %s (update available)\n", info.Latest)
			} else {
				fmt.Fprintf(c.App.Writer, "Latest:  up to date\n")
			}
			return nil
		},
	}
}
