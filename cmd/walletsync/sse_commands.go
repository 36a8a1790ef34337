package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/session"
	"github.com/urfave/cli/v2"
)

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream view updates via SSE (HTTP)",
		ArgsUsage: "[ADDRESS]",
		Description: `Stream the merged view of a watched address as it changes, together with
the address's notices. With --published, stream the views published to NATS
instead; the address is then optional and omitting it streams every address.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "published",
				Usage: "Stream views published to NATS instead of the live watch",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := strings.TrimRight(c.String("server-url"), "/")
			address := c.Args().First()
			jsonOutput := c.Bool("json")

			// Build SSE endpoint URL
			var url string
			switch {
			case c.Bool("published") && address != "":
				url = fmt.Sprintf("%s/api/v1/stream/views/%s", serverURL, address)
			case c.Bool("published"):
				url = fmt.Sprintf("%s/api/v1/stream/views", serverURL)
			case address != "":
				url = client.NewClient(serverURL, nil, nil).StreamURL(address)
			default:
				return fmt.Errorf("address is required unless --published is set")
			}

			// Create context that cancels on interrupt
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")

			httpClient := &http.Client{
				Timeout: 0, // No timeout for streaming
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Streaming views from %s... (Ctrl+C to stop)\n\n", url)
			}

			err = readSSE(ctx, resp.Body, func(event, data string) error {
				return handleSSEEvent(c.App.Writer, event, data, jsonOutput)
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\nDisconnected\n")
			}
			return nil
		},
	}
}

// readSSE parses a text/event-stream body and calls fn for every complete
// event. Comment lines are ignored.
func readSSE(ctx context.Context, r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if currentEvent != "" && currentData != "" {
				if err := fn(currentEvent, currentData); err != nil {
					return err
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		// Parse event line
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func handleSSEEvent(w io.Writer, eventType, data string, jsonOutput bool) error {
	switch eventType {
	case "connected":
		if !jsonOutput {
			fmt.Fprintf(os.Stderr, "✓ Connected %s\n\n", data)
		}
		return nil

	case "view":
		if jsonOutput {
			fmt.Fprintln(w, data)
			return nil
		}
		var view client.View
		if err := json.Unmarshal([]byte(data), &view); err != nil {
			return err
		}
		fmt.Fprintf(w, "─── %s  balance %s  total %d  pending %d  %s\n",
			view.Address, view.Balance, view.TotalCount, view.PendingCount, time.Now().Format(time.RFC3339))
		if err := writeRowsTable(w, view.Rows); err != nil {
			return err
		}
		fmt.Fprintln(w)
		return nil

	case "notice":
		var n session.Notice
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Type, n.Text)
		return nil

	case "error":
		var errInfo map[string]interface{}
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return err
		}
		return fmt.Errorf("server error: %v", errInfo["error"])

	default:
		// Unknown event type, ignore
		return nil
	}
}
