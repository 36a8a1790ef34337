package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletsync/service/metrics"
)

// DefaultReleasesURL is the latest-release endpoint of the desktop wallet.
const DefaultReleasesURL = "https://api.github.com/repos/alephium/desktop-wallet/releases/latest"

// Release is the subset of a GitHub release used for version checks.
type Release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url,omitempty"`
	Name    string `json:"name,omitempty"`
}

// ReleaseClient fetches the latest published release.
type ReleaseClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewReleaseClient creates a client for the given latest-release URL.
func NewReleaseClient(url string, httpClient *http.Client, logger *slog.Logger) *ReleaseClient {
	if url == "" {
		url = DefaultReleasesURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &ReleaseClient{url: url, httpClient: httpClient, logger: logger}
}

// WithMetrics attaches a metrics recorder and returns the client.
func (c *ReleaseClient) WithMetrics(m *metrics.Metrics) *ReleaseClient {
	c.metrics = m
	return c
}

// LatestRelease returns the latest release. A response without tag_name is
// reported as a MalformedResponseError.
func (c *ReleaseClient) LatestRelease(ctx context.Context) (Release, error) {
	const op = "get latest release"
	start := time.Now()
	rel, err := c.latestRelease(ctx, op)
	c.metrics.RecordExplorerCall("latest_release", err, time.Since(start).Seconds())
	return rel, err
}

func (c *ReleaseClient) latestRelease(ctx context.Context, op string) (Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Release{}, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Release{}, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Release{}, parseErrorResponse(op, resp)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Release{}, &MalformedResponseError{Op: op, Err: err}
	}
	if rel.TagName == "" {
		return Release{}, &MalformedResponseError{Op: op, Err: errors.New("missing tag_name")}
	}

	c.logger.DebugContext(ctx, "fetched latest release", "tag_name", rel.TagName)
	return rel, nil
}
