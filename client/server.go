package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/walletsync/service/txn"
)

// WatchSummary describes a watched address.
type WatchSummary struct {
	Address      string     `json:"address"`
	Balance      txn.Amount `json:"balance"`
	TotalCount   int        `json:"totalCount"`
	PendingCount int        `json:"pendingCount"`
	Polling      bool       `json:"polling"`
	StartedAt    time.Time  `json:"startedAt"`
}

// View is the merged transaction list of a watched address: pending rows
// first, then confirmed rows newest first.
type View struct {
	Address        string     `json:"address"`
	Balance        txn.Amount `json:"balance"`
	LockedBalance  txn.Amount `json:"lockedBalance"`
	TotalCount     int        `json:"totalCount"`
	PendingCount   int        `json:"pendingCount"`
	Rows           []txn.Row  `json:"rows"`
	Loading        bool       `json:"loading"`
	AllLoaded      bool       `json:"allLoaded"`
	LastLoadedPage int        `json:"lastLoadedPage"`
	LastError      string     `json:"lastError,omitempty"`
}

// PageResult is the outcome of loading an older page.
type PageResult struct {
	Page    int  `json:"page"`
	Fetched int  `json:"fetched"`
	View    View `json:"view"`
}

// Pending describes a sent transaction to show until it confirms.
type Pending struct {
	TxID      string     `json:"txId"`
	ToAddress string     `json:"toAddress"`
	Amount    txn.Amount `json:"amount"`
	Timestamp int64      `json:"timestamp,omitempty"`
}

// ReleaseInfo is the latest-release signal.
type ReleaseInfo struct {
	Current         string `json:"current"`
	Latest          string `json:"latest,omitempty"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

// Schedule describes a headless sync schedule.
type Schedule struct {
	Address    string `json:"address"`
	ScheduleID string `json:"scheduleId"`
	Interval   string `json:"interval"`
	Pages      int    `json:"pages"`
}

// Client is the HTTP client for the walletsync local API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new local API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Watch tells the server to start watching an address. It reports whether
// the watch was newly created.
func (c *Client) Watch(ctx context.Context, address string) (*WatchSummary, bool, error) {
	var summary WatchSummary
	status, err := c.do(ctx, "watch", http.MethodPost, c.addressURL(address, "watch"), nil, &summary,
		http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, false, err
	}
	c.logger.Debug("address watched", "address", address, "created", status == http.StatusCreated)
	return &summary, status == http.StatusCreated, nil
}

// Unwatch tells the server to stop watching an address.
func (c *Client) Unwatch(ctx context.Context, address string) error {
	_, err := c.do(ctx, "unwatch", http.MethodDelete, c.addressURL(address, "watch"), nil, nil, http.StatusNoContent)
	if err != nil {
		return err
	}
	c.logger.Debug("address unwatched", "address", address)
	return nil
}

// List returns every watched address.
func (c *Client) List(ctx context.Context) ([]WatchSummary, error) {
	var resp struct {
		Addresses []WatchSummary `json:"addresses"`
	}
	if _, err := c.do(ctx, "list watches", http.MethodGet, c.baseURL+"/api/v1/addresses", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

// View returns the current merged list of a watched address.
func (c *Client) View(ctx context.Context, address string) (*View, error) {
	var view View
	if _, err := c.do(ctx, "get view", http.MethodGet, c.addressURL(address, "view"), nil, &view, http.StatusOK); err != nil {
		return nil, err
	}
	return &view, nil
}

// Refresh fetches the latest page now and returns the updated view.
func (c *Client) Refresh(ctx context.Context, address string) (*View, error) {
	var view View
	if _, err := c.do(ctx, "refresh", http.MethodPost, c.addressURL(address, "refresh"), nil, &view, http.StatusOK); err != nil {
		return nil, err
	}
	return &view, nil
}

// LoadPage loads an older page of history.
func (c *Client) LoadPage(ctx context.Context, address string, page int) (*PageResult, error) {
	var result PageResult
	u := c.addressURL(address, fmt.Sprintf("pages/%d", page))
	if _, err := c.do(ctx, "load page", http.MethodPost, u, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// AddPending records a sent transaction from address.
func (c *Client) AddPending(ctx context.Context, address string, p Pending) (*View, error) {
	var view View
	if _, err := c.do(ctx, "add pending", http.MethodPost, c.addressURL(address, "pending"), p, &view, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.Debug("pending transaction added", "address", address, "tx_id", p.TxID)
	return &view, nil
}

// RemovePending drops a pending transaction.
func (c *Client) RemovePending(ctx context.Context, address, txID string) error {
	u := c.addressURL(address, "pending/"+url.PathEscape(txID))
	_, err := c.do(ctx, "remove pending", http.MethodDelete, u, nil, nil, http.StatusNoContent)
	return err
}

// UpsertSchedule creates or updates the headless sync schedule of address.
func (c *Client) UpsertSchedule(ctx context.Context, address string, interval time.Duration, pages int) (*Schedule, error) {
	body := map[string]interface{}{
		"interval": interval.String(),
		"pages":    pages,
	}
	var schedule Schedule
	if _, err := c.do(ctx, "upsert schedule", http.MethodPut, c.addressURL(address, "schedule"), body, &schedule, http.StatusOK); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// DeleteSchedule removes the headless sync schedule of address.
func (c *Client) DeleteSchedule(ctx context.Context, address string) error {
	_, err := c.do(ctx, "delete schedule", http.MethodDelete, c.addressURL(address, "schedule"), nil, nil, http.StatusNoContent)
	return err
}

// Release returns the latest-release signal.
func (c *Client) Release(ctx context.Context) (*ReleaseInfo, error) {
	var info ReleaseInfo
	if _, err := c.do(ctx, "get release", http.MethodGet, c.baseURL+"/api/v1/release", nil, &info, http.StatusOK); err != nil {
		return nil, err
	}
	return &info, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, "health", http.MethodGet, c.baseURL+"/health", nil, nil, http.StatusOK)
	return err
}

// StreamURL returns the SSE endpoint of a watched address.
func (c *Client) StreamURL(address string) string {
	return fmt.Sprintf("%s/api/v1/stream/addresses/%s", c.baseURL, url.PathEscape(address))
}

func (c *Client) addressURL(address, suffix string) string {
	return fmt.Sprintf("%s/api/v1/addresses/%s/%s", c.baseURL, url.PathEscape(address), suffix)
}

// do sends a request with an optional JSON body and decodes the response into
// out when it is non-nil. Any status outside want is returned as *HTTPError.
func (c *Client) do(ctx context.Context, op, method, u string, in, out interface{}, want ...int) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !containsStatus(want, resp.StatusCode) {
		return resp.StatusCode, parseErrorResponse(op, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &MalformedResponseError{Op: op, Err: err}
		}
	}
	return resp.StatusCode, nil
}

func containsStatus(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
