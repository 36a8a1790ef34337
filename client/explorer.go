package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletsync/service/metrics"
	"github.com/brojonat/walletsync/service/txn"
)

// ExplorerClient is the HTTP client for the block explorer backend.
type ExplorerClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewExplorerClient creates a new explorer client.
func NewExplorerClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *ExplorerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &ExplorerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// WithMetrics attaches a metrics recorder and returns the client.
func (c *ExplorerClient) WithMetrics(m *metrics.Metrics) *ExplorerClient {
	c.metrics = m
	return c
}

// GetAddressDetails returns the balance summary for address.
func (c *ExplorerClient) GetAddressDetails(ctx context.Context, address string) (txn.AddressDetails, error) {
	const op = "get address details"
	start := time.Now()

	u := fmt.Sprintf("%s/addresses/%s/details", c.baseURL, url.PathEscape(address))
	var details txn.AddressDetails
	err := c.getJSON(ctx, op, u, &details)
	c.metrics.RecordExplorerCall("address_details", err, time.Since(start).Seconds())
	if err != nil {
		return txn.AddressDetails{}, err
	}

	c.logger.DebugContext(ctx, "fetched address details",
		"address", address,
		"balance", details.Balance.String(),
		"tx_number", details.TxNumber,
	)
	return details, nil
}

// GetAddressTransactions returns one page of confirmed transactions for
// address, most recent first. Pages start at 1.
func (c *ExplorerClient) GetAddressTransactions(ctx context.Context, address string, page int) ([]txn.Transaction, error) {
	const op = "get address transactions"
	if page < 1 {
		return nil, fmt.Errorf("%s: invalid page %d", op, page)
	}
	start := time.Now()

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	u := fmt.Sprintf("%s/addresses/%s/transactions?%s", c.baseURL, url.PathEscape(address), q.Encode())

	var txs []txn.Transaction
	err := c.getJSON(ctx, op, u, &txs)
	c.metrics.RecordExplorerCall("address_transactions", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "fetched address transactions",
		"address", address,
		"page", page,
		"count", len(txs),
	)
	return txs, nil
}

func (c *ExplorerClient) getJSON(ctx context.Context, op, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseErrorResponse(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &MalformedResponseError{Op: op, Err: err}
	}
	return nil
}

// parseErrorResponse reads the explorer's {"detail": "..."} error body. The
// local API server's {"error": "..."} shape is accepted as well.
func parseErrorResponse(op string, resp *http.Response) error {
	var errResp struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	httpErr := &HTTPError{Op: op, StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, &errResp); err == nil {
		httpErr.Detail = errResp.Detail
		if httpErr.Detail == "" {
			httpErr.Detail = errResp.Error
		}
	}
	if httpErr.Detail == "" {
		httpErr.Detail = strings.TrimSpace(string(body))
	}
	return httpErr
}
