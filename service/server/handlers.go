package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/txn"
	"github.com/brojonat/walletsync/service/version"
	"github.com/brojonat/walletsync/service/watch"
)

const (
	maxRequestBodySize = 1 << 16 // 64KB - plenty for a pending transaction
	maxTxIDLength      = 128
)

// watchResponse summarizes a watch in list responses.
type watchResponse struct {
	Address      string     `json:"address"`
	Balance      txn.Amount `json:"balance"`
	TotalCount   int        `json:"totalCount"`
	PendingCount int        `json:"pendingCount"`
	Polling      bool       `json:"polling"`
	StartedAt    time.Time  `json:"startedAt"`
}

func watchToResponse(w *watch.Watch) watchResponse {
	v := w.View()
	return watchResponse{
		Address:      w.Address,
		Balance:      v.Balance,
		TotalCount:   v.TotalCount,
		PendingCount: v.PendingCount,
		Polling:      w.Poller.Enabled(),
		StartedAt:    w.StartedAt,
	}
}

// handleListWatches returns a handler that lists all watched addresses.
// GET /api/v1/addresses
func handleListWatches(registry *watch.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		watches := registry.List()
		resp := make([]watchResponse, len(watches))
		for i, wt := range watches {
			resp[i] = watchToResponse(wt)
		}
		writeJSON(w, map[string]interface{}{
			"addresses": resp,
			"count":     len(resp),
		}, http.StatusOK)
	})
}

// handleWatch returns a handler that starts watching an address. Watching an
// address twice is not an error.
// POST /api/v1/addresses/{address}/watch
func handleWatch(registry *watch.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		wt, created, err := registry.Watch(address)
		if err != nil {
			logger.DebugContext(r.Context(), "failed to watch address", "address", address, "error", err)
			writeWatchError(w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, watchToResponse(wt), status)
	})
}

// handleUnwatch returns a handler that stops watching an address.
// DELETE /api/v1/addresses/{address}/watch
func handleUnwatch(registry *watch.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := registry.Unwatch(address); err != nil {
			writeWatchError(w, err)
			return
		}
		logger.InfoContext(r.Context(), "address unwatched", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetView returns a handler that returns the merged transaction list.
// GET /api/v1/addresses/{address}/view
func handleGetView(registry *watch.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wt, err := registry.Get(r.PathValue("address"))
		if err != nil {
			writeWatchError(w, err)
			return
		}
		writeJSON(w, wt.View(), http.StatusOK)
	})
}

// handleRefresh returns a handler that refreshes the latest page now.
// POST /api/v1/addresses/{address}/refresh
func handleRefresh(registry *watch.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wt, err := registry.Get(r.PathValue("address"))
		if err != nil {
			writeWatchError(w, err)
			return
		}

		if err := wt.Refresh(r.Context()); err != nil {
			logger.WarnContext(r.Context(), "refresh failed", "address", wt.Address, "error", err)
			writeUpstreamError(w, err, reconciler.RefreshFailedMessage)
			return
		}
		writeJSON(w, wt.View(), http.StatusOK)
	})
}

// handleLoadPage returns a handler that loads an older page of history.
// POST /api/v1/addresses/{address}/pages/{page}
func handleLoadPage(registry *watch.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wt, err := registry.Get(r.PathValue("address"))
		if err != nil {
			writeWatchError(w, err)
			return
		}

		page, err := strconv.Atoi(r.PathValue("page"))
		if err != nil || page < 1 {
			writeError(w, "page must be a positive integer", http.StatusBadRequest)
			return
		}

		txs, err := wt.LoadMore(r.Context(), page)
		if err != nil {
			logger.WarnContext(r.Context(), "load page failed", "address", wt.Address, "page", page, "error", err)
			writeUpstreamError(w, err, "Couldn't load more transactions.")
			return
		}

		writeJSON(w, map[string]interface{}{
			"page":    page,
			"fetched": len(txs),
			"view":    wt.View(),
		}, http.StatusOK)
	})
}

// pendingRequest is the body of an add-pending request. The sender is the
// watched address.
type pendingRequest struct {
	TxID      string      `json:"txId"`
	ToAddress string      `json:"toAddress"`
	Amount    *txn.Amount `json:"amount"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

func (p pendingRequest) validate() error {
	if p.TxID == "" {
		return errorf("txId is required")
	}
	if len(p.TxID) > maxTxIDLength {
		return errorf("txId too long: maximum length is %d characters", maxTxIDLength)
	}
	if strings.ContainsAny(p.TxID, " \t\r\n/") {
		return errorf("invalid characters in txId")
	}
	if err := watch.ValidateAddress(p.ToAddress); err != nil {
		return errorf("invalid toAddress")
	}
	if p.Amount == nil {
		return errorf("amount is required")
	}
	if p.Amount.Sign() <= 0 {
		return errorf("amount must be positive")
	}
	return nil
}

// handleAddPending returns a handler that records a sent but unconfirmed
// transaction. Polling starts while the pending list is non-empty.
// POST /api/v1/addresses/{address}/pending
func handleAddPending(registry *watch.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wt, err := registry.Get(r.PathValue("address"))
		if err != nil {
			writeWatchError(w, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req pendingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ts := time.Now().UTC()
		if req.Timestamp > 0 {
			ts = time.UnixMilli(req.Timestamp).UTC()
		}
		wt.Session.AddPending(txn.PendingTransaction{
			TxID:        req.TxID,
			FromAddress: wt.Address,
			ToAddress:   req.ToAddress,
			Amount:      *req.Amount,
			Timestamp:   ts,
		})

		logger.InfoContext(r.Context(), "pending transaction added",
			"address", wt.Address,
			"tx_id", req.TxID,
			"amount", req.Amount.String(),
		)
		writeJSON(w, wt.View(), http.StatusCreated)
	})
}

// handleRemovePending returns a handler that drops a pending transaction.
// DELETE /api/v1/addresses/{address}/pending/{txid}
func handleRemovePending(registry *watch.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wt, err := registry.Get(r.PathValue("address"))
		if err != nil {
			writeWatchError(w, err)
			return
		}

		txID := r.PathValue("txid")
		if removed := wt.Session.RemovePending(txID); len(removed) == 0 {
			writeError(w, "pending transaction not found", http.StatusNotFound)
			return
		}
		logger.InfoContext(r.Context(), "pending transaction removed", "address", wt.Address, "tx_id", txID)
		w.WriteHeader(http.StatusNoContent)
	})
}

// releaseResponse is the latest-release signal.
type releaseResponse struct {
	Current         string `json:"current"`
	Latest          string `json:"latest,omitempty"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

// handleRelease returns a handler that reports whether a newer release was found.
// GET /api/v1/release
func handleRelease(checker *version.Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			writeError(w, "version checking is disabled", http.StatusServiceUnavailable)
			return
		}
		latest, ok := checker.Latest()
		writeJSON(w, releaseResponse{
			Current:         checker.Current(),
			Latest:          latest,
			UpdateAvailable: ok,
		}, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeWatchError maps registry errors to status codes.
func writeWatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, watch.ErrInvalidAddress):
		writeError(w, "invalid address format: must contain only valid base58 characters", http.StatusBadRequest)
	case errors.Is(err, watch.ErrNotWatched):
		writeError(w, "address is not watched", http.StatusNotFound)
	case errors.Is(err, watch.ErrTooManyAddresses):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeUpstreamError reports an explorer failure. The explorer's own detail
// is passed through when it sent one.
func writeUpstreamError(w http.ResponseWriter, err error, fallback string) {
	writeError(w, client.UserMessage(err, fallback), http.StatusBadGateway)
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
