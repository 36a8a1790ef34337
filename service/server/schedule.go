package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletsync/service/temporal"
	"github.com/brojonat/walletsync/service/watch"
)

const minScheduleInterval = time.Second

// scheduleRequest is the body of an upsert-schedule request. Interval is a
// Go duration string; pages defaults to 1.
type scheduleRequest struct {
	Interval string `json:"interval"`
	Pages    int    `json:"pages,omitempty"`
}

type scheduleResponse struct {
	Address    string `json:"address"`
	ScheduleID string `json:"scheduleId"`
	Interval   string `json:"interval"`
	Pages      int    `json:"pages"`
}

func (req scheduleRequest) parse() (time.Duration, int, error) {
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		return 0, 0, errorf("invalid interval %q", req.Interval)
	}
	if interval < minScheduleInterval {
		return 0, 0, errorf("interval must be at least %s", minScheduleInterval)
	}
	pages := req.Pages
	if pages == 0 {
		pages = 1
	}
	if pages < 1 || pages > temporal.MaxSyncPages {
		return 0, 0, errorf("pages must be between 1 and %d", temporal.MaxSyncPages)
	}
	return interval, pages, nil
}

// handleUpsertSchedule returns a handler that creates or updates the headless
// sync schedule of an address. The address does not need to be watched.
// PUT /api/v1/addresses/{address}/schedule
func handleUpsertSchedule(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scheduler == nil {
			writeError(w, "scheduled sync is disabled", http.StatusServiceUnavailable)
			return
		}

		address := r.PathValue("address")
		if err := watch.ValidateAddress(address); err != nil {
			writeWatchError(w, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req scheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		interval, pages, err := req.parse()
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := scheduler.UpsertSyncSchedule(r.Context(), address, interval, pages); err != nil {
			logger.ErrorContext(r.Context(), "failed to upsert sync schedule", "address", address, "error", err)
			writeError(w, "failed to save schedule", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "sync schedule saved", "address", address, "interval", interval, "pages", pages)
		writeJSON(w, scheduleResponse{
			Address:    address,
			ScheduleID: temporal.ScheduleID(address),
			Interval:   interval.String(),
			Pages:      pages,
		}, http.StatusOK)
	})
}

// handleDeleteSchedule returns a handler that removes the headless sync
// schedule of an address.
// DELETE /api/v1/addresses/{address}/schedule
func handleDeleteSchedule(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scheduler == nil {
			writeError(w, "scheduled sync is disabled", http.StatusServiceUnavailable)
			return
		}

		address := r.PathValue("address")
		if err := scheduler.DeleteSyncSchedule(r.Context(), address); err != nil {
			if errors.Is(err, temporal.ErrScheduleNotFound) {
				writeError(w, "schedule not found", http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to delete sync schedule", "address", address, "error", err)
			writeError(w, "failed to delete schedule", http.StatusInternalServerError)
			return
		}
		logger.InfoContext(r.Context(), "sync schedule deleted", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}
