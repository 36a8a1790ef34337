package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/brojonat/walletsync/service/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRoutes(t *testing.T) {
	srv, _ := newTestServer(t, &stubExplorer{})
	scheduler := temporal.NewMockScheduler()
	h := srv.WithScheduler(scheduler).Handler()

	w := do(t, h, http.MethodPut, "/api/v1/addresses/"+testAddress+"/schedule", `{"interval":"45s","pages":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp scheduleResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "sync-address-"+testAddress, resp.ScheduleID)
	assert.Equal(t, "45s", resp.Interval)
	assert.Equal(t, 3, resp.Pages)

	interval, pages, ok := scheduler.GetSchedule(testAddress)
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, interval)
	assert.Equal(t, 3, pages)

	// pages defaults to one
	w = do(t, h, http.MethodPut, "/api/v1/addresses/"+testAddress+"/schedule", `{"interval":"1m"}`)
	require.Equal(t, http.StatusOK, w.Code)
	_, pages, _ = scheduler.GetSchedule(testAddress)
	assert.Equal(t, 1, pages)
	assert.Equal(t, 1, scheduler.ScheduleCount())

	w = do(t, h, http.MethodDelete, "/api/v1/addresses/"+testAddress+"/schedule", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, h, http.MethodDelete, "/api/v1/addresses/"+testAddress+"/schedule", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScheduleValidation(t *testing.T) {
	srv, _ := newTestServer(t, &stubExplorer{})
	scheduler := temporal.NewMockScheduler()
	h := srv.WithScheduler(scheduler).Handler()

	tests := []struct {
		name    string
		address string
		body    string
		want    string
	}{
		{"invalid address", "0OIl", `{"interval":"1m"}`, "invalid address format"},
		{"malformed body", testAddress, `{`, "invalid request body"},
		{"bad interval", testAddress, `{"interval":"soon"}`, "invalid interval"},
		{"interval too short", testAddress, `{"interval":"10ms"}`, "at least 1s"},
		{"too many pages", testAddress, `{"interval":"1m","pages":51}`, "pages must be between 1 and 50"},
		{"negative pages", testAddress, `{"interval":"1m","pages":-1}`, "pages must be between"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPut, "/api/v1/addresses/"+tt.address+"/schedule", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, errorMessage(t, w), tt.want)
		})
	}
	assert.Equal(t, 0, scheduler.ScheduleCount())
}

func TestScheduleErrors(t *testing.T) {
	srv, _ := newTestServer(t, &stubExplorer{})

	// disabled without a scheduler
	w := do(t, srv.Handler(), http.MethodPut, "/api/v1/addresses/"+testAddress+"/schedule", `{"interval":"1m"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	scheduler := temporal.NewMockScheduler()
	scheduler.SetUpsertError(errors.New("temporal unavailable"))
	h := srv.WithScheduler(scheduler).Handler()
	w = do(t, h, http.MethodPut, "/api/v1/addresses/"+testAddress+"/schedule", `{"interval":"1m"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to save schedule", errorMessage(t, w))
}
