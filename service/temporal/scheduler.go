package temporal

import (
	"context"
	"errors"
	"time"
)

// ErrScheduleNotFound is returned when an address has no sync schedule.
var ErrScheduleNotFound = errors.New("schedule not found")

// Scheduler manages Temporal schedules for headless address sync.
// Each address gets its own schedule that triggers the SyncAddressWorkflow.
type Scheduler interface {
	// UpsertSyncSchedule creates the schedule for an address, or updates its
	// interval and page count when it already exists.
	UpsertSyncSchedule(ctx context.Context, address string, interval time.Duration, pages int) error

	// DeleteSyncSchedule deletes the schedule for an address.
	// It returns ErrScheduleNotFound when there is none.
	DeleteSyncSchedule(ctx context.Context, address string) error
}

// ScheduleID returns the Temporal schedule ID for an address.
func ScheduleID(address string) string {
	return "sync-address-" + address
}

// workflowID returns the ID used for workflows started by an address's schedule.
func workflowID(address string) string {
	return "sync-address-wf-" + address
}
