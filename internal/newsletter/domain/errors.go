package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrScheduleNotFound indicates the tenant has no newsletter schedule.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrRunNotFound indicates a delivery run does not exist.
	ErrRunNotFound = errors.New("delivery run not found")
	// ErrScheduleLimit indicates the tenant is at its schedule cap.
	ErrScheduleLimit = fmt.Errorf("tenant already has %d schedules", MaxSchedulesPerTenant)
	// ErrLeaseHeld indicates a delivery run is already active for the
	// schedule. Callers report it; they do not retry automatically.
	ErrLeaseHeld = errors.New("a delivery run is already in progress for this schedule")
	// ErrRunFinalized indicates a second terminal write with different
	// content was attempted on a run. This is a programming error, not a
	// user-facing condition.
	ErrRunFinalized = errors.New("delivery run already finalized with a different outcome")
	// ErrNoIssue indicates no newsletter issue is available to deliver.
	ErrNoIssue = errors.New("no newsletter issue available for tenant")
)

// ValidationError rejects a bad schedule field combination synchronously;
// it is never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule: %s %s", e.Field, e.Reason)
}
