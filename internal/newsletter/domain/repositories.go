package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ScheduleRepository is the durable holder of newsletter schedules and their
// run leases. Writes are last-write-wins per tenant; the lease methods are
// the only cross-process coordination point and must be atomic.
type ScheduleRepository interface {
	GetByTenant(ctx context.Context, tenantID string) (*Schedule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	// Save upserts a schedule. On insert it enforces the per-tenant cap
	// and returns ErrScheduleLimit when the tenant is at it.
	Save(ctx context.Context, s *Schedule) error
	// SetActive flips the active flag; nextAt repopulates next_scheduled_at
	// on activation and must be nil on deactivation.
	SetActive(ctx context.Context, id uuid.UUID, active bool, nextAt *time.Time) error
	// DueSchedules returns every active schedule whose next_scheduled_at
	// is at or before now.
	DueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error)

	// AcquireLease claims the schedule for one run via an atomic
	// compare-and-swap: it succeeds only when no unexpired lease exists,
	// and returns ErrLeaseHeld otherwise. Exactly one caller wins across
	// replicas.
	AcquireLease(ctx context.Context, id uuid.UUID, token uuid.UUID, ttl time.Duration, now time.Time) error
	// ReleaseLease clears the lease, but only for the holder of token.
	ReleaseLease(ctx context.Context, id uuid.UUID, token uuid.UUID) error
	// MarkSent advances last_sent_at/next_scheduled_at after a completed
	// run, guarded by the lease token (single writer at a time).
	MarkSent(ctx context.Context, id uuid.UUID, token uuid.UUID, lastSentAt, nextAt time.Time) error
}

// RunRepository is the append-only log of delivery runs.
type RunRepository interface {
	// Begin inserts the run with status running and returns it.
	Begin(ctx context.Context, run *DeliveryRun) error
	// Finalize writes exactly one terminal transition. Repeating the
	// identical terminal write is a no-op; a second terminal write with
	// different content returns ErrRunFinalized.
	Finalize(ctx context.Context, id uuid.UUID, outcome RunOutcome) error
	// List returns the tenant's runs ordered by start time descending,
	// plus the total count for pagination.
	List(ctx context.Context, tenantID string, page, pageSize int) ([]*DeliveryRun, int, error)
	// SweepStale finalizes as failed every run still marked running whose
	// start is older than olderThan, and returns the swept runs. It backs
	// the guarantee that no run stays running forever.
	SweepStale(ctx context.Context, olderThan, now time.Time) ([]*DeliveryRun, error)
}

// RecipientSource supplies the recipient list snapshot at run start.
type RecipientSource interface {
	ActiveRecipients(ctx context.Context, tenantID string) ([]Subscriber, error)
}

// ContentSource supplies the newsletter content for a run.
type ContentSource interface {
	// LatestIssue returns the most recent issue for the tenant, or
	// ErrNoIssue when none exists.
	LatestIssue(ctx context.Context, tenantID string) (*Issue, error)
}
