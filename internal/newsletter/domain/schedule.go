package domain

import (
	"time"

	"github.com/google/uuid"
)

// Frequency is the recurrence cadence of a newsletter schedule.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// MaxSchedulesPerTenant is the plan-tier cap enforced at creation time.
const MaxSchedulesPerTenant = 40

// Schedule is a tenant's recurring newsletter delivery configuration.
// Times of day are evaluated in UTC; the timezone is not user-selectable.
type Schedule struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	IsActive  bool      `json:"is_active"`
	Frequency Frequency `json:"frequency"`
	Hour      int       `json:"hour"`   // 0-23
	Minute    int       `json:"minute"` // 0-59

	// DayOfWeek (0=Sunday..6=Saturday) is required iff Frequency is
	// weekly or biweekly. DayOfMonth (1-31, clamped to shorter months)
	// is required iff Frequency is monthly. Exactly one is set for those
	// cadences; both are nil for daily.
	DayOfWeek  *int `json:"day_of_week,omitempty"`
	DayOfMonth *int `json:"day_of_month,omitempty"`

	// AnchorAt fixes the parity of the biweekly cadence. It is set to the
	// creation time and never changes, so deactivating and reactivating a
	// schedule does not shift which weeks it fires on.
	AnchorAt time.Time `json:"anchor_at"`

	LastSentAt      *time.Time `json:"last_sent_at,omitempty"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty"` // nil iff IsActive is false

	// RunToken and LeaseExpiresAt form the run lease: when RunToken is set
	// and the lease has not expired, a delivery run owns this schedule.
	RunToken       *uuid.UUID `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks ranges on hour/minute and that exactly the day field
// matching the frequency is populated.
func (s *Schedule) Validate() error {
	switch s.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
	default:
		return &ValidationError{Field: "frequency", Reason: "must be one of daily, weekly, biweekly, monthly"}
	}
	if s.Hour < 0 || s.Hour > 23 {
		return &ValidationError{Field: "hour", Reason: "must be between 0 and 23"}
	}
	if s.Minute < 0 || s.Minute > 59 {
		return &ValidationError{Field: "minute", Reason: "must be between 0 and 59"}
	}

	switch s.Frequency {
	case FrequencyWeekly, FrequencyBiweekly:
		if s.DayOfWeek == nil {
			return &ValidationError{Field: "day_of_week", Reason: "required for weekly and biweekly schedules"}
		}
		if *s.DayOfWeek < 0 || *s.DayOfWeek > 6 {
			return &ValidationError{Field: "day_of_week", Reason: "must be between 0 (Sunday) and 6 (Saturday)"}
		}
		if s.DayOfMonth != nil {
			return &ValidationError{Field: "day_of_month", Reason: "must not be set for weekly or biweekly schedules"}
		}
	case FrequencyMonthly:
		if s.DayOfMonth == nil {
			return &ValidationError{Field: "day_of_month", Reason: "required for monthly schedules"}
		}
		if *s.DayOfMonth < 1 || *s.DayOfMonth > 31 {
			return &ValidationError{Field: "day_of_month", Reason: "must be between 1 and 31"}
		}
		if s.DayOfWeek != nil {
			return &ValidationError{Field: "day_of_week", Reason: "must not be set for monthly schedules"}
		}
	case FrequencyDaily:
		if s.DayOfWeek != nil {
			return &ValidationError{Field: "day_of_week", Reason: "must not be set for daily schedules"}
		}
		if s.DayOfMonth != nil {
			return &ValidationError{Field: "day_of_month", Reason: "must not be set for daily schedules"}
		}
	}
	return nil
}
