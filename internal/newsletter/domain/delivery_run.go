package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a delivery run.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether the status is a final state. Terminal runs are
// append-only audit records and are never mutated again.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// RunTrigger records what started a delivery run.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
	TriggerAPI       RunTrigger = "api"
)

// DeliveryRun is one execution attempt of a schedule, successful or not.
//
// Delivered+Failed never exceeds Recipients, and Status is success only
// when Failed is zero: a partial failure always resolves to failed, even
// with Delivered > 0.
type DeliveryRun struct {
	ID         uuid.UUID  `json:"id"`
	ScheduleID uuid.UUID  `json:"schedule_id"`
	TenantID   string     `json:"tenant_id"`
	StartedAt  time.Time  `json:"timestamp"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Trigger    RunTrigger `json:"trigger"`

	Recipients int   `json:"recipients"` // snapshot count at run start
	Delivered  int   `json:"delivered"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration"`

	Subject string  `json:"subject"`
	Message *string `json:"message,omitempty"`
	Error   *string `json:"error,omitempty"`

	// Provider-reported engagement rates; nil when the delivery provider
	// did not report them (never zero-filled).
	OpenRate   *float64 `json:"openRate,omitempty"`
	ClickRate  *float64 `json:"clickRate,omitempty"`
	BounceRate *float64 `json:"bounceRate,omitempty"`
}

// DeliveryErrorKind classifies a per-recipient send failure.
type DeliveryErrorKind string

const (
	ErrKindTimeout             DeliveryErrorKind = "timeout"
	ErrKindProviderUnavailable DeliveryErrorKind = "provider_unavailable"
	ErrKindRateLimited         DeliveryErrorKind = "rate_limited"
	ErrKindInvalidRecipient    DeliveryErrorKind = "invalid_recipient"
	ErrKindRejected            DeliveryErrorKind = "rejected"
	ErrKindUnknown             DeliveryErrorKind = "unknown"
)

// Transient reports whether a failure of this kind is worth retrying.
// Invalid recipients and rejected content will not get better on retry.
func (k DeliveryErrorKind) Transient() bool {
	switch k {
	case ErrKindTimeout, ErrKindProviderUnavailable, ErrKindRateLimited, ErrKindUnknown:
		return true
	default:
		return false
	}
}

// RecipientDeliveryResult is the transient per-recipient outcome produced by
// the delivery executor. It is folded into the parent run's aggregate
// counters and never persisted on its own.
type RecipientDeliveryResult struct {
	Recipient string            `json:"recipient"`
	OK        bool              `json:"ok"`
	Kind      DeliveryErrorKind `json:"errorKind,omitempty"`
	Detail    string            `json:"detail,omitempty"`
}

// DeliveryOutcome is the executor's aggregate result for one run.
type DeliveryOutcome struct {
	Delivered int
	Failed    int
	Cancelled bool
	Failures  []RecipientDeliveryResult

	OpenRate   *float64
	ClickRate  *float64
	BounceRate *float64
}

// RunOutcome is the single terminal write applied to a running DeliveryRun.
type RunOutcome struct {
	Status     RunStatus
	Delivered  int
	Failed     int
	DurationMS int64
	FinishedAt time.Time
	Message    *string
	Error      *string

	OpenRate   *float64
	ClickRate  *float64
	BounceRate *float64
}
