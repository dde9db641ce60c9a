package http

import (
	"time"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// --- Request DTOs ---

// SaveScheduleRequestDTO creates or replaces the tenant's schedule.
type SaveScheduleRequestDTO struct {
	Frequency  string `json:"frequency" validate:"required,oneof=daily weekly biweekly monthly"`
	Hour       int    `json:"hour" validate:"min=0,max=23"`
	Minute     int    `json:"minute" validate:"min=0,max=59"`
	DayOfWeek  *int   `json:"day_of_week,omitempty" validate:"omitempty,min=0,max=6"`
	DayOfMonth *int   `json:"day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
	IsActive   bool   `json:"is_active"`
}

// SetScheduleActiveRequestDTO flips the schedule's active flag.
type SetScheduleActiveRequestDTO struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// TriggerRunRequestDTO starts a run outside the cadence.
type TriggerRunRequestDTO struct {
	Trigger string `json:"trigger" validate:"required,oneof=manual api"`
}

// --- Response DTOs ---

type ScheduleDTO struct {
	ID              string     `json:"id"`
	Frequency       string     `json:"frequency"`
	Hour            int        `json:"hour"`
	Minute          int        `json:"minute"`
	DayOfWeek       *int       `json:"day_of_week,omitempty"`
	DayOfMonth      *int       `json:"day_of_month,omitempty"`
	IsActive        bool       `json:"is_active"`
	LastSentAt      *time.Time `json:"last_sent_at,omitempty"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type DeliveryRunDTO struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Trigger    string     `json:"trigger"`
	Recipients int        `json:"recipients"`
	Delivered  int        `json:"delivered"`
	Failed     int        `json:"failed"`
	Duration   int64      `json:"duration"`
	Message    *string    `json:"message,omitempty"`
	Error      *string    `json:"error,omitempty"`

	Details RunDetailsDTO `json:"details"`
}

// RunDetailsDTO carries the subject plus the engagement rates when the
// delivery provider reported them (omitted, not zero-filled, otherwise).
type RunDetailsDTO struct {
	Subject    string   `json:"subject"`
	OpenRate   *float64 `json:"openRate,omitempty"`
	ClickRate  *float64 `json:"clickRate,omitempty"`
	BounceRate *float64 `json:"bounceRate,omitempty"`
}

type ListRunsResponseDTO struct {
	Runs       []DeliveryRunDTO `json:"runs"`
	TotalCount int              `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
}

func toScheduleDTO(s *domain.Schedule) ScheduleDTO {
	return ScheduleDTO{
		ID:              s.ID.String(),
		Frequency:       string(s.Frequency),
		Hour:            s.Hour,
		Minute:          s.Minute,
		DayOfWeek:       s.DayOfWeek,
		DayOfMonth:      s.DayOfMonth,
		IsActive:        s.IsActive,
		LastSentAt:      s.LastSentAt,
		NextScheduledAt: s.NextScheduledAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func toDeliveryRunDTO(run *domain.DeliveryRun) DeliveryRunDTO {
	return DeliveryRunDTO{
		ID:         run.ID.String(),
		Timestamp:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Trigger:    string(run.Trigger),
		Recipients: run.Recipients,
		Delivered:  run.Delivered,
		Failed:     run.Failed,
		Duration:   run.DurationMS,
		Message:    run.Message,
		Error:      run.Error,
		Details: RunDetailsDTO{
			Subject:    run.Subject,
			OpenRate:   run.OpenRate,
			ClickRate:  run.ClickRate,
			BounceRate: run.BounceRate,
		},
	}
}
