package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// ScheduleDraft is the admin-supplied schedule configuration. Identity,
// anchor and bookkeeping fields are owned by the service.
type ScheduleDraft struct {
	Frequency  domain.Frequency
	Hour       int
	Minute     int
	DayOfWeek  *int
	DayOfMonth *int
	IsActive   bool
}

// RunPage is one page of the delivery run history.
type RunPage struct {
	Runs       []*domain.DeliveryRun
	TotalCount int
	Page       int
	PageSize   int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service exposes the schedule and run-history operations consumed by the
// admin surface.
type Service struct {
	schedules domain.ScheduleRepository
	runs      domain.RunRepository
	clock     Clock
	logger    *slog.Logger
}

func NewService(schedules domain.ScheduleRepository, runs domain.RunRepository, clock Clock, logger *slog.Logger) *Service {
	return &Service{
		schedules: schedules,
		runs:      runs,
		clock:     clock,
		logger:    logger.With("component", "newsletter_service"),
	}
}

func (s *Service) GetSchedule(ctx context.Context, tenantID string) (*domain.Schedule, error) {
	return s.schedules.GetByTenant(ctx, tenantID)
}

// SaveSchedule creates or replaces the tenant's schedule. Field combinations
// are validated synchronously and next_scheduled_at is recomputed from the
// cadence; the per-tenant cap applies at creation only. Writes are
// last-write-wins (the admin UI is single-editor).
func (s *Service) SaveSchedule(ctx context.Context, tenantID string, draft ScheduleDraft) (*domain.Schedule, error) {
	now := s.clock.Now()

	sched, err := s.schedules.GetByTenant(ctx, tenantID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrScheduleNotFound):
		sched = &domain.Schedule{
			ID:        uuid.New(),
			TenantID:  tenantID,
			AnchorAt:  now, // biweekly parity anchor, immutable from here on
			CreatedAt: now,
		}
	default:
		return nil, err
	}

	sched.Frequency = draft.Frequency
	sched.Hour = draft.Hour
	sched.Minute = draft.Minute
	sched.DayOfWeek = draft.DayOfWeek
	sched.DayOfMonth = draft.DayOfMonth
	sched.IsActive = draft.IsActive
	sched.UpdatedAt = now

	if err := sched.Validate(); err != nil {
		return nil, err
	}

	if sched.IsActive {
		next, err := domain.NextOccurrence(*sched, now)
		if err != nil {
			return nil, err
		}
		sched.NextScheduledAt = &next
	} else {
		sched.NextScheduledAt = nil
	}

	if err := s.schedules.Save(ctx, sched); err != nil {
		return nil, err
	}
	attrs := []any{
		"tenant_id", tenantID, "schedule_id", sched.ID,
		"frequency", sched.Frequency, "is_active", sched.IsActive,
	}
	if sched.NextScheduledAt != nil {
		attrs = append(attrs, "next_scheduled_at", *sched.NextScheduledAt)
	}
	s.logger.InfoContext(ctx, "Schedule saved", attrs...)
	return sched, nil
}

// SetScheduleActive flips the active flag; next_scheduled_at is repopulated
// on activation and nulled on deactivation (it is null iff inactive).
func (s *Service) SetScheduleActive(ctx context.Context, tenantID string, active bool) (*domain.Schedule, error) {
	sched, err := s.schedules.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var nextAt *time.Time
	if active {
		next, err := domain.NextOccurrence(*sched, s.clock.Now())
		if err != nil {
			return nil, err
		}
		nextAt = &next
	}

	if err := s.schedules.SetActive(ctx, sched.ID, active, nextAt); err != nil {
		return nil, err
	}
	sched.IsActive = active
	sched.NextScheduledAt = nextAt
	return sched, nil
}

// ListRuns returns the tenant's run history, newest first.
func (s *Service) ListRuns(ctx context.Context, tenantID string, page, pageSize int) (*RunPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	runs, total, err := s.runs.List(ctx, tenantID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list delivery runs: %w", err)
	}
	return &RunPage{Runs: runs, TotalCount: total, Page: page, PageSize: pageSize}, nil
}
