package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// MissedRunPolicy decides the recompute base after a run when the process
// was down across one or more due instants.
type MissedRunPolicy string

const (
	// MissedRunSkip recomputes the next occurrence from the run start;
	// occurrences missed while down are not made up.
	MissedRunSkip MissedRunPolicy = "skip"
	// MissedRunCatchup recomputes from the missed due instant, so
	// backlogged occurrences fire on subsequent ticks until caught up.
	MissedRunCatchup MissedRunPolicy = "catchup"
)

// SchedulerConfig tunes the polling loop.
type SchedulerConfig struct {
	PollInterval    time.Duration
	LeaseTTL        time.Duration
	StaleRunAfter   time.Duration
	MissedRunPolicy MissedRunPolicy
}

// Dispatcher is the delivery executor as the scheduler sees it.
type Dispatcher interface {
	Deliver(ctx context.Context, runID string, issue *domain.Issue, recipients []domain.Subscriber) domain.DeliveryOutcome
}

// EventPublisher publishes run lifecycle events for downstream consumers.
// messagebroker.NATSClient satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// SubjectRunCompleted carries a runCompletedEvent for every terminal run.
const SubjectRunCompleted = "newsletter.runs.completed"

type runCompletedEvent struct {
	RunID      string    `json:"run_id"`
	ScheduleID string    `json:"schedule_id"`
	TenantID   string    `json:"tenant_id"`
	Status     string    `json:"status"`
	Trigger    string    `json:"trigger"`
	Recipients int       `json:"recipients"`
	Delivered  int       `json:"delivered"`
	Failed     int       `json:"failed"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Scheduler drives delivery runs: it polls for due schedules, guarantees
// at-most-one concurrent run per schedule via the lease, invokes the
// delivery executor and records results through the run log. Each schedule
// moves Idle -> Due -> Running -> Idle; the lease is what makes the loop
// safe to run from multiple replicas.
type Scheduler struct {
	schedules  domain.ScheduleRepository
	runs       domain.RunRepository
	recipients domain.RecipientSource
	content    domain.ContentSource
	executor   Dispatcher
	publisher  EventPublisher
	clock      Clock
	cfg        SchedulerConfig
	logger     *slog.Logger
}

func NewScheduler(
	schedules domain.ScheduleRepository,
	runs domain.RunRepository,
	recipients domain.RecipientSource,
	content domain.ContentSource,
	executor Dispatcher,
	publisher EventPublisher,
	clock Clock,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Minute
	}
	if cfg.StaleRunAfter <= 0 {
		cfg.StaleRunAfter = 30 * time.Minute
	}
	if cfg.MissedRunPolicy == "" {
		cfg.MissedRunPolicy = MissedRunSkip
	}
	return &Scheduler{
		schedules:  schedules,
		runs:       runs,
		recipients: recipients,
		content:    content,
		executor:   executor,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
	}
}

// Run ticks until ctx is cancelled. Poll errors are logged and the loop
// continues; a transient store outage must not take the scheduler down.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Scheduler started", "poll_interval", s.cfg.PollInterval)
	for {
		select {
		case <-ticker.C:
			if _, err := s.PollOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Poll cycle failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// PollOnce executes one tick: sweep orphaned runs, then start a run for
// every due schedule. It returns the number of runs started.
func (s *Scheduler) PollOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()

	s.sweepStaleRuns(ctx, now)

	due, err := s.schedules.DueSchedules(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("query due schedules: %w", err)
	}

	started := 0
	for _, sched := range due {
		_, err := s.runSchedule(ctx, sched, domain.TriggerScheduled)
		switch {
		case err == nil:
			started++
		case errors.Is(err, domain.ErrLeaseHeld):
			// Another replica (or a manual run) owns it; the next tick
			// will pick the schedule up again if still due.
			s.logger.DebugContext(ctx, "Schedule lease held, deferring", "schedule_id", sched.ID)
		default:
			s.logger.ErrorContext(ctx, "Delivery run failed", "error", err, "schedule_id", sched.ID)
		}
	}
	return started, nil
}

// TriggerRun starts a run outside the cadence (admin "send now" or API).
// Due-ness is bypassed but the lease, run log and executor path are the
// same. When a run is already active the caller gets ErrLeaseHeld
// immediately; nothing waits and no DeliveryRun is created.
func (s *Scheduler) TriggerRun(ctx context.Context, tenantID string, trigger domain.RunTrigger) (*domain.DeliveryRun, error) {
	if trigger != domain.TriggerManual && trigger != domain.TriggerAPI {
		return nil, fmt.Errorf("unsupported trigger %q", trigger)
	}
	sched, err := s.schedules.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.runSchedule(ctx, sched, trigger)
}

func (s *Scheduler) runSchedule(ctx context.Context, sched *domain.Schedule, trigger domain.RunTrigger) (run *domain.DeliveryRun, err error) {
	start := s.clock.Now()
	token := uuid.New()

	if err := s.schedules.AcquireLease(ctx, sched.ID, token, s.cfg.LeaseTTL, start); err != nil {
		if errors.Is(err, domain.ErrLeaseHeld) {
			leaseConflictCounter.Inc()
		}
		return nil, err
	}
	// Release on every exit path. The parent ctx may already be cancelled
	// when we get here, so the release gets its own deadline.
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.schedules.ReleaseLease(relCtx, sched.ID, token) //nolint:errcheck // logged inside
	}()

	issue, err := s.content.LatestIssue(ctx, sched.TenantID)
	if err != nil {
		return nil, s.recordAbortedRun(ctx, sched, token, trigger, start, fmt.Errorf("load issue: %w", err))
	}
	recipients, err := s.recipients.ActiveRecipients(ctx, sched.TenantID)
	if err != nil {
		return nil, s.recordAbortedRun(ctx, sched, token, trigger, start, fmt.Errorf("snapshot recipients: %w", err))
	}

	run = &domain.DeliveryRun{
		ID:         uuid.New(),
		ScheduleID: sched.ID,
		TenantID:   sched.TenantID,
		StartedAt:  start,
		Trigger:    trigger,
		Recipients: len(recipients),
		Subject:    issue.Subject,
	}
	if err := s.runs.Begin(ctx, run); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	runsStartedCounter.WithLabelValues(string(trigger)).Inc()
	s.logger.InfoContext(ctx, "Delivery run started",
		"run_id", run.ID, "schedule_id", sched.ID, "tenant_id", sched.TenantID,
		"trigger", trigger, "recipients", run.Recipients, "subject", issue.Subject)

	outcome := s.executor.Deliver(ctx, run.ID.String(), issue, recipients)

	finished := s.clock.Now()
	runOut := buildRunOutcome(run, outcome, finished)
	if err := s.runs.Finalize(ctx, run.ID, runOut); err != nil {
		return nil, fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	applyOutcome(run, runOut)

	runsFinalizedCounter.WithLabelValues(string(runOut.Status)).Inc()
	runDurationHist.Observe(finished.Sub(start).Seconds())

	if err := s.advanceSchedule(ctx, sched, token, trigger, start); err != nil {
		// The run itself is recorded; a failed advance only risks an
		// extra lease conflict on the next tick.
		s.logger.ErrorContext(ctx, "Failed to advance schedule after run", "error", err, "schedule_id", sched.ID)
	}

	s.publishRunCompleted(ctx, run)
	s.logger.InfoContext(ctx, "Delivery run finished",
		"run_id", run.ID, "status", run.Status,
		"delivered", run.Delivered, "failed", run.Failed, "duration_ms", run.DurationMS)
	return run, nil
}

// recordAbortedRun makes a catastrophic pre-delivery failure (content or
// recipient source unavailable) visible in the run history: the run is
// logged and immediately finalized as failed. The next scheduled occurrence
// is not resubmitted automatically.
func (s *Scheduler) recordAbortedRun(ctx context.Context, sched *domain.Schedule, token uuid.UUID, trigger domain.RunTrigger, start time.Time, cause error) error {
	run := &domain.DeliveryRun{
		ID:         uuid.New(),
		ScheduleID: sched.ID,
		TenantID:   sched.TenantID,
		StartedAt:  start,
		Trigger:    trigger,
	}
	if err := s.runs.Begin(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record aborted run", "error", err, "schedule_id", sched.ID)
		return cause
	}

	finished := s.clock.Now()
	msg := cause.Error()
	out := domain.RunOutcome{
		Status:     domain.RunStatusFailed,
		DurationMS: finished.Sub(start).Milliseconds(),
		FinishedAt: finished,
		Error:      &msg,
	}
	if err := s.runs.Finalize(ctx, run.ID, out); err != nil {
		s.logger.ErrorContext(ctx, "Failed to finalize aborted run", "error", err, "run_id", run.ID)
	}
	applyOutcome(run, out)
	runsFinalizedCounter.WithLabelValues(string(domain.RunStatusFailed)).Inc()
	s.publishRunCompleted(ctx, run)

	if err := s.advanceSchedule(ctx, sched, token, trigger, start); err != nil {
		s.logger.ErrorContext(ctx, "Failed to advance schedule after aborted run", "error", err, "schedule_id", sched.ID)
	}
	return cause
}

// advanceSchedule sets last_sent_at to the run start and recomputes
// next_scheduled_at from the cadence (never from the completion time, so a
// slow run cannot drift the schedule). Under the catch-up policy the missed
// due instant is the recompute base instead of the run start.
func (s *Scheduler) advanceSchedule(ctx context.Context, sched *domain.Schedule, token uuid.UUID, trigger domain.RunTrigger, start time.Time) error {
	if !sched.IsActive {
		return nil
	}

	base := start
	if s.cfg.MissedRunPolicy == MissedRunCatchup && trigger == domain.TriggerScheduled && sched.NextScheduledAt != nil {
		base = *sched.NextScheduledAt
	}
	// Strictly after the base: the fired occurrence itself must not come
	// back from the inclusive-boundary rule.
	next, err := domain.NextOccurrence(*sched, base.Add(time.Second))
	if err != nil {
		return err
	}
	return s.schedules.MarkSent(ctx, sched.ID, token, start, next)
}

func (s *Scheduler) sweepStaleRuns(ctx context.Context, now time.Time) {
	swept, err := s.runs.SweepStale(ctx, now.Add(-s.cfg.StaleRunAfter), now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stale run sweep failed", "error", err)
		return
	}
	for _, run := range swept {
		staleRunsSweptCounter.Inc()
		s.logger.WarnContext(ctx, "Finalized orphaned run as failed",
			"run_id", run.ID, "schedule_id", run.ScheduleID, "started_at", run.StartedAt)
		s.publishRunCompleted(ctx, run)
	}
}

func (s *Scheduler) publishRunCompleted(ctx context.Context, run *domain.DeliveryRun) {
	if s.publisher == nil {
		return
	}
	finishedAt := run.StartedAt
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}
	payload, err := json.Marshal(runCompletedEvent{
		RunID:      run.ID.String(),
		ScheduleID: run.ScheduleID.String(),
		TenantID:   run.TenantID,
		Status:     string(run.Status),
		Trigger:    string(run.Trigger),
		Recipients: run.Recipients,
		Delivered:  run.Delivered,
		Failed:     run.Failed,
		DurationMS: run.DurationMS,
		FinishedAt: finishedAt,
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, SubjectRunCompleted, payload); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish run-completed event", "error", err, "run_id", run.ID)
	}
}

// buildRunOutcome folds the executor's aggregate into the single terminal
// write. A run is a success only when every recipient was delivered; partial
// failure and cancellation both resolve to failed with the partial counts
// preserved.
func buildRunOutcome(run *domain.DeliveryRun, out domain.DeliveryOutcome, finished time.Time) domain.RunOutcome {
	result := domain.RunOutcome{
		Delivered:  out.Delivered,
		Failed:     out.Failed,
		DurationMS: finished.Sub(run.StartedAt).Milliseconds(),
		FinishedAt: finished,
		OpenRate:   out.OpenRate,
		ClickRate:  out.ClickRate,
		BounceRate: out.BounceRate,
	}

	msg := fmt.Sprintf("delivered %d of %d recipients", out.Delivered, run.Recipients)
	result.Message = &msg

	switch {
	case out.Cancelled:
		result.Status = domain.RunStatusFailed
		errMsg := "run cancelled before completion"
		result.Error = &errMsg
	case out.Failed > 0:
		result.Status = domain.RunStatusFailed
		errMsg := summarizeFailures(out.Failures)
		result.Error = &errMsg
	default:
		result.Status = domain.RunStatusSuccess
	}
	return result
}

func summarizeFailures(failures []domain.RecipientDeliveryResult) string {
	kinds := make(map[domain.DeliveryErrorKind]int, len(failures))
	for _, f := range failures {
		kinds[f.Kind]++
	}
	parts := make([]string, 0, len(kinds))
	for kind, n := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%d recipients failed (%s)", len(failures), strings.Join(parts, ", "))
}

func applyOutcome(run *domain.DeliveryRun, out domain.RunOutcome) {
	run.Status = out.Status
	run.Delivered = out.Delivered
	run.Failed = out.Failed
	run.DurationMS = out.DurationMS
	run.FinishedAt = &out.FinishedAt
	run.Message = out.Message
	run.Error = out.Error
	run.OpenRate = out.OpenRate
	run.ClickRate = out.ClickRate
	run.BounceRate = out.BounceRate
}
