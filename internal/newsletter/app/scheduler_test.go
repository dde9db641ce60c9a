package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// --- Mocks ---

type MockScheduleRepository struct {
	mock.Mock
}

func (m *MockScheduleRepository) GetByTenant(ctx context.Context, tenantID string) (*domain.Schedule, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Schedule), args.Error(1)
}

func (m *MockScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Schedule), args.Error(1)
}

func (m *MockScheduleRepository) Save(ctx context.Context, s *domain.Schedule) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockScheduleRepository) SetActive(ctx context.Context, id uuid.UUID, active bool, nextAt *time.Time) error {
	args := m.Called(ctx, id, active, nextAt)
	return args.Error(0)
}

func (m *MockScheduleRepository) DueSchedules(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Schedule), args.Error(1)
}

func (m *MockScheduleRepository) AcquireLease(ctx context.Context, id uuid.UUID, token uuid.UUID, ttl time.Duration, now time.Time) error {
	args := m.Called(ctx, id, token, ttl, now)
	return args.Error(0)
}

func (m *MockScheduleRepository) ReleaseLease(ctx context.Context, id uuid.UUID, token uuid.UUID) error {
	args := m.Called(ctx, id, token)
	return args.Error(0)
}

func (m *MockScheduleRepository) MarkSent(ctx context.Context, id uuid.UUID, token uuid.UUID, lastSentAt, nextAt time.Time) error {
	args := m.Called(ctx, id, token, lastSentAt, nextAt)
	return args.Error(0)
}

type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Begin(ctx context.Context, run *domain.DeliveryRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunRepository) Finalize(ctx context.Context, id uuid.UUID, outcome domain.RunOutcome) error {
	args := m.Called(ctx, id, outcome)
	return args.Error(0)
}

func (m *MockRunRepository) List(ctx context.Context, tenantID string, page, pageSize int) ([]*domain.DeliveryRun, int, error) {
	args := m.Called(ctx, tenantID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.DeliveryRun), args.Int(1), args.Error(2)
}

func (m *MockRunRepository) SweepStale(ctx context.Context, olderThan, now time.Time) ([]*domain.DeliveryRun, error) {
	args := m.Called(ctx, olderThan, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DeliveryRun), args.Error(1)
}

type MockRecipientSource struct {
	mock.Mock
}

func (m *MockRecipientSource) ActiveRecipients(ctx context.Context, tenantID string) ([]domain.Subscriber, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Subscriber), args.Error(1)
}

type MockContentSource struct {
	mock.Mock
}

func (m *MockContentSource) LatestIssue(ctx context.Context, tenantID string) (*domain.Issue, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Issue), args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Deliver(ctx context.Context, runID string, issue *domain.Issue, recipients []domain.Subscriber) domain.DeliveryOutcome {
	args := m.Called(ctx, runID, issue, recipients)
	return args.Get(0).(domain.DeliveryOutcome)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

// fakeClock returns a controllable now; Advance simulates time passing
// mid-run.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Fixtures ---

type schedulerFixture struct {
	schedules  *MockScheduleRepository
	runs       *MockRunRepository
	recipients *MockRecipientSource
	content    *MockContentSource
	dispatcher *MockDispatcher
	publisher  *MockEventPublisher
	clock      *fakeClock
	scheduler  *Scheduler
}

func newSchedulerFixture(t *testing.T, now time.Time, cfg SchedulerConfig) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		schedules:  new(MockScheduleRepository),
		runs:       new(MockRunRepository),
		recipients: new(MockRecipientSource),
		content:    new(MockContentSource),
		dispatcher: new(MockDispatcher),
		publisher:  new(MockEventPublisher),
		clock:      newFakeClock(now),
	}
	f.scheduler = NewScheduler(f.schedules, f.runs, f.recipients, f.content, f.dispatcher, f.publisher, f.clock, cfg, testLogger())
	return f
}

func (f *schedulerFixture) assertExpectations(t *testing.T) {
	t.Helper()
	f.schedules.AssertExpectations(t)
	f.runs.AssertExpectations(t)
	f.recipients.AssertExpectations(t)
	f.content.AssertExpectations(t)
	f.dispatcher.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func weeklySchedule(nextAt time.Time) *domain.Schedule {
	dow := int(nextAt.Weekday())
	return &domain.Schedule{
		ID:              uuid.New(),
		TenantID:        "tenant-1",
		IsActive:        true,
		Frequency:       domain.FrequencyWeekly,
		Hour:            nextAt.Hour(),
		Minute:          nextAt.Minute(),
		DayOfWeek:       &dow,
		AnchorAt:        nextAt.AddDate(0, 0, -30),
		NextScheduledAt: &nextAt,
	}
}

// --- Tests ---

func TestPollOnceRunsDueSchedule(t *testing.T) {
	// 2026-03-09 is a Monday.
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now, SchedulerConfig{})
	sched := weeklySchedule(now)
	recipients := subscribers(3)
	issue := testIssue()

	f.runs.On("SweepStale", mock.Anything, mock.Anything, now).Return([]*domain.DeliveryRun{}, nil).Once()
	f.schedules.On("DueSchedules", mock.Anything, now).Return([]*domain.Schedule{sched}, nil).Once()
	f.schedules.On("AcquireLease", mock.Anything, sched.ID, mock.Anything, 15*time.Minute, now).Return(nil).Once()
	f.content.On("LatestIssue", mock.Anything, "tenant-1").Return(issue, nil).Once()
	f.recipients.On("ActiveRecipients", mock.Anything, "tenant-1").Return(recipients, nil).Once()
	f.runs.On("Begin", mock.Anything, mock.MatchedBy(func(run *domain.DeliveryRun) bool {
		return run.ScheduleID == sched.ID && run.Trigger == domain.TriggerScheduled && run.Recipients == 3
	})).Return(nil).Once()
	f.dispatcher.On("Deliver", mock.Anything, mock.Anything, issue, recipients).
		Return(domain.DeliveryOutcome{Delivered: 3}).Once()
	f.runs.On("Finalize", mock.Anything, mock.Anything, mock.MatchedBy(func(out domain.RunOutcome) bool {
		return out.Status == domain.RunStatusSuccess && out.Delivered == 3 && out.Failed == 0
	})).Return(nil).Once()
	// Next Monday 00:00, computed from the cadence.
	wantNext := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	f.schedules.On("MarkSent", mock.Anything, sched.ID, mock.Anything, now, wantNext).Return(nil).Once()
	f.publisher.On("Publish", mock.Anything, SubjectRunCompleted, mock.Anything).Return(nil).Once()
	f.schedules.On("ReleaseLease", mock.Anything, sched.ID, mock.Anything).Return(nil).Once()

	started, err := f.scheduler.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, started)
	f.assertExpectations(t)
}

func TestPollOnceLeaseHeldStartsNoRun(t *testing.T) {
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now, SchedulerConfig{})
	sched := weeklySchedule(now)

	f.runs.On("SweepStale", mock.Anything, mock.Anything, now).Return([]*domain.DeliveryRun{}, nil).Once()
	f.schedules.On("DueSchedules", mock.Anything, now).Return([]*domain.Schedule{sched}, nil).Once()
	f.schedules.On("AcquireLease", mock.Anything, sched.ID, mock.Anything, mock.Anything, now).
		Return(domain.ErrLeaseHeld).Once()
	f.schedules.On("ReleaseLease", mock.Anything, sched.ID, mock.Anything).Return(nil).Maybe()

	started, err := f.scheduler.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, started)
	f.runs.AssertNotCalled(t, "Begin", mock.Anything, mock.Anything)
	f.dispatcher.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunScheduleSlowRunDoesNotDriftCadence(t *testing.T) {
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now, SchedulerConfig{})
	sched := weeklySchedule(now)

	f.runs.On("SweepStale", mock.Anything, mock.Anything, now).Return([]*domain.DeliveryRun{}, nil).Once()
	f.schedules.On("DueSchedules", mock.Anything, now).Return([]*domain.Schedule{sched}, nil).Once()
	f.schedules.On("AcquireLease", mock.Anything, sched.ID, mock.Anything, mock.Anything, now).Return(nil).Once()
	f.content.On("LatestIssue", mock.Anything, "tenant-1").Return(testIssue(), nil).Once()
	f.recipients.On("ActiveRecipients", mock.Anything, "tenant-1").Return(subscribers(2), nil).Once()
	f.runs.On("Begin", mock.Anything, mock.Anything).Return(nil).Once()
	// The run takes 40 minutes.
	f.dispatcher.On("Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { f.clock.Advance(40 * time.Minute) }).
		Return(domain.DeliveryOutcome{Delivered: 2}).Once()
	f.runs.On("Finalize", mock.Anything, mock.Anything, mock.MatchedBy(func(out domain.RunOutcome) bool {
		return out.Status == domain.RunStatusSuccess && out.DurationMS == (40*time.Minute).Milliseconds()
	})).Return(nil).Once()
	// Recomputed from the run start, not from the 00:40 completion: still
	// next Monday 00:00.
	wantNext := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	f.schedules.On("MarkSent", mock.Anything, sched.ID, mock.Anything, now, wantNext).Return(nil).Once()
	f.publisher.On("Publish", mock.Anything, SubjectRunCompleted, mock.Anything).Return(nil).Once()
	f.schedules.On("ReleaseLease", mock.Anything, sched.ID, mock.Anything).Return(nil).Once()

	started, err := f.scheduler.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, started)
	f.assertExpectations(t)
}

func TestRunSchedulePartialFailureFinalizesFailed(t *testing.T) {
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now, SchedulerConfig{})
	sched := weeklySchedule(now)

	f.runs.On("SweepStale", mock.Anything, mock.Anything, now).Return([]*domain.DeliveryRun{}, nil).Once()
	f.schedules.On("DueSchedules", mock.Anything, now).Return([]*domain.Schedule{sched}, nil).Once()
	f.schedules.On("AcquireLease", mock.Anything, sched.ID, mock.Anything, mock.Anything, now).Return(nil).Once()
	f.content.On("LatestIssue", mock.Anything, "tenant-1").Return(testIssue(), nil).Once()
	f.recipients.On("ActiveRecipients", mock.Anything, "tenant-1").Return(subscribers(5), nil).Once()
	f.runs.On("Begin", mock.Anything, mock.Anything).Return(nil).Once()
	f.dispatcher.On("Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(domain.DeliveryOutcome{
			Delivered: 4,
			Failed:    1,
			Failures: []domain.RecipientDeliveryResult{
				{Recipient: "a@example.com", Kind: domain.ErrKindInvalidRecipient},
			},
		}).Once()
	f.runs.On("Finalize", mock.Anything, mock.Anything, mock.MatchedBy(func(out domain.RunOutcome) bool {
		return out.Status == domain.RunStatusFailed && out.Delivered == 4 && out.Failed == 1 &&
			out.Error != nil && *out.Error == "1 recipients failed (invalid_recipient=1)"
	})).Return(nil).Once()
	f.schedules.On("MarkSent", mock.Anything, sched.ID, mock.Anything, now, mock.Anything).Return(nil).Once()
	f.publisher.On("Publish", mock.Anything, SubjectRunCompleted, mock.Anything).Return(nil).Once()
	f.schedules.On("ReleaseLease", mock.Anything, sched.ID, mock.Anything).Return(nil).Once()

	_, err := f.scheduler.PollOnce(context.Background())

	require.NoError(t, err)
	f.assertExpectations(t)
}

func TestRunScheduleMissingIssueRecordsAbortedRun(t *testing.T) {
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now, SchedulerConfig{})
	sched := weeklySchedule(now)

	f.runs.On("SweepStale", mock.Anything, mock.Anything, now).Return([]*domain.DeliveryRun{}, nil).Once()
	f.schedules.On("DueSchedules", mock.Anything, now).Return([]*domain.Schedule{sched}, nil).Once()
	f.schedules.On("AcquireLease", mock.Anything, sched.ID, mock.Anything, mock.Anything, now).Return(nil).Once()
	f.content.On("LatestIssue", mock.Anything, "tenant-1").Return(nil, domain.ErrNoIssue).Once()
	f.runs.On("Begin", mock.Anything, mock.Anything).Return(nil).Once()
	f.runs.On("Finalize", mock.Anything, mock.Anything, mock.MatchedBy(func(out domain.RunOutcome) bool {
		return out.Status == domain.RunStatusFailed && out.Error != nil
	})).Return(nil).Once()
	f.schedules.On("MarkSent", mock.Anything, sched.ID, mock.Anything, now, mock.Anything).Return(nil).Once()
	f.publisher.On("Publish", mock.Anything, SubjectRunCompleted, mock.Anything).Return(nil).Once()
	f.schedules.On("ReleaseLease", mock.Anything, sched.ID, mock.Anything).Return(nil).Once()

	started, err := f.scheduler.PollOnce(context.Background())

	require.NoError(t, err) // poll itself succeeds; the failure is logged per schedule
	assert.Zero(t, started)
	f.dispatcher.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestTriggerRun(t *testing.T) {
	now := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	nextAt := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)

	t.Run("rejects scheduled trigger", func(t *testing.T) {
		f := newSchedulerFixture(t, now, SchedulerConfig{})
		_, err := f.scheduler.TriggerRun(context.Background(), "tenant-1", domain.TriggerScheduled)
		require.Error(t, err)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		f := newSchedulerFixture(t, now, SchedulerConfig{})
		f.schedules.On("GetByTenant", mock.Anything, "tenant-1").Return(nil, domain.ErrScheduleNotFound).Once()

		_, err := f.scheduler.TriggerRun(context.Background(), "tenant-1", domain.TriggerManual)
		assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
	})

	t.Run("lease held returns immediately with no run", func(t *testing.T) {
		f := newSchedulerFixture(t, now, SchedulerConfig{})
		sched := weeklySchedule(nextAt)
		f.schedules.On("GetByTenant", mock.Anything, "tenant-1").Return(sched, nil).Once()
		f.schedules.On("AcquireLease", mock.Anything, sched.ID, mock.Anything, mock.Anything, now).
			Return(domain.ErrLeaseHeld).Once()

		run, err := f.scheduler.TriggerRun(context.Background(), "tenant-1", domain.TriggerManual)

		assert.ErrorIs(t, err, domain.ErrLeaseHeld)
		assert.Nil(t, run)
		f.runs.AssertNotCalled(t, "Begin", mock.Anything, mock.Anything)
	})

	t.Run("manual run bypasses due-ness", func(t *testing.T) {
		f := newSchedulerFixture(t, now, SchedulerConfig{})
		sched := weeklySchedule(nextAt) // due next Monday, triggered on Wednesday
		recipients := subscribers(2)

		f.schedules.On("GetByTenant", mock.Anything, "tenant-1").Return(sched, nil).Once()
		f.schedules.On("AcquireLease", mock.Anything, sched.ID, mock.Anything, mock.Anything, now).Return(nil).Once()
		f.content.On("LatestIssue", mock.Anything, "tenant-1").Return(testIssue(), nil).Once()
		f.recipients.On("ActiveRecipients", mock.Anything, "tenant-1").Return(recipients, nil).Once()
		f.runs.On("Begin", mock.Anything, mock.MatchedBy(func(run *domain.DeliveryRun) bool {
			return run.Trigger == domain.TriggerManual
		})).Return(nil).Once()
		f.dispatcher.On("Deliver", mock.Anything, mock.Anything, mock.Anything, recipients).
			Return(domain.DeliveryOutcome{Delivered: 2}).Once()
		f.runs.On("Finalize", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		// A manual run advances the cadence from its own start time; the
		// regular Monday slot is unchanged.
		f.schedules.On("MarkSent", mock.Anything, sched.ID, mock.Anything, now, nextAt).Return(nil).Once()
		f.publisher.On("Publish", mock.Anything, SubjectRunCompleted, mock.Anything).Return(nil).Once()
		f.schedules.On("ReleaseLease", mock.Anything, sched.ID, mock.Anything).Return(nil).Once()

		run, err := f.scheduler.TriggerRun(context.Background(), "tenant-1", domain.TriggerManual)

		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, domain.RunStatusSuccess, run.Status)
		assert.Equal(t, 2, run.Delivered)
		f.assertExpectations(t)
	})
}

func TestAdvanceScheduleCatchupPolicy(t *testing.T) {
	// The schedule was due last Monday; the process was down and polls again
	// on Wednesday. Under catchup the recompute base is the missed instant,
	// so the next occurrence is this coming Monday, not the one after.
	missed := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now, SchedulerConfig{MissedRunPolicy: MissedRunCatchup})
	sched := weeklySchedule(missed)

	f.runs.On("SweepStale", mock.Anything, mock.Anything, now).Return([]*domain.DeliveryRun{}, nil).Once()
	f.schedules.On("DueSchedules", mock.Anything, now).Return([]*domain.Schedule{sched}, nil).Once()
	f.schedules.On("AcquireLease", mock.Anything, sched.ID, mock.Anything, mock.Anything, now).Return(nil).Once()
	f.content.On("LatestIssue", mock.Anything, "tenant-1").Return(testIssue(), nil).Once()
	f.recipients.On("ActiveRecipients", mock.Anything, "tenant-1").Return(subscribers(1), nil).Once()
	f.runs.On("Begin", mock.Anything, mock.Anything).Return(nil).Once()
	f.dispatcher.On("Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(domain.DeliveryOutcome{Delivered: 1}).Once()
	f.runs.On("Finalize", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	wantNext := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	f.schedules.On("MarkSent", mock.Anything, sched.ID, mock.Anything, now, wantNext).Return(nil).Once()
	f.publisher.On("Publish", mock.Anything, SubjectRunCompleted, mock.Anything).Return(nil).Once()
	f.schedules.On("ReleaseLease", mock.Anything, sched.ID, mock.Anything).Return(nil).Once()

	_, err := f.scheduler.PollOnce(context.Background())

	require.NoError(t, err)
	f.assertExpectations(t)
}

func TestPollOnceSweepsStaleRuns(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now, SchedulerConfig{StaleRunAfter: 30 * time.Minute})
	orphan := &domain.DeliveryRun{
		ID:         uuid.New(),
		ScheduleID: uuid.New(),
		TenantID:   "tenant-1",
		Status:     domain.RunStatusFailed,
		StartedAt:  now.Add(-2 * time.Hour),
	}

	f.runs.On("SweepStale", mock.Anything, now.Add(-30*time.Minute), now).
		Return([]*domain.DeliveryRun{orphan}, nil).Once()
	f.schedules.On("DueSchedules", mock.Anything, now).Return([]*domain.Schedule{}, nil).Once()
	f.publisher.On("Publish", mock.Anything, SubjectRunCompleted, mock.Anything).Return(nil).Once()

	started, err := f.scheduler.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, started)
	f.assertExpectations(t)
}

func TestPollOnceDueQueryFailure(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now, SchedulerConfig{})
	dbErr := errors.New("connection refused")

	f.runs.On("SweepStale", mock.Anything, mock.Anything, now).Return([]*domain.DeliveryRun{}, nil).Once()
	f.schedules.On("DueSchedules", mock.Anything, now).Return(nil, dbErr).Once()

	_, err := f.scheduler.PollOnce(context.Background())
	assert.ErrorIs(t, err, dbErr)
}

func TestBuildRunOutcome(t *testing.T) {
	started := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	run := &domain.DeliveryRun{StartedAt: started, Recipients: 10}

	t.Run("all delivered", func(t *testing.T) {
		out := buildRunOutcome(run, domain.DeliveryOutcome{Delivered: 10}, finished)
		assert.Equal(t, domain.RunStatusSuccess, out.Status)
		assert.EqualValues(t, 90_000, out.DurationMS)
		assert.Nil(t, out.Error)
		require.NotNil(t, out.Message)
		assert.Equal(t, "delivered 10 of 10 recipients", *out.Message)
	})

	t.Run("partial failure is failed", func(t *testing.T) {
		out := buildRunOutcome(run, domain.DeliveryOutcome{
			Delivered: 8,
			Failed:    2,
			Failures: []domain.RecipientDeliveryResult{
				{Recipient: "x@example.com", Kind: domain.ErrKindTimeout},
				{Recipient: "y@example.com", Kind: domain.ErrKindInvalidRecipient},
			},
		}, finished)
		assert.Equal(t, domain.RunStatusFailed, out.Status)
		require.NotNil(t, out.Error)
		assert.Equal(t, "2 recipients failed (invalid_recipient=1, timeout=1)", *out.Error)
	})

	t.Run("cancelled keeps partial counts", func(t *testing.T) {
		out := buildRunOutcome(run, domain.DeliveryOutcome{Delivered: 4, Cancelled: true}, finished)
		assert.Equal(t, domain.RunStatusFailed, out.Status)
		assert.Equal(t, 4, out.Delivered)
		require.NotNil(t, out.Error)
		assert.Equal(t, "run cancelled before completion", *out.Error)
	})
}
