package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

const scheduleColumns = `id, tenant_id, is_active, frequency, hour, minute, day_of_week, day_of_month,
	anchor_at, last_sent_at, next_scheduled_at, run_token, lease_expires_at, created_at, updated_at`

// PgScheduleRepository stores newsletter schedules in the
// newsletter_schedules table (one active row per tenant, lease columns on
// the row itself so the claim is a single-statement compare-and-swap).
type PgScheduleRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewPgScheduleRepository(db DBPool, logger *slog.Logger) *PgScheduleRepository {
	return &PgScheduleRepository{db: db, logger: logger}
}

func (r *PgScheduleRepository) GetByTenant(ctx context.Context, tenantID string) (*domain.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM newsletter_schedules
		WHERE tenant_id = $1
		ORDER BY is_active DESC, updated_at DESC
		LIMIT 1
	`
	s, err := r.scanOne(r.db.QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting schedule by tenant", "error", err, "tenant_id", tenantID)
		return nil, err
	}
	return s, nil
}

func (r *PgScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM newsletter_schedules WHERE id = $1`
	s, err := r.scanOne(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting schedule by ID", "error", err, "schedule_id", id)
		return nil, err
	}
	return s, nil
}

// Save upserts a schedule. The per-tenant cap is checked inside the insert
// transaction; lease columns and the biweekly anchor are never touched on
// update.
func (r *PgScheduleRepository) Save(ctx context.Context, s *domain.Schedule) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM newsletter_schedules WHERE id = $1)`, s.ID,
	).Scan(&exists); err != nil {
		return err
	}

	if exists {
		query := `
			UPDATE newsletter_schedules
			SET is_active = $2, frequency = $3, hour = $4, minute = $5,
			    day_of_week = $6, day_of_month = $7,
			    last_sent_at = $8, next_scheduled_at = $9, updated_at = $10
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, query,
			s.ID, s.IsActive, s.Frequency, s.Hour, s.Minute,
			s.DayOfWeek, s.DayOfMonth, s.LastSentAt, s.NextScheduledAt, s.UpdatedAt,
		); err != nil {
			r.logger.ErrorContext(ctx, "Error updating schedule", "error", err, "schedule_id", s.ID)
			return err
		}
	} else {
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM newsletter_schedules WHERE tenant_id = $1`, s.TenantID,
		).Scan(&count); err != nil {
			return err
		}
		if count >= domain.MaxSchedulesPerTenant {
			return domain.ErrScheduleLimit
		}
		query := `
			INSERT INTO newsletter_schedules (` + scheduleColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, NULL, $12, $13)
		`
		if _, err := tx.Exec(ctx, query,
			s.ID, s.TenantID, s.IsActive, s.Frequency, s.Hour, s.Minute,
			s.DayOfWeek, s.DayOfMonth, s.AnchorAt, s.LastSentAt, s.NextScheduledAt,
			s.CreatedAt, s.UpdatedAt,
		); err != nil {
			r.logger.ErrorContext(ctx, "Error inserting schedule", "error", err, "schedule_id", s.ID)
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PgScheduleRepository) SetActive(ctx context.Context, id uuid.UUID, active bool, nextAt *time.Time) error {
	query := `
		UPDATE newsletter_schedules
		SET is_active = $2, next_scheduled_at = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, active, nextAt, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error setting schedule active flag", "error", err, "schedule_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *PgScheduleRepository) DueSchedules(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM newsletter_schedules
		WHERE is_active AND next_scheduled_at IS NOT NULL AND next_scheduled_at <= $1
		ORDER BY next_scheduled_at ASC
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error querying due schedules", "error", err)
		return nil, err
	}
	defer rows.Close()

	var due []*domain.Schedule
	for rows.Next() {
		s, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, s)
	}
	return due, rows.Err()
}

// AcquireLease is the exclusivity CAS: it claims the schedule only when no
// unexpired lease exists. Exactly one caller wins per due schedule, even
// across replicas.
func (r *PgScheduleRepository) AcquireLease(ctx context.Context, id, token uuid.UUID, ttl time.Duration, now time.Time) error {
	query := `
		UPDATE newsletter_schedules
		SET run_token = $2, lease_expires_at = $3, updated_at = $4
		WHERE id = $1 AND (run_token IS NULL OR lease_expires_at IS NULL OR lease_expires_at < $4)
	`
	tag, err := r.db.Exec(ctx, query, id, token, now.Add(ttl), now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error acquiring run lease", "error", err, "schedule_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM newsletter_schedules WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrScheduleNotFound
		}
		return domain.ErrLeaseHeld
	}
	return nil
}

func (r *PgScheduleRepository) ReleaseLease(ctx context.Context, id, token uuid.UUID) error {
	query := `
		UPDATE newsletter_schedules
		SET run_token = NULL, lease_expires_at = NULL, updated_at = $3
		WHERE id = $1 AND run_token = $2
	`
	tag, err := r.db.Exec(ctx, query, id, token, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error releasing run lease", "error", err, "schedule_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		// The lease expired and was claimed by someone else; nothing to release.
		r.logger.WarnContext(ctx, "Run lease no longer held at release", "schedule_id", id, "token", token)
	}
	return nil
}

func (r *PgScheduleRepository) MarkSent(ctx context.Context, id, token uuid.UUID, lastSentAt, nextAt time.Time) error {
	query := `
		UPDATE newsletter_schedules
		SET last_sent_at = $3, next_scheduled_at = $4, updated_at = $5
		WHERE id = $1 AND run_token = $2
	`
	tag, err := r.db.Exec(ctx, query, id, token, lastSentAt, nextAt, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording schedule completion", "error", err, "schedule_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseHeld
	}
	return nil
}

func (r *PgScheduleRepository) scanOne(row pgx.Row) (*domain.Schedule, error) {
	s := &domain.Schedule{}
	err := row.Scan(
		&s.ID, &s.TenantID, &s.IsActive, &s.Frequency, &s.Hour, &s.Minute,
		&s.DayOfWeek, &s.DayOfMonth, &s.AnchorAt, &s.LastSentAt, &s.NextScheduledAt,
		&s.RunToken, &s.LeaseExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
