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

const runColumns = `id, schedule_id, tenant_id, started_at, finished_at, status, run_trigger,
	recipients, delivered, failed, duration_ms, subject, message, error_message,
	open_rate, click_rate, bounce_rate`

// PgRunRepository is the append-only delivery run log (delivery_runs table).
// Terminal rows are never edited; corrections are new rows.
type PgRunRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewPgRunRepository(db DBPool, logger *slog.Logger) *PgRunRepository {
	return &PgRunRepository{db: db, logger: logger}
}

// Begin inserts the run row. The run is born running: the pending->running
// transition happens before anything is visible to readers.
func (r *PgRunRepository) Begin(ctx context.Context, run *domain.DeliveryRun) error {
	run.Status = domain.RunStatusRunning
	query := `
		INSERT INTO delivery_runs (id, schedule_id, tenant_id, started_at, status, run_trigger, recipients, delivered, failed, duration_ms, subject)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, $8)
	`
	_, err := r.db.Exec(ctx, query,
		run.ID, run.ScheduleID, run.TenantID, run.StartedAt, run.Status, run.Trigger,
		run.Recipients, run.Subject,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting delivery run", "error", err, "run_id", run.ID)
		return err
	}
	return nil
}

// Finalize writes the single terminal transition. Repeating the identical
// terminal write is accepted (idempotent under retry of the write itself);
// a terminal write with different content is rejected with ErrRunFinalized.
func (r *PgRunRepository) Finalize(ctx context.Context, id uuid.UUID, out domain.RunOutcome) error {
	query := `
		UPDATE delivery_runs
		SET status = $2, delivered = $3, failed = $4, duration_ms = $5, finished_at = $6,
		    message = $7, error_message = $8, open_rate = $9, click_rate = $10, bounce_rate = $11
		WHERE id = $1 AND status = $12
	`
	tag, err := r.db.Exec(ctx, query,
		id, out.Status, out.Delivered, out.Failed, out.DurationMS, out.FinishedAt,
		out.Message, out.Error, out.OpenRate, out.ClickRate, out.BounceRate,
		domain.RunStatusRunning,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error finalizing delivery run", "error", err, "run_id", id)
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No running row matched: either the run does not exist, or it already
	// reached a terminal state. Distinguish an idempotent retry from a
	// conflicting rewrite.
	existing, err := r.getByID(ctx, id)
	if err != nil {
		return err
	}
	if !existing.Status.Terminal() {
		return domain.ErrRunFinalized
	}
	if sameOutcome(existing, out) {
		return nil
	}
	r.logger.ErrorContext(ctx, "Conflicting terminal write on delivery run",
		"run_id", id, "existing_status", existing.Status, "attempted_status", out.Status)
	return domain.ErrRunFinalized
}

func (r *PgRunRepository) List(ctx context.Context, tenantID string, page, pageSize int) ([]*domain.DeliveryRun, int, error) {
	var totalCount int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM delivery_runs WHERE tenant_id = $1`, tenantID,
	).Scan(&totalCount); err != nil {
		r.logger.ErrorContext(ctx, "Error counting delivery runs", "error", err, "tenant_id", tenantID)
		return nil, 0, err
	}
	if totalCount == 0 {
		return []*domain.DeliveryRun{}, 0, nil
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + runColumns + `
		FROM delivery_runs
		WHERE tenant_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, tenantID, pageSize, offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing delivery runs", "error", err, "tenant_id", tenantID)
		return nil, 0, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, 0, err
	}
	return runs, totalCount, nil
}

// SweepStale finalizes as failed every run still marked running whose start
// is older than the threshold. It is the recovery path for runs whose lease
// expired without a terminal write.
func (r *PgRunRepository) SweepStale(ctx context.Context, olderThan, now time.Time) ([]*domain.DeliveryRun, error) {
	query := `
		UPDATE delivery_runs
		SET status = $1, error_message = $2, finished_at = $3,
		    duration_ms = CAST(EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) * 1000 AS BIGINT)
		WHERE status = $4 AND started_at < $5
		RETURNING ` + runColumns + `
	`
	rows, err := r.db.Query(ctx, query,
		domain.RunStatusFailed, "run timed out: lease expired without a terminal write",
		now, domain.RunStatusRunning, olderThan,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error sweeping stale delivery runs", "error", err)
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

// sameOutcome reports whether re-applying out would leave the stored run
// unchanged, so a retry that differs only in message, error or rates is
// still a conflicting rewrite. finished_at is excluded: timestamps lose
// sub-microsecond precision in the database round trip.
func sameOutcome(run *domain.DeliveryRun, out domain.RunOutcome) bool {
	return run.Status == out.Status &&
		run.Delivered == out.Delivered &&
		run.Failed == out.Failed &&
		run.DurationMS == out.DurationMS &&
		ptrEqual(run.Message, out.Message) &&
		ptrEqual(run.Error, out.Error) &&
		ptrEqual(run.OpenRate, out.OpenRate) &&
		ptrEqual(run.ClickRate, out.ClickRate) &&
		ptrEqual(run.BounceRate, out.BounceRate)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (r *PgRunRepository) getByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryRun, error) {
	query := `SELECT ` + runColumns + ` FROM delivery_runs WHERE id = $1`
	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func scanRun(row pgx.Row) (*domain.DeliveryRun, error) {
	run := &domain.DeliveryRun{}
	err := row.Scan(
		&run.ID, &run.ScheduleID, &run.TenantID, &run.StartedAt, &run.FinishedAt,
		&run.Status, &run.Trigger, &run.Recipients, &run.Delivered, &run.Failed,
		&run.DurationMS, &run.Subject, &run.Message, &run.Error,
		&run.OpenRate, &run.ClickRate, &run.BounceRate,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func scanRuns(rows pgx.Rows) ([]*domain.DeliveryRun, error) {
	var runs []*domain.DeliveryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
