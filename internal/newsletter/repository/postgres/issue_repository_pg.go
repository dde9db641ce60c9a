package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// PgIssueRepository reads prepared newsletter issues (newsletter_issues
// table). Issue generation happens upstream; this is the ContentSource
// collaborator a delivery run reads from.
type PgIssueRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewPgIssueRepository(db DBPool, logger *slog.Logger) *PgIssueRepository {
	return &PgIssueRepository{db: db, logger: logger}
}

func (r *PgIssueRepository) LatestIssue(ctx context.Context, tenantID string) (*domain.Issue, error) {
	query := `
		SELECT id, tenant_id, subject, html_body, text_body, created_at
		FROM newsletter_issues
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	issue := &domain.Issue{}
	err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&issue.ID, &issue.TenantID, &issue.Subject, &issue.HTMLBody, &issue.TextBody, &issue.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoIssue
		}
		r.logger.ErrorContext(ctx, "Error loading latest issue", "error", err, "tenant_id", tenantID)
		return nil, err
	}
	return issue, nil
}
