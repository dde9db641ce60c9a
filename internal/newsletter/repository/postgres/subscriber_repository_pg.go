package postgres

import (
	"context"
	"log/slog"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// PgSubscriberRepository reads the recipient list (subscribers table). It is
// the RecipientSource collaborator: the delivery run takes a snapshot at run
// start and never mutates it.
type PgSubscriberRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewPgSubscriberRepository(db DBPool, logger *slog.Logger) *PgSubscriberRepository {
	return &PgSubscriberRepository{db: db, logger: logger}
}

// ActiveRecipients returns the tenant's current subscribers, de-duplicated
// by address and in a stable order.
func (r *PgSubscriberRepository) ActiveRecipients(ctx context.Context, tenantID string) ([]domain.Subscriber, error) {
	query := `
		SELECT DISTINCT ON (email) id, tenant_id, email, unsubscribed_at, created_at
		FROM subscribers
		WHERE tenant_id = $1 AND unsubscribed_at IS NULL
		ORDER BY email ASC, created_at ASC
	`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error querying active recipients", "error", err, "tenant_id", tenantID)
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Email, &s.UnsubscribedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
