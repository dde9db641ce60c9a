package provider

import (
	"context"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// SendRequest carries one per-recipient send. RunID identifies the delivery
// run for provider-side correlation.
type SendRequest struct {
	RunID     string
	Recipient string
	Subject   string
	HTMLBody  string
	TextBody  string
}

// SendResult is the provider's answer for one send. Engagement rates are
// populated only when the provider reports them for the run; they stay nil
// otherwise.
type SendResult struct {
	ProviderMessageID string
	Accepted          bool
	Kind              domain.DeliveryErrorKind // set when not accepted
	ErrorMessage      string

	OpenRate   *float64
	ClickRate  *float64
	BounceRate *float64
}

// EmailSender delivers a single message to a single recipient. It carries no
// retry or backoff logic of its own; that responsibility lives in the
// delivery executor.
type EmailSender interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	Name() string
}
