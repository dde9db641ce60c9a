package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// MockEmailSender is a test and local-dev implementation of EmailSender.
type MockEmailSender struct {
	logger *slog.Logger

	FailSend       bool                     // simulate failure for every send
	FailKind       domain.DeliveryErrorKind // kind reported on simulated failure
	SimulatedDelay time.Duration            // simulate network latency
}

func NewMockEmailSender(logger *slog.Logger, failSend bool, delay time.Duration) *MockEmailSender {
	return &MockEmailSender{
		logger:         logger.With("provider", "mock"),
		FailSend:       failSend,
		FailKind:       domain.ErrKindProviderUnavailable,
		SimulatedDelay: delay,
	}
}

func (p *MockEmailSender) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if p.SimulatedDelay > 0 {
		select {
		case <-time.After(p.SimulatedDelay):
		case <-ctx.Done():
			return &SendResult{Accepted: false, Kind: domain.ErrKindTimeout, ErrorMessage: ctx.Err().Error()}, nil
		}
	}

	if p.FailSend {
		p.logger.WarnContext(ctx, "MockEmailSender: simulated send failure", "recipient", req.Recipient)
		return &SendResult{
			Accepted:     false,
			Kind:         p.FailKind,
			ErrorMessage: "mock provider simulated send failure",
		}, nil
	}

	return &SendResult{
		ProviderMessageID: "mock-" + uuid.NewString(),
		Accepted:          true,
	}, nil
}

func (p *MockEmailSender) Name() string { return "mock" }
