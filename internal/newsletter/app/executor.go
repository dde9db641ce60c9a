package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
	"github.com/pressroom/newsletter-service/internal/newsletter/provider"
)

// ExecutorConfig tunes the delivery executor.
type ExecutorConfig struct {
	// Concurrency bounds the number of in-flight sends. The pool applies
	// backpressure when saturated; it never spawns unbounded goroutines.
	Concurrency int
	// RecipientTimeout bounds a single send attempt.
	RecipientTimeout time.Duration
	// MaxRetries is the per-recipient retry budget on transient failures,
	// on top of the first attempt.
	MaxRetries int
	// InitialBackoff/MaxBackoff shape the exponential backoff between
	// attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *ExecutorConfig) withDefaults() ExecutorConfig {
	out := *c
	if out.Concurrency <= 0 {
		out.Concurrency = 16
	}
	if out.RecipientTimeout <= 0 {
		out.RecipientTimeout = 10 * time.Second
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = 250 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 4 * time.Second
	}
	return out
}

// DeliveryExecutor sends one newsletter issue to every recipient on a list,
// bounding concurrency and tolerating individual failures: one bad address
// never blocks the rest of the list. It persists nothing; the caller hands
// the outcome to the run log.
type DeliveryExecutor struct {
	sender provider.EmailSender
	cfg    ExecutorConfig
	logger *slog.Logger
}

func NewDeliveryExecutor(sender provider.EmailSender, cfg ExecutorConfig, logger *slog.Logger) *DeliveryExecutor {
	return &DeliveryExecutor{
		sender: sender,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "delivery_executor"),
	}
}

// Deliver dispatches the issue to every recipient. Cancelling ctx stops new
// dispatches; in-flight sends run to completion under their own timeout, and
// the outcome reports the partial counts reached along with Cancelled=true.
func (e *DeliveryExecutor) Deliver(ctx context.Context, runID string, issue *domain.Issue, recipients []domain.Subscriber) domain.DeliveryOutcome {
	var (
		mu      sync.Mutex
		outcome domain.DeliveryOutcome
	)

	g := &errgroup.Group{}
	g.SetLimit(e.cfg.Concurrency)

	for _, recipient := range recipients {
		if ctx.Err() != nil {
			outcome.Cancelled = true
			break
		}
		rcpt := recipient
		g.Go(func() error {
			res := e.sendWithRetry(ctx, runID, issue, rcpt.Email)

			mu.Lock()
			defer mu.Unlock()
			if res.result.OK {
				outcome.Delivered++
				recipientSendCounter.WithLabelValues("delivered").Inc()
			} else {
				outcome.Failed++
				outcome.Failures = append(outcome.Failures, res.result)
				recipientSendCounter.WithLabelValues("failed").Inc()
			}
			if outcome.OpenRate == nil && res.openRate != nil {
				outcome.OpenRate = res.openRate
			}
			if outcome.ClickRate == nil && res.clickRate != nil {
				outcome.ClickRate = res.clickRate
			}
			if outcome.BounceRate == nil && res.bounceRate != nil {
				outcome.BounceRate = res.bounceRate
			}
			return nil
		})
	}

	g.Wait() //nolint:errcheck // workers never return errors; failures are aggregated

	if ctx.Err() != nil {
		outcome.Cancelled = true
	}
	return outcome
}

type sendAttemptResult struct {
	result     domain.RecipientDeliveryResult
	openRate   *float64
	clickRate  *float64
	bounceRate *float64
}

// sendWithRetry is the bounded-attempt loop around a single recipient.
// Transient failures retry up to the budget with exponential backoff;
// permanent failures and an exhausted budget record the recipient as failed
// without aborting the run.
func (e *DeliveryExecutor) sendWithRetry(ctx context.Context, runID string, issue *domain.Issue, email string) sendAttemptResult {
	req := provider.SendRequest{
		RunID:     runID,
		Recipient: email,
		Subject:   issue.Subject,
		HTMLBody:  issue.HTMLBody,
		TextBody:  issue.TextBody,
	}

	var lastKind domain.DeliveryErrorKind
	var lastDetail string

	for attempt := 0; ; attempt++ {
		// In-flight sends are not hard-killed on run cancellation; each
		// attempt runs under its own timeout only.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RecipientTimeout)
		res, err := e.sender.Send(sendCtx, req)
		cancel()

		switch {
		case err != nil:
			lastKind, lastDetail = domain.ErrKindUnknown, err.Error()
		case res.Accepted:
			return sendAttemptResult{
				result:     domain.RecipientDeliveryResult{Recipient: email, OK: true},
				openRate:   res.OpenRate,
				clickRate:  res.ClickRate,
				bounceRate: res.BounceRate,
			}
		default:
			lastKind, lastDetail = res.Kind, res.ErrorMessage
		}

		if !lastKind.Transient() || attempt >= e.cfg.MaxRetries {
			e.logger.WarnContext(ctx, "Recipient delivery failed",
				"recipient", email, "kind", lastKind, "attempts", attempt+1, "detail", lastDetail)
			return sendAttemptResult{result: domain.RecipientDeliveryResult{
				Recipient: email,
				OK:        false,
				Kind:      lastKind,
				Detail:    lastDetail,
			}}
		}

		recipientRetryCounter.Inc()
		select {
		case <-time.After(backoffDuration(attempt+1, e.cfg.InitialBackoff, e.cfg.MaxBackoff)):
		case <-ctx.Done():
			// A retry is a new dispatch; the cancelled run gets no more.
			return sendAttemptResult{result: domain.RecipientDeliveryResult{
				Recipient: email,
				OK:        false,
				Kind:      lastKind,
				Detail:    lastDetail,
			}}
		}
	}
}

// backoffDuration is a pure function of the attempt number: base doubled per
// attempt, capped.
func backoffDuration(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
