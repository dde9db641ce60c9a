package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// APIEmailSender delivers through a JSON-over-HTTP email delivery provider.
type APIEmailSender struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewAPIEmailSender(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *APIEmailSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIEmailSender{
		logger:     logger.With("provider", "api"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

type apiSendRequestBody struct {
	RunID     string `json:"run_id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	Text      string `json:"text"`
}

type apiSendResponseBody struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"` // "accepted" | "rejected"
	Error     string `json:"error,omitempty"`

	// Aggregate engagement stats the provider may report for the run.
	OpenRate   *float64 `json:"open_rate,omitempty"`
	ClickRate  *float64 `json:"click_rate,omitempty"`
	BounceRate *float64 `json:"bounce_rate,omitempty"`
}

func (p *APIEmailSender) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	body := apiSendRequestBody{
		RunID:     req.RunID,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		HTML:      req.HTMLBody,
		Text:      req.TextBody,
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		kind := domain.ErrKindProviderUnavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = domain.ErrKindTimeout
		}
		p.logger.WarnContext(ctx, "Provider request failed", "error", err, "recipient", req.Recipient)
		return &SendResult{Accepted: false, Kind: kind, ErrorMessage: err.Error()}, nil
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return &SendResult{
			Accepted:     false,
			Kind:         domain.ErrKindUnknown,
			ErrorMessage: fmt.Sprintf("read provider response (status %d): %v", httpResp.StatusCode, err),
		}, nil
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		var resp apiSendResponseBody
		if err := json.Unmarshal(respBytes, &resp); err != nil {
			return &SendResult{Accepted: false, Kind: domain.ErrKindUnknown, ErrorMessage: "malformed provider response"}, nil
		}
		if resp.Status != "accepted" {
			return &SendResult{
				Accepted:     false,
				Kind:         domain.ErrKindRejected,
				ErrorMessage: resp.Error,
			}, nil
		}
		return &SendResult{
			ProviderMessageID: resp.MessageID,
			Accepted:          true,
			OpenRate:          resp.OpenRate,
			ClickRate:         resp.ClickRate,
			BounceRate:        resp.BounceRate,
		}, nil
	case httpResp.StatusCode == http.StatusBadRequest || httpResp.StatusCode == http.StatusUnprocessableEntity:
		return &SendResult{Accepted: false, Kind: domain.ErrKindInvalidRecipient, ErrorMessage: string(respBytes)}, nil
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return &SendResult{Accepted: false, Kind: domain.ErrKindRateLimited, ErrorMessage: string(respBytes)}, nil
	case httpResp.StatusCode >= 500:
		return &SendResult{Accepted: false, Kind: domain.ErrKindProviderUnavailable, ErrorMessage: string(respBytes)}, nil
	default:
		return &SendResult{Accepted: false, Kind: domain.ErrKindUnknown, ErrorMessage: string(respBytes)}, nil
	}
}

func (p *APIEmailSender) Name() string { return "api" }
