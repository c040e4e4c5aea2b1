package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/walidhousni/glavito-sub004/pkg/billing"
	"github.com/walidhousni/glavito-sub004/pkg/models"
)

const sendgridBaseURL = "https://api.sendgrid.com"

// SendGridConfig holds SendGrid API credentials for email credit lookups.
type SendGridConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// SendGridClient reports the remaining email sending credits. SendGrid
// reports whole credits without a currency, so the ledger default applies.
type SendGridClient struct {
	http *resty.Client
}

type sendgridCreditsResponse struct {
	Remain float64 `json:"remain"`
	Total  float64 `json:"total"`
	Used   float64 `json:"used"`
}

// NewSendGridClient creates a SendGrid balance provider.
func NewSendGridClient(cfg SendGridConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendgridBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.APIKey)

	return &SendGridClient{http: http}
}

func (c *SendGridClient) Channel() string {
	return models.ChannelEmail
}

func (c *SendGridClient) GetBalance(ctx context.Context) (models.ChannelBalance, error) {
	var out sendgridCreditsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v3/user/credits")
	if err != nil {
		return models.ChannelBalance{}, fmt.Errorf("sendgrid credits request failed: %w", err)
	}
	if resp.IsError() {
		return models.ChannelBalance{}, fmt.Errorf("sendgrid credits request returned %d", resp.StatusCode())
	}

	return models.ChannelBalance{
		ChannelType: models.ChannelEmail,
		Balance:     out.Remain,
		Currency:    billing.DefaultCurrency(),
		FetchedAt:   time.Now(),
	}, nil
}
