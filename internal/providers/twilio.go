package providers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/walidhousni/glavito-sub004/pkg/models"
)

const twilioBaseURL = "https://api.twilio.com"

// TwilioConfig holds Twilio API credentials for SMS balance lookups.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	Timeout    time.Duration
}

// TwilioClient reports the tenant's Twilio account balance for the SMS channel.
type TwilioClient struct {
	http       *resty.Client
	accountSID string
}

type twilioBalanceResponse struct {
	AccountSID string `json:"account_sid"`
	Balance    string `json:"balance"`
	Currency   string `json:"currency"`
}

// NewTwilioClient creates a Twilio balance provider.
func NewTwilioClient(cfg TwilioConfig) *TwilioClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return &TwilioClient{http: http, accountSID: cfg.AccountSID}
}

func (c *TwilioClient) Channel() string {
	return models.ChannelSMS
}

func (c *TwilioClient) GetBalance(ctx context.Context) (models.ChannelBalance, error) {
	var out twilioBalanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/2010-04-01/Accounts/%s/Balance.json", c.accountSID))
	if err != nil {
		return models.ChannelBalance{}, fmt.Errorf("twilio balance request failed: %w", err)
	}
	if resp.IsError() {
		return models.ChannelBalance{}, fmt.Errorf("twilio balance request returned %d", resp.StatusCode())
	}

	balance, err := strconv.ParseFloat(out.Balance, 64)
	if err != nil {
		return models.ChannelBalance{}, fmt.Errorf("twilio returned unparsable balance %q: %w", out.Balance, err)
	}

	return models.ChannelBalance{
		ChannelType: models.ChannelSMS,
		Balance:     balance,
		Currency:    out.Currency,
		FetchedAt:   time.Now(),
	}, nil
}
