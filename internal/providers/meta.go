package providers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/walidhousni/glavito-sub004/pkg/models"
)

const metaGraphBaseURL = "https://graph.facebook.com/v19.0"

// MetaConfig holds Meta Graph API credentials. The same business credit line
// backs both WhatsApp and Instagram messaging.
type MetaConfig struct {
	AccessToken string
	BusinessID  string
	BaseURL     string
	Timeout     time.Duration
}

// MetaClient reports the remaining messaging credit on a Meta business
// account for one channel (whatsapp or instagram).
type MetaClient struct {
	http       *resty.Client
	businessID string
	channel    string
}

type metaCreditResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Balance struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"balance"`
	} `json:"data"`
}

// NewMetaClient creates a Meta Graph balance provider for the given channel.
func NewMetaClient(cfg MetaConfig, channel string) *MetaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = metaGraphBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.AccessToken)

	return &MetaClient{http: http, businessID: cfg.BusinessID, channel: channel}
}

func (c *MetaClient) Channel() string {
	return c.channel
}

func (c *MetaClient) GetBalance(ctx context.Context) (models.ChannelBalance, error) {
	var out metaCreditResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("fields", "id,balance").
		SetResult(&out).
		Get(fmt.Sprintf("/%s/extendedcredits", c.businessID))
	if err != nil {
		return models.ChannelBalance{}, fmt.Errorf("meta credit request failed: %w", err)
	}
	if resp.IsError() {
		return models.ChannelBalance{}, fmt.Errorf("meta credit request returned %d", resp.StatusCode())
	}
	if len(out.Data) == 0 {
		return models.ChannelBalance{}, fmt.Errorf("meta business %s has no credit line", c.businessID)
	}

	line := out.Data[0]
	balance, err := strconv.ParseFloat(line.Balance.Amount, 64)
	if err != nil {
		return models.ChannelBalance{}, fmt.Errorf("meta returned unparsable balance %q: %w", line.Balance.Amount, err)
	}

	return models.ChannelBalance{
		ChannelType: c.channel,
		Balance:     balance,
		Currency:    line.Balance.Currency,
		FetchedAt:   time.Now(),
	}, nil
}
