package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"

	bursarapi "github.com/walidhousni/glavito-sub004/pkg/api/bursar"
	"github.com/walidhousni/glavito-sub004/pkg/billing"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
	"github.com/walidhousni/glavito-sub004/pkg/middleware"
)

// CheckoutPurpose identifies the reason for creating a checkout session.
// Used in webhook handling to dispatch to the correct handler.
type CheckoutPurpose string

const (
	// PurposeChannelCredits is for messaging channel credit top-ups
	PurposeChannelCredits CheckoutPurpose = "channel_credits"
	// PurposeAITokens is for AI token purchases
	PurposeAITokens CheckoutPurpose = "ai_tokens"
)

// CheckoutRequest contains all parameters needed to create a checkout session
type CheckoutRequest struct {
	Purpose     CheckoutPurpose
	TenantID    string
	ChannelType string // Target wallet for channel_credits
	AmountCents int64  // Price charged at checkout
	Tokens      int64  // Tokens granted, for ai_tokens purchases
	Currency    string
	SuccessURL  string
	CancelURL   string
	Description string
}

// CheckoutResult contains the response from creating a checkout session
type CheckoutResult struct {
	CheckoutURL string
	SessionID   string
	ExpiresAt   time.Time
}

// CheckoutService creates Stripe Checkout Sessions for wallet top-ups
type CheckoutService struct {
	db     *sql.DB
	logger logging.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(database *sql.DB, log logging.Logger) *CheckoutService {
	return &CheckoutService{
		db:     database,
		logger: log,
	}
}

// CreateCheckout creates a Stripe Checkout Session
func (s *CheckoutService) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY not configured")
	}

	// Metadata drives webhook dispatch when the session completes
	metadata := map[string]string{
		"purpose":   string(req.Purpose),
		"tenant_id": req.TenantID,
	}
	if req.ChannelType != "" {
		metadata["channel_type"] = req.ChannelType
	}
	if req.Tokens > 0 {
		metadata["tokens"] = strconv.FormatInt(req.Tokens, 10)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.Description),
						Description: stripe.String(fmt.Sprintf("Tenant: %s", req.TenantID)),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe checkout session: %w", err)
	}

	// Stripe sessions expire after 24 hours by default
	expiresAt := time.Now().Add(24 * time.Hour)
	if sess.ExpiresAt > 0 {
		expiresAt = time.Unix(sess.ExpiresAt, 0)
	}

	s.logger.WithFields(logging.Fields{
		"purpose":      req.Purpose,
		"tenant_id":    req.TenantID,
		"channel":      req.ChannelType,
		"session_id":   sess.ID,
		"checkout_url": sess.URL,
	}).Info("Created Stripe checkout session")

	return &CheckoutResult{
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
		ExpiresAt:   expiresAt,
	}, nil
}

// CreateCreditCheckout starts a Stripe checkout for a channel credit top-up
func CreateCreditCheckout(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	channel := c.Param("channel")
	if !isMessagingChannel(channel) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Unknown channel type"})
		return
	}

	var req bursarapi.CreditCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := checkoutSvc.CreateCheckout(c.Request.Context(), CheckoutRequest{
		Purpose:     PurposeChannelCredits,
		TenantID:    tenantID,
		ChannelType: channel,
		AmountCents: int64(math.Round(req.Amount * 100)),
		Currency:    billing.DefaultCurrency(),
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		Description: fmt.Sprintf("Credit top-up for %s", channel),
	})
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"tenant_id": tenantID,
			"channel":   channel,
		}).Error("Failed to create credit checkout")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create checkout"})
		return
	}

	c.JSON(http.StatusCreated, bursarapi.CheckoutResponse{
		CheckoutURL: result.CheckoutURL,
		SessionID:   result.SessionID,
		ExpiresAt:   result.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// CreateTokenCheckout starts a Stripe checkout for an AI token purchase
func CreateTokenCheckout(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	var req bursarapi.TokenCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := checkoutSvc.CreateCheckout(c.Request.Context(), CheckoutRequest{
		Purpose:     PurposeAITokens,
		TenantID:    tenantID,
		AmountCents: req.AmountCents,
		Tokens:      req.Tokens,
		Currency:    billing.DefaultCurrency(),
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		Description: fmt.Sprintf("%d AI tokens", req.Tokens),
	})
	if err != nil {
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to create token checkout")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create checkout"})
		return
	}

	c.JSON(http.StatusCreated, bursarapi.CheckoutResponse{
		CheckoutURL: result.CheckoutURL,
		SessionID:   result.SessionID,
		ExpiresAt:   result.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
