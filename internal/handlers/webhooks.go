package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	bursarapi "github.com/walidhousni/glavito-sub004/pkg/api/bursar"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
	"github.com/walidhousni/glavito-sub004/pkg/middleware"
	"github.com/walidhousni/glavito-sub004/pkg/models"
)

// Stripe webhook payload structure
type StripeWebhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// StripeCheckoutSessionObject for checkout.session.completed events
type StripeCheckoutSessionObject struct {
	ID          string `json:"id"`
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency"`
	Metadata    struct {
		Purpose     string `json:"purpose"`
		TenantID    string `json:"tenant_id"`
		ChannelType string `json:"channel_type"`
		Tokens      string `json:"tokens"`
	} `json:"metadata"`
}

// verifyStripeSignature verifies the Stripe webhook signature using HMAC-SHA256
func verifyStripeSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}

	// Parse Stripe signature header format: t=timestamp,v1=signature,v1=signature
	elements := strings.Split(signature, ",")
	var timestamp string
	var signatures []string

	for _, element := range elements {
		parts := strings.SplitN(element, "=", 2)
		if len(parts) != 2 {
			continue
		}

		switch parts[0] {
		case "t":
			timestamp = parts[1]
		case "v1":
			signatures = append(signatures, parts[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		logger.Error("Invalid Stripe signature format: missing timestamp or signatures")
		return false
	}

	// Verify timestamp is within tolerance (5 minutes)
	timestampInt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		logger.WithFields(logging.Fields{
			"timestamp": timestamp,
			"error":     err,
		}).Error("Failed to parse Stripe webhook timestamp")
		return false
	}

	now := time.Now().Unix()
	if now-timestampInt > 300 {
		logger.WithFields(logging.Fields{
			"timestamp":   timestampInt,
			"current":     now,
			"age_seconds": now - timestampInt,
		}).Warn("Stripe webhook timestamp too old")
		return false
	}

	// Create signed payload: timestamp + "." + payload
	signedPayload := timestamp + "." + string(payload)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	for _, providedSig := range signatures {
		if hmac.Equal([]byte(expectedSignature), []byte(providedSig)) {
			return true
		}
	}

	logger.WithFields(logging.Fields{
		"timestamp":   timestamp,
		"payload_len": len(payload),
	}).Warn("Stripe signature verification failed")

	return false
}

// HandleStripeWebhook processes Stripe webhook events.
// checkout.session.completed events credit the target wallet based on the
// session metadata written at checkout creation.
func HandleStripeWebhook(c middleware.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Failed to read body"})
		return
	}

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		logger.Error("STRIPE_WEBHOOK_SECRET not configured; rejecting webhook")
		c.JSON(http.StatusServiceUnavailable, bursarapi.ErrorResponse{Error: "Webhook verification not configured"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if !verifyStripeSignature(body, signature, webhookSecret) {
		logger.WithField("signature", signature).Warn("Invalid Stripe webhook signature")
		recordWebhookSignatureFailure("stripe")
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "Invalid signature"})
		return
	}

	var payload StripeWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WithError(err).Warn("Invalid Stripe webhook payload")
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid payload"})
		return
	}

	logger.WithFields(logging.Fields{
		"event_id":   payload.ID,
		"event_type": payload.Type,
	}).Info("Received Stripe webhook")

	// Skip events that were already processed
	if isWebhookAlreadyProcessed("stripe", payload.ID) {
		logger.WithField("event_id", payload.ID).Debug("Stripe webhook already processed, skipping")
		c.JSON(http.StatusOK, bursarapi.SuccessResponse{Success: true})
		return
	}

	switch payload.Type {
	case "checkout.session.completed":
		if err := handleStripeCheckoutCompleted(c, payload.Data.Object); err != nil {
			logger.WithError(err).WithField("event_id", payload.ID).Error("Failed to process Stripe checkout completion")
			c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to process webhook"})
			return
		}
	default:
		logger.WithField("event_type", payload.Type).Debug("Ignoring unhandled Stripe event type")
	}

	markWebhookProcessed("stripe", payload.ID, payload.Type)
	c.JSON(http.StatusOK, bursarapi.SuccessResponse{Success: true})
}

// handleStripeCheckoutCompleted routes a completed checkout session based on
// metadata.purpose. The session ID doubles as the ledger reference so retried
// webhook deliveries never double-credit.
func handleStripeCheckoutCompleted(c middleware.Context, object json.RawMessage) error {
	var obj StripeCheckoutSessionObject
	if err := json.Unmarshal(object, &obj); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	if obj.Metadata.TenantID == "" {
		logger.WithField("session_id", obj.ID).Warn("No tenant_id in checkout session metadata, skipping")
		return nil
	}

	switch obj.Metadata.Purpose {
	case string(PurposeChannelCredits):
		amount := float64(obj.AmountTotal) / 100.0
		_, err := walletSvc.PurchaseCredits(c.Request.Context(), obj.Metadata.TenantID, obj.Metadata.ChannelType,
			amount, obj.ID, fmt.Sprintf("Stripe credit top-up for %s", obj.Metadata.ChannelType))
		if err != nil {
			return fmt.Errorf("failed to apply credit top-up: %w", err)
		}
		recordCreditOperation("purchase", "success")

		logger.WithFields(logging.Fields{
			"tenant_id":  obj.Metadata.TenantID,
			"channel":    obj.Metadata.ChannelType,
			"amount":     amount,
			"session_id": obj.ID,
		}).Info("Applied channel credit purchase from Stripe checkout")

	case string(PurposeAITokens):
		tokens, err := strconv.ParseInt(obj.Metadata.Tokens, 10, 64)
		if err != nil || tokens <= 0 {
			return fmt.Errorf("invalid token count in checkout session metadata: %q", obj.Metadata.Tokens)
		}
		_, err = walletSvc.AddAITokens(c.Request.Context(), obj.Metadata.TenantID, tokens,
			models.TransactionPurchase, fmt.Sprintf("Stripe purchase of %d AI tokens", tokens), obj.ID)
		if err != nil {
			return fmt.Errorf("failed to credit AI tokens: %w", err)
		}
		recordTokenOperation("add", "success")

		logger.WithFields(logging.Fields{
			"tenant_id":  obj.Metadata.TenantID,
			"tokens":     tokens,
			"session_id": obj.ID,
		}).Info("Applied AI token purchase from Stripe checkout")

	default:
		logger.WithFields(logging.Fields{
			"session_id": obj.ID,
			"purpose":    obj.Metadata.Purpose,
		}).Debug("Ignoring checkout session with unhandled purpose")
	}

	return nil
}

// isWebhookAlreadyProcessed checks if a webhook event was already processed
func isWebhookAlreadyProcessed(provider, eventID string) bool {
	if db == nil {
		return false
	}
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM bursar.webhook_events WHERE provider = $1 AND event_id = $2)
	`, provider, eventID).Scan(&exists)
	return err == nil && exists
}

// markWebhookProcessed marks a webhook event as processed
func markWebhookProcessed(provider, eventID, eventType string) {
	if db == nil {
		return
	}
	_, err := db.Exec(`
		INSERT INTO bursar.webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		logger.WithError(err).Warn("Failed to mark webhook as processed")
	}
}
