package handlers

import (
	"errors"
	"net/http"

	bursarapi "github.com/walidhousni/glavito-sub004/pkg/api/bursar"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
	"github.com/walidhousni/glavito-sub004/pkg/middleware"
	"github.com/walidhousni/glavito-sub004/pkg/models"

	"github.com/walidhousni/glavito-sub004/internal/wallet"
)

// Usage Ingestion Endpoints (service-to-service)

// RecordUsage charges a channel wallet for an outbound message. Called by the
// messaging service after each send.
func RecordUsage(c middleware.Context) {
	var req bursarapi.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	if !isMessagingChannel(req.ChannelType) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Unknown channel type"})
		return
	}

	messageType := req.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	cost := walletSvc.Pricing().MessageCost(req.ChannelType, messageType, req.HasAttachments)
	err := walletSvc.RecordUsage(c.Request.Context(), req.TenantID, req.ChannelType, cost, "", req.MessageID, messageType)
	if err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).WithFields(logging.Fields{
			"tenant_id":  req.TenantID,
			"channel":    req.ChannelType,
			"message_id": req.MessageID,
		}).Error("Failed to record message usage")
		recordCreditOperation("usage", "error")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to record usage"})
		return
	}

	recordCreditOperation("usage", "success")
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"cost":    cost,
	})
}

// RefundUsage credits back the charge for a message that failed to deliver
func RefundUsage(c middleware.Context) {
	var req bursarapi.RefundUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	if !isMessagingChannel(req.ChannelType) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Unknown channel type"})
		return
	}

	refund := walletSvc.Pricing().Refund(req.ChannelType, req.Amount)
	if refund <= 0 {
		// Channel has no failed-delivery refund policy, nothing to credit back.
		c.JSON(http.StatusOK, bursarapi.SuccessResponse{Success: true, Message: "No refund applicable"})
		return
	}

	err := walletSvc.RecordRefund(c.Request.Context(), req.TenantID, req.ChannelType, refund, req.MessageID)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Wallet not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"tenant_id":  req.TenantID,
			"channel":    req.ChannelType,
			"message_id": req.MessageID,
		}).Error("Failed to record usage refund")
		recordCreditOperation("refund", "error")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to record refund"})
		return
	}

	recordCreditOperation("refund", "success")
	c.JSON(http.StatusOK, bursarapi.SuccessResponse{Success: true})
}
