package handlers

import (
	"errors"
	"net/http"

	bursarapi "github.com/walidhousni/glavito-sub004/pkg/api/bursar"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
	"github.com/walidhousni/glavito-sub004/pkg/middleware"

	"github.com/walidhousni/glavito-sub004/internal/wallet"
)

// AI Token Endpoints

// GetTokenBalance returns the current AI token balance for the tenant
func GetTokenBalance(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	balance, err := walletSvc.GetTokenBalance(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to fetch token balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch token balance"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"balance":   balance,
	})
}

// DeductTokens charges AI tokens for an operation. When the request carries no
// explicit amount the cost is derived from the operation type and content size.
func DeductTokens(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	var req bursarapi.DeductTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	amount := req.Amount
	if amount == 0 {
		amount = walletSvc.Pricing().AITokenCost(req.OperationType, req.ContentLength, req.AnalysisTypes)
	}

	result, err := walletSvc.DeductAITokens(c.Request.Context(), tenantID, amount, req.OperationType, req.ReferenceID, req.Description)
	if errors.Is(err, wallet.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid amount"})
		return
	}
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"tenant_id":      tenantID,
			"operation_type": req.OperationType,
			"amount":         amount,
		}).Error("Failed to deduct AI tokens")
		recordTokenOperation("deduct", "error")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to deduct tokens"})
		return
	}

	if !result.Success {
		recordTokenOperation("deduct", "insufficient")
		c.JSON(http.StatusOK, bursarapi.DeductTokensResponse{
			Success:          false,
			RemainingBalance: result.Balance,
			Error:            result.Error,
		})
		return
	}

	recordTokenOperation("deduct", "success")
	c.JSON(http.StatusOK, bursarapi.DeductTokensResponse{
		Success:          true,
		TokensDeducted:   amount,
		RemainingBalance: result.Balance,
	})
}

// AddTokens credits AI tokens, creating the token wallet on first use
func AddTokens(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	var req bursarapi.AddTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := walletSvc.AddAITokens(c.Request.Context(), tenantID, req.Amount, req.Type, req.Description, req.ReferenceID)
	if errors.Is(err, wallet.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid amount or transaction type"})
		return
	}
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"tenant_id": tenantID,
			"amount":    req.Amount,
			"type":      req.Type,
		}).Error("Failed to add AI tokens")
		recordTokenOperation("add", "error")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to add tokens"})
		return
	}

	recordTokenOperation("add", "success")
	c.JSON(http.StatusOK, map[string]interface{}{
		"tenant_id":      tenantID,
		"balance":        result.Balance,
		"transaction_id": result.TransactionID,
	})
}

// GetTokenTransactions returns the AI token ledger history
func GetTokenTransactions(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	var q bursarapi.TransactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	transactions, err := walletSvc.GetAITokenTransactions(c.Request.Context(), tenantID, q)
	if err != nil {
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to fetch token transactions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch transactions"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.TransactionsResponse{
		Transactions: transactions,
		Total:        len(transactions),
		Limit:        q.Limit,
		Offset:       q.Offset,
	})
}

// GetTokenSummary returns AI token spend aggregated by operation type
func GetTokenSummary(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	summary, err := engine.GetAITokenSummary(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to build token summary")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to build summary"})
		return
	}

	summary.TenantID = tenantID
	c.JSON(http.StatusOK, summary)
}
