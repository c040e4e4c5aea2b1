package handlers

import (
	"errors"
	"net/http"
	"time"

	bursarapi "github.com/walidhousni/glavito-sub004/pkg/api/bursar"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
	"github.com/walidhousni/glavito-sub004/pkg/middleware"
	"github.com/walidhousni/glavito-sub004/pkg/models"

	"github.com/walidhousni/glavito-sub004/internal/wallet"
)

// Credit Wallet Endpoints

func isMessagingChannel(channel string) bool {
	for _, c := range models.MessagingChannels {
		if c == channel {
			return true
		}
	}
	return false
}

func walletToBalance(w *models.ChannelWallet) bursarapi.WalletBalance {
	balance := bursarapi.WalletBalance{
		ChannelType: w.ChannelType,
		Balance:     w.Balance,
		Currency:    w.Currency,
		SyncStatus:  w.SyncStatus,
		LowBalance:  w.IsLowBalance(),
	}
	if w.LastSyncedAt != nil {
		balance.LastSyncedAt = w.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	return balance
}

// GetCreditBalances returns the balance of every messaging channel wallet,
// refreshing stale balances from the providers where possible.
func GetCreditBalances(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	wallets, err := walletSvc.GetBalances(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to fetch channel balances")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch balances"})
		return
	}

	balances := make([]bursarapi.WalletBalance, 0, len(wallets))
	for i := range wallets {
		balances = append(balances, walletToBalance(&wallets[i]))
	}

	c.JSON(http.StatusOK, bursarapi.BalancesResponse{
		TenantID: tenantID,
		Balances: balances,
	})
}

// SyncChannelBalance forces a provider balance refresh for one channel
func SyncChannelBalance(c middleware.Context) {
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

	w, err := walletSvc.SyncBalance(c.Request.Context(), tenantID, channel)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"tenant_id": tenantID,
			"channel":   channel,
		}).Error("Failed to sync channel balance")
		recordBalanceSync(channel, "error")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to sync balance"})
		return
	}

	recordBalanceSync(channel, w.SyncStatus)
	c.JSON(http.StatusOK, walletToBalance(w))
}

// PurchaseCredits applies a credit purchase to an existing channel wallet
func PurchaseCredits(c middleware.Context) {
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

	var req bursarapi.PurchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	w, err := walletSvc.PurchaseCredits(c.Request.Context(), tenantID, channel, req.Amount, req.ReferenceID, req.Description)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		recordCreditOperation("purchase", "wallet_not_found")
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Wallet not found"})
		return
	}
	if errors.Is(err, wallet.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid amount"})
		return
	}
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"tenant_id": tenantID,
			"channel":   channel,
			"amount":    req.Amount,
		}).Error("Failed to purchase credits")
		recordCreditOperation("purchase", "error")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to purchase credits"})
		return
	}

	recordCreditOperation("purchase", "success")
	c.JSON(http.StatusOK, walletToBalance(w))
}

// GetCreditTransactions returns the channel wallet ledger history
func GetCreditTransactions(c middleware.Context) {
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
	if q.ChannelType != "" && !isMessagingChannel(q.ChannelType) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Unknown channel type"})
		return
	}

	transactions, err := walletSvc.GetTransactions(c.Request.Context(), tenantID, q)
	if err != nil {
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to fetch credit transactions")
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

// GetCreditsSummary returns purchased/used/refunded totals per channel wallet
func GetCreditsSummary(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	summaries, err := engine.GetCreditsSummary(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to build credits summary")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to build summary"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.CreditsSummaryResponse{
		TenantID: tenantID,
		Channels: summaries,
	})
}

// GetUsageBreakdown reconciles the ledger against message telemetry for a period
func GetUsageBreakdown(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	end := time.Now().UTC()
	start := end.AddDate(0, -1, 0)
	if raw := c.Query("start_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid start_date, expected YYYY-MM-DD"})
			return
		}
		start = parsed
	}
	if raw := c.Query("end_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid end_date, expected YYYY-MM-DD"})
			return
		}
		end = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "end_date before start_date"})
		return
	}

	channels, err := engine.GetUsageBreakdown(c.Request.Context(), tenantID, start, end)
	if err != nil {
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to build usage breakdown")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to build usage breakdown"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.UsageBreakdownResponse{
		TenantID:  tenantID,
		StartDate: start.Format("2006-01-02"),
		EndDate:   end.Format("2006-01-02"),
		Channels:  channels,
	})
}
