package bursar

import "github.com/walidhousni/glavito-sub004/pkg/models"

// PurchaseCreditsRequest represents a request to credit a channel wallet
type PurchaseCreditsRequest struct {
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	ReferenceID string  `json:"reference_id"`
	Description string  `json:"description"`
}

// RecordUsageRequest represents a message-send usage event from the messaging service
type RecordUsageRequest struct {
	TenantID       string `json:"tenant_id" binding:"required"`
	ChannelType    string `json:"channel_type" binding:"required"`
	MessageType    string `json:"message_type"`
	HasAttachments bool   `json:"has_attachments"`
	MessageID      string `json:"message_id"`
}

// RefundUsageRequest represents a refund for a failed message delivery
type RefundUsageRequest struct {
	TenantID    string  `json:"tenant_id" binding:"required"`
	ChannelType string  `json:"channel_type" binding:"required"`
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	MessageID   string  `json:"message_id"`
}

// DeductTokensRequest represents an AI token deduction
type DeductTokensRequest struct {
	Amount        int64    `json:"amount"`
	OperationType string   `json:"operation_type"`
	ContentLength int      `json:"content_length"`
	AnalysisTypes []string `json:"analysis_types"`
	Description   string   `json:"description"`
	ReferenceID   string   `json:"reference_id"`
}

// AddTokensRequest represents an AI token credit
type AddTokensRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Type        string `json:"type"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

// CreditCheckoutRequest starts a hosted checkout for a channel credit top-up
type CreditCheckoutRequest struct {
	Amount     float64 `json:"amount" binding:"required,gt=0"`
	SuccessURL string  `json:"success_url" binding:"required"`
	CancelURL  string  `json:"cancel_url" binding:"required"`
}

// TokenCheckoutRequest starts a hosted checkout for an AI token purchase
type TokenCheckoutRequest struct {
	Tokens      int64  `json:"tokens" binding:"required,gt=0"`
	AmountCents int64  `json:"amount_cents" binding:"required,gt=0"`
	SuccessURL  string `json:"success_url" binding:"required"`
	CancelURL   string `json:"cancel_url" binding:"required"`
}

// CheckoutResponse returns the hosted checkout session details
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	ExpiresAt   string `json:"expires_at"`
}

// TransactionQuery holds filters for ledger history endpoints
type TransactionQuery struct {
	ChannelType     string `form:"channel_type"`
	TransactionType string `form:"transaction_type"`
	StartDate       string `form:"start_date"`
	EndDate         string `form:"end_date"`
	Limit           int    `form:"limit,default=50"`
	Offset          int    `form:"offset"`
}

// WalletBalance is one channel entry in the balances response
type WalletBalance struct {
	ChannelType  string  `json:"channel_type"`
	Balance      float64 `json:"balance"`
	Currency     string  `json:"currency"`
	SyncStatus   string  `json:"sync_status"`
	LastSyncedAt string  `json:"last_synced_at,omitempty"`
	LowBalance   bool    `json:"low_balance"`
}

// BalancesResponse is the full per-tenant balance overview
type BalancesResponse struct {
	TenantID string          `json:"tenant_id"`
	Balances []WalletBalance `json:"balances"`
}

// DeductTokensResponse reports the outcome of a token deduction
type DeductTokensResponse struct {
	Success          bool   `json:"success"`
	TokensDeducted   int64  `json:"tokens_deducted,omitempty"`
	RemainingBalance int64  `json:"remaining_balance"`
	Error            string `json:"error,omitempty"`
}

// TransactionsResponse is a page of ledger entries
type TransactionsResponse struct {
	Transactions []models.WalletTransaction `json:"transactions"`
	Total        int                        `json:"total"`
	Limit        int                        `json:"limit"`
	Offset       int                        `json:"offset"`
}
