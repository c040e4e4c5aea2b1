package bursar

// TypeBreakdown accumulates usage for one message type within a channel
type TypeBreakdown struct {
	Outbound   int     `json:"outbound"`
	Delivered  int     `json:"delivered"`
	Failed     int     `json:"failed"`
	Cost       float64 `json:"cost"`
	CarrierFee float64 `json:"carrier_fee"`
	TotalCost  float64 `json:"total_cost"`
}

// UsageBreakdown summarizes message usage for one channel over a period
type UsageBreakdown struct {
	ChannelType   string                   `json:"channel_type"`
	Outbound      int                      `json:"outbound"`
	Delivered     int                      `json:"delivered"`
	Failed        int                      `json:"failed"`
	Inbound       int                      `json:"inbound"`
	TotalCost     float64                  `json:"total_cost"`
	ByMessageType map[string]TypeBreakdown `json:"by_message_type"`
}

// UsageBreakdownResponse is the per-channel usage report
type UsageBreakdownResponse struct {
	TenantID  string           `json:"tenant_id"`
	StartDate string           `json:"start_date"`
	EndDate   string           `json:"end_date"`
	Channels  []UsageBreakdown `json:"channels"`
}

// CreditsSummary aggregates ledger movement for one channel wallet
type CreditsSummary struct {
	ChannelType    string  `json:"channel_type"`
	CurrentBalance float64 `json:"current_balance"`
	TotalPurchased float64 `json:"total_purchased"`
	TotalUsed      float64 `json:"total_used"`
	TotalRefunded  float64 `json:"total_refunded"`
	LowBalance     bool    `json:"low_balance"`
}

// CreditsSummaryResponse is the credits summary across all channels
type CreditsSummaryResponse struct {
	TenantID string           `json:"tenant_id"`
	Channels []CreditsSummary `json:"channels"`
}

// TokenOperationStat aggregates token spend for one AI operation type
type TokenOperationStat struct {
	OperationType string `json:"operation_type"`
	Operations    int    `json:"operations"`
	TokensUsed    int64  `json:"tokens_used"`
}

// TokenSummaryResponse is the AI token usage summary
type TokenSummaryResponse struct {
	TenantID       string               `json:"tenant_id"`
	CurrentBalance int64                `json:"current_balance"`
	TotalPurchased int64                `json:"total_purchased"`
	TotalUsed      int64                `json:"total_used"`
	ByOperation    []TokenOperationStat `json:"by_operation"`
}

// ErrorResponse is the generic error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse is the generic acknowledgement body
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
