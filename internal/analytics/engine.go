package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/walidhousni/glavito-sub004/internal/pricing"
	"github.com/walidhousni/glavito-sub004/pkg/api/bursar"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
	"github.com/walidhousni/glavito-sub004/pkg/models"
)

// Engine reconciles ledger transactions with message delivery telemetry to
// produce billing analytics. All reads are best-effort aggregations over
// data written concurrently; results are eventually consistent.
type Engine struct {
	db      *sql.DB
	pricing *pricing.Table
	logger  logging.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(db *sql.DB, table *pricing.Table, logger logging.Logger) *Engine {
	return &Engine{db: db, pricing: table, logger: logger}
}

// sanitize coerces NaN and infinite sums to 0 so a malformed transaction row
// can never poison a whole report.
func sanitize(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// GetUsageBreakdown joins usage transactions with message telemetry for the
// window and emits one breakdown per channel seen in either source. Message
// costs are recomputed from the current pricing table rather than read back
// from the ledger, so pricing changes are reflected retroactively in
// analytics.
func (e *Engine) GetUsageBreakdown(ctx context.Context, tenantID string, start, end time.Time) ([]bursar.UsageBreakdown, error) {
	byChannel := make(map[string]*bursar.UsageBreakdown)
	channel := func(name string) *bursar.UsageBreakdown {
		b, ok := byChannel[name]
		if !ok {
			b = &bursar.UsageBreakdown{
				ChannelType:   name,
				ByMessageType: make(map[string]bursar.TypeBreakdown),
			}
			byChannel[name] = b
		}
		return b
	}

	// Ledger side: coarse, type-agnostic cost actually billed.
	rows, err := e.db.QueryContext(ctx, `
		SELECT w.channel_type, COALESCE(SUM(ABS(t.amount)), 0)
		FROM bursar.wallet_transactions t
		JOIN bursar.channel_wallets w ON w.id = t.wallet_id
		WHERE t.tenant_id = $1
		  AND t.transaction_type = 'usage'
		  AND w.channel_type <> 'ai-tokens'
		  AND t.created_at >= $2 AND t.created_at <= $3
		GROUP BY w.channel_type
	`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage transactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ch string
		var cost float64
		if err := rows.Scan(&ch, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan usage aggregate: %w", err)
		}
		channel(ch).TotalCost += sanitize(cost)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage aggregates: %w", err)
	}

	// Telemetry side: expected costs and delivery outcomes per message.
	messages, err := e.db.QueryContext(ctx, `
		SELECT channel_type, message_type, sender_type, delivery_status, has_attachments
		FROM messages
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at <= $3
	`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load message telemetry: %w", err)
	}
	defer messages.Close()

	for messages.Next() {
		var m models.MessageRecord
		if err := messages.Scan(&m.ChannelType, &m.MessageType, &m.SenderType, &m.DeliveryStatus, &m.HasAttachments); err != nil {
			return nil, fmt.Errorf("failed to scan message record: %w", err)
		}

		b := channel(m.ChannelType)
		if m.SenderType == models.SenderCustomer {
			// Inbound is never billed.
			b.Inbound++
			continue
		}

		cost := e.pricing.MessageCost(m.ChannelType, m.MessageType, m.HasAttachments)
		fee := e.pricing.CarrierFee(m.ChannelType)

		mt := b.ByMessageType[m.MessageType]
		mt.Outbound++
		mt.Cost += cost - fee
		mt.CarrierFee += fee
		mt.TotalCost += cost
		b.Outbound++

		switch m.DeliveryStatus {
		case models.DeliveryDelivered:
			mt.Delivered++
			b.Delivered++
		case models.DeliveryFailed:
			mt.Failed++
			b.Failed++
			refund := e.pricing.Refund(m.ChannelType, cost)
			mt.TotalCost -= refund
			b.TotalCost -= refund
		}
		b.ByMessageType[m.MessageType] = mt
	}
	if err := messages.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message telemetry: %w", err)
	}

	breakdowns := make([]bursar.UsageBreakdown, 0, len(byChannel))
	for _, b := range byChannel {
		b.TotalCost = sanitize(b.TotalCost)
		for mt, acc := range b.ByMessageType {
			acc.Cost = sanitize(acc.Cost)
			acc.CarrierFee = sanitize(acc.CarrierFee)
			acc.TotalCost = sanitize(acc.TotalCost)
			b.ByMessageType[mt] = acc
		}
		breakdowns = append(breakdowns, *b)
	}
	sort.Slice(breakdowns, func(i, j int) bool { return breakdowns[i].ChannelType < breakdowns[j].ChannelType })
	return breakdowns, nil
}

// GetCreditsSummary aggregates ledger movement per channel wallet.
func (e *Engine) GetCreditsSummary(ctx context.Context, tenantID string) ([]bursar.CreditsSummary, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT w.channel_type, w.balance, w.low_balance_threshold,
		       COALESCE(SUM(CASE WHEN t.transaction_type IN ('purchase', 'bonus') THEN t.amount END), 0) AS purchased,
		       COALESCE(SUM(CASE WHEN t.transaction_type = 'usage' THEN -t.amount END), 0) AS used,
		       COALESCE(SUM(CASE WHEN t.transaction_type = 'refund' THEN t.amount END), 0) AS refunded
		FROM bursar.channel_wallets w
		LEFT JOIN bursar.wallet_transactions t ON t.wallet_id = w.id
		WHERE w.tenant_id = $1 AND w.channel_type <> 'ai-tokens'
		GROUP BY w.channel_type, w.balance, w.low_balance_threshold
		ORDER BY w.channel_type
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate credits: %w", err)
	}
	defer rows.Close()

	summaries := make([]bursar.CreditsSummary, 0)
	for rows.Next() {
		var s bursar.CreditsSummary
		var threshold float64
		if err := rows.Scan(&s.ChannelType, &s.CurrentBalance, &threshold, &s.TotalPurchased, &s.TotalUsed, &s.TotalRefunded); err != nil {
			return nil, fmt.Errorf("failed to scan credits summary: %w", err)
		}
		s.CurrentBalance = sanitize(s.CurrentBalance)
		s.TotalPurchased = sanitize(s.TotalPurchased)
		s.TotalUsed = sanitize(s.TotalUsed)
		s.TotalRefunded = sanitize(s.TotalRefunded)
		s.LowBalance = threshold > 0 && s.CurrentBalance <= threshold
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credits summaries: %w", err)
	}
	return summaries, nil
}

// GetAITokenSummary aggregates token spend, overall and per operation type.
func (e *Engine) GetAITokenSummary(ctx context.Context, tenantID string) (*bursar.TokenSummaryResponse, error) {
	summary := &bursar.TokenSummaryResponse{
		TenantID:    tenantID,
		ByOperation: make([]bursar.TokenOperationStat, 0),
	}

	var balance, purchased, used float64
	err := e.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(w.balance), 0),
		       COALESCE(SUM(CASE WHEN t.transaction_type IN ('purchase', 'bonus') THEN t.amount END), 0),
		       COALESCE(SUM(CASE WHEN t.transaction_type = 'usage' THEN -t.amount END), 0)
		FROM bursar.channel_wallets w
		LEFT JOIN bursar.wallet_transactions t ON t.wallet_id = w.id
		WHERE w.tenant_id = $1 AND w.channel_type = 'ai-tokens'
	`, tenantID).Scan(&balance, &purchased, &used)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate token totals: %w", err)
	}
	summary.CurrentBalance = int64(sanitize(balance))
	summary.TotalPurchased = int64(sanitize(purchased))
	summary.TotalUsed = int64(sanitize(used))

	rows, err := e.db.QueryContext(ctx, `
		SELECT t.operation_type, COUNT(*), COALESCE(SUM(-t.amount), 0)
		FROM bursar.wallet_transactions t
		JOIN bursar.channel_wallets w ON w.id = t.wallet_id
		WHERE t.tenant_id = $1
		  AND w.channel_type = 'ai-tokens'
		  AND t.transaction_type = 'usage'
		  AND t.operation_type IS NOT NULL
		GROUP BY t.operation_type
		ORDER BY t.operation_type
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate token operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stat bursar.TokenOperationStat
		var tokens float64
		if err := rows.Scan(&stat.OperationType, &stat.Operations, &tokens); err != nil {
			return nil, fmt.Errorf("failed to scan token operation: %w", err)
		}
		stat.TokensUsed = int64(sanitize(tokens))
		summary.ByOperation = append(summary.ByOperation, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read token operations: %w", err)
	}
	return summary, nil
}
