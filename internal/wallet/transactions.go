package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/walidhousni/glavito-sub004/pkg/api/bursar"
	"github.com/walidhousni/glavito-sub004/pkg/models"
)

const transactionColumns = `t.id, t.wallet_id, t.tenant_id, t.amount, t.balance_after, t.transaction_type, t.description, t.reference_id, t.operation_type, t.operation_id, t.metadata, t.created_at`

// GetTransactions lists channel credit ledger entries newest-first.
func (s *Service) GetTransactions(ctx context.Context, tenantID string, q bursar.TransactionQuery) ([]models.WalletTransaction, error) {
	return s.listTransactions(ctx, tenantID, q, false)
}

// GetAITokenTransactions lists ai-tokens ledger entries newest-first.
func (s *Service) GetAITokenTransactions(ctx context.Context, tenantID string, q bursar.TransactionQuery) ([]models.WalletTransaction, error) {
	q.ChannelType = models.AITokensChannel
	return s.listTransactions(ctx, tenantID, q, true)
}

func (s *Service) listTransactions(ctx context.Context, tenantID string, q bursar.TransactionQuery, tokens bool) ([]models.WalletTransaction, error) {
	conditions := []string{"t.tenant_id = $1"}
	args := []interface{}{tenantID}

	switch {
	case q.ChannelType != "":
		args = append(args, q.ChannelType)
		conditions = append(conditions, fmt.Sprintf("w.channel_type = $%d", len(args)))
	case !tokens:
		conditions = append(conditions, "w.channel_type <> 'ai-tokens'")
	}
	if q.TransactionType != "" {
		args = append(args, q.TransactionType)
		conditions = append(conditions, fmt.Sprintf("t.transaction_type = $%d", len(args)))
	}
	if q.StartDate != "" {
		args = append(args, q.StartDate)
		conditions = append(conditions, fmt.Sprintf("t.created_at >= $%d", len(args)))
	}
	if q.EndDate != "" {
		args = append(args, q.EndDate)
		conditions = append(conditions, fmt.Sprintf("t.created_at <= $%d", len(args)))
	}

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM bursar.wallet_transactions t
		JOIN bursar.channel_wallets w ON w.id = t.wallet_id
		WHERE %s
		ORDER BY t.created_at DESC
		LIMIT $%d OFFSET $%d
	`, transactionColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]models.WalletTransaction, 0)
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(
			&t.ID, &t.WalletID, &t.TenantID, &t.Amount, &t.BalanceAfter,
			&t.TransactionType, &t.Description, &t.ReferenceID,
			&t.OperationType, &t.OperationID, &t.Metadata, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}

	return transactions, nil
}
