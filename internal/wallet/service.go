package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/walidhousni/glavito-sub004/internal/audit"
	"github.com/walidhousni/glavito-sub004/internal/pricing"
	"github.com/walidhousni/glavito-sub004/internal/providers"
	"github.com/walidhousni/glavito-sub004/pkg/billing"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
	"github.com/walidhousni/glavito-sub004/pkg/models"
)

var (
	// ErrWalletNotFound is returned when an operation requires an existing
	// wallet, e.g. purchasing credits on a channel that was never synced.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInvalidAmount is returned for non-positive credit or debit amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const (
	defaultSyncTTL     = 5 * time.Minute
	defaultSyncTimeout = 5 * time.Second

	insufficientTokensMsg = "Insufficient AI tokens"
)

const walletColumns = `id, tenant_id, channel_type, balance, currency, is_active, low_balance_threshold, sync_status, sync_error, last_synced_at, metadata, created_at, updated_at`

// DeductResult reports the outcome of an AI token deduction. A shortfall is
// a result, not an error, so billing-gated call sites can branch on Success.
type DeductResult struct {
	Success bool
	Balance int64
	Error   string
}

// AddResult reports the outcome of an AI token credit.
type AddResult struct {
	Balance       int64
	TransactionID string
}

// Service owns wallet records and all balance-affecting operations. Channel
// wallets treat the external provider as the balance authority; the ai-tokens
// wallet is derived purely from its ledger.
type Service struct {
	db          *sql.DB
	logger      logging.Logger
	pricing     *pricing.Table
	registry    *providers.Registry
	audit       *audit.Emitter
	syncTTL     time.Duration
	syncTimeout time.Duration
	now         func() time.Time
}

// NewService creates a wallet service.
func NewService(db *sql.DB, logger logging.Logger, table *pricing.Table, registry *providers.Registry, emitter *audit.Emitter) *Service {
	return &Service{
		db:          db,
		logger:      logger,
		pricing:     table,
		registry:    registry,
		audit:       emitter,
		syncTTL:     defaultSyncTTL,
		syncTimeout: defaultSyncTimeout,
		now:         time.Now,
	}
}

// Pricing exposes the service's pricing table to callers that compute costs
// before invoking a debit.
func (s *Service) Pricing() *pricing.Table {
	return s.pricing
}

func (s *Service) getWallet(ctx context.Context, tenantID, channel string) (*models.ChannelWallet, error) {
	var w models.ChannelWallet
	err := s.db.QueryRowContext(ctx, `
		SELECT `+walletColumns+`
		FROM bursar.channel_wallets
		WHERE tenant_id = $1 AND channel_type = $2
	`, tenantID, channel).Scan(
		&w.ID, &w.TenantID, &w.ChannelType, &w.Balance, &w.Currency, &w.IsActive,
		&w.LowBalanceThreshold, &w.SyncStatus, &w.SyncError, &w.LastSyncedAt,
		&w.Metadata, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetBalances returns one balance per messaging channel, re-syncing any
// wallet whose cached value is older than the TTL or whose last sync failed.
// Provider failures never surface: the stale balance is returned with
// sync_status=error.
func (s *Service) GetBalances(ctx context.Context, tenantID string) ([]models.ChannelWallet, error) {
	balances := make([]models.ChannelWallet, 0, len(models.MessagingChannels))
	for _, channel := range models.MessagingChannels {
		w, err := s.getWallet(ctx, tenantID, channel)
		switch {
		case err == nil && s.isFresh(w):
			balances = append(balances, *w)
			continue
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("failed to load %s wallet: %w", channel, err)
		}

		synced, err := s.SyncBalance(ctx, tenantID, channel)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *synced)
	}
	return balances, nil
}

func (s *Service) isFresh(w *models.ChannelWallet) bool {
	if w.SyncStatus != models.SyncSuccess || w.LastSyncedAt == nil {
		return false
	}
	return s.now().Sub(*w.LastSyncedAt) < s.syncTTL
}

// SyncBalance fetches the provider's balance for one channel and overwrites
// the cached wallet. On provider failure the previous balance is kept (0 for
// a brand new wallet) and the error is recorded on the wallet row; the
// returned error covers storage problems only.
func (s *Service) SyncBalance(ctx context.Context, tenantID, channel string) (*models.ChannelWallet, error) {
	balance, perr := s.fetchProviderBalance(ctx, channel)
	if perr != nil {
		return s.recordSyncFailure(ctx, tenantID, channel, perr)
	}

	var w models.ChannelWallet
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bursar.channel_wallets (tenant_id, channel_type, balance, currency, sync_status, sync_error, last_synced_at, updated_at)
		VALUES ($1, $2, $3, $4, 'success', NULL, NOW(), NOW())
		ON CONFLICT (tenant_id, channel_type) DO UPDATE SET
			balance = EXCLUDED.balance,
			currency = EXCLUDED.currency,
			sync_status = 'success',
			sync_error = NULL,
			last_synced_at = NOW(),
			updated_at = NOW()
		RETURNING `+walletColumns+`
	`, tenantID, channel, balance.Balance, balance.Currency).Scan(
		&w.ID, &w.TenantID, &w.ChannelType, &w.Balance, &w.Currency, &w.IsActive,
		&w.LowBalanceThreshold, &w.SyncStatus, &w.SyncError, &w.LastSyncedAt,
		&w.Metadata, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store synced balance: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"channel":   channel,
		"balance":   w.Balance,
	}).Debug("Channel balance synced")
	s.audit.Emit(audit.EventBalanceSynced, tenantID, channel, w.Balance, "", nil)

	return &w, nil
}

func (s *Service) fetchProviderBalance(ctx context.Context, channel string) (models.ChannelBalance, error) {
	provider, err := s.registry.For(channel)
	if err != nil {
		return models.ChannelBalance{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()
	return provider.GetBalance(ctx)
}

func (s *Service) recordSyncFailure(ctx context.Context, tenantID, channel string, perr error) (*models.ChannelWallet, error) {
	s.logger.WithError(perr).WithFields(logging.Fields{
		"tenant_id": tenantID,
		"channel":   channel,
	}).Warn("Channel balance sync failed, keeping cached balance")

	var w models.ChannelWallet
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bursar.channel_wallets (tenant_id, channel_type, balance, currency, sync_status, sync_error, updated_at)
		VALUES ($1, $2, 0, $3, 'error', $4, NOW())
		ON CONFLICT (tenant_id, channel_type) DO UPDATE SET
			sync_status = 'error',
			sync_error = EXCLUDED.sync_error,
			updated_at = NOW()
		RETURNING `+walletColumns+`
	`, tenantID, channel, billing.DefaultCurrency(), perr.Error()).Scan(
		&w.ID, &w.TenantID, &w.ChannelType, &w.Balance, &w.Currency, &w.IsActive,
		&w.LowBalanceThreshold, &w.SyncStatus, &w.SyncError, &w.LastSyncedAt,
		&w.Metadata, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record sync failure: %w", err)
	}

	s.audit.Emit(audit.EventSyncFailed, tenantID, channel, w.Balance, "", map[string]interface{}{
		"error": perr.Error(),
	})
	return &w, nil
}

// PurchaseCredits appends a purchase transaction and increments the channel
// wallet balance atomically. The wallet must already exist: a channel that
// was never synced has no billing relationship to credit. Retried reference
// ids are no-ops.
func (s *Service) PurchaseCredits(ctx context.Context, tenantID, channel string, amount float64, referenceID, description string) (*models.ChannelWallet, error) {
	if amount <= 0 || math.IsNaN(amount) {
		return nil, ErrInvalidAmount
	}
	if description == "" {
		description = fmt.Sprintf("Credit purchase for %s", channel)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var walletID, currency string
	var balance float64
	err = tx.QueryRowContext(ctx, `
		SELECT id, balance, currency FROM bursar.channel_wallets
		WHERE tenant_id = $1 AND channel_type = $2
		FOR UPDATE
	`, tenantID, channel).Scan(&walletID, &balance, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	newBalance := balance + amount
	res, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.wallet_transactions (wallet_id, tenant_id, amount, balance_after, transaction_type, description, reference_id, created_at)
		VALUES ($1, $2, $3, $4, 'purchase', $5, $6, NOW())
		ON CONFLICT DO NOTHING
	`, walletID, tenantID, amount, newBalance, description, nullString(referenceID))
	if err != nil {
		return nil, fmt.Errorf("failed to append purchase transaction: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check purchase insert: %w", err)
	}
	if inserted == 0 {
		// Same reference id already credited; a retried payment webhook
		// must not double-credit.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}
		s.logger.WithFields(logging.Fields{
			"tenant_id":    tenantID,
			"channel":      channel,
			"reference_id": referenceID,
		}).Info("Duplicate purchase reference, skipping credit")
		return &models.ChannelWallet{ID: walletID, TenantID: tenantID, ChannelType: channel, Balance: balance, Currency: currency}, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.channel_wallets SET balance = $1, updated_at = NOW() WHERE id = $2
	`, newBalance, walletID); err != nil {
		return nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"channel":   channel,
		"amount":    amount,
		"balance":   newBalance,
	}).Info("Channel credits purchased")
	s.audit.Emit(audit.EventCreditsPurchased, tenantID, channel, amount, referenceID, nil)

	return &models.ChannelWallet{ID: walletID, TenantID: tenantID, ChannelType: channel, Balance: newBalance, Currency: currency}, nil
}

// RecordUsage appends a negative usage transaction and decrements the channel
// wallet. Usage on a channel with no wallet creates an empty wallet and drops
// the charge: the provider is the real balance authority and the first sync
// will overwrite whatever we hold locally. Channel wallets permit overdraft.
func (s *Service) RecordUsage(ctx context.Context, tenantID, channel string, amount float64, description, messageID, messageType string) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		s.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"channel":   channel,
		}).Warn("Ignoring usage with non-finite amount")
		return nil
	}
	cost := math.Abs(amount)
	if description == "" {
		description = fmt.Sprintf("%s message sent", channel)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var walletID string
	var balance float64
	err = tx.QueryRowContext(ctx, `
		SELECT id, balance FROM bursar.channel_wallets
		WHERE tenant_id = $1 AND channel_type = $2
		FOR UPDATE
	`, tenantID, channel).Scan(&walletID, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		// First-ever usage on a never-synced channel: create the wallet
		// empty and drop the charge.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bursar.channel_wallets (tenant_id, channel_type, balance, currency)
			VALUES ($1, $2, 0, $3)
			ON CONFLICT (tenant_id, channel_type) DO NOTHING
		`, tenantID, channel, billing.DefaultCurrency()); err != nil {
			return fmt.Errorf("failed to create wallet: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
		s.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"channel":   channel,
		}).Info("Usage on unknown wallet dropped, wallet created")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}

	newBalance := balance - cost
	metadata := models.JSONB{}
	if messageType != "" {
		metadata["message_type"] = messageType
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.wallet_transactions (wallet_id, tenant_id, amount, balance_after, transaction_type, description, reference_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, 'usage', $5, $6, $7, NOW())
	`, walletID, tenantID, -cost, newBalance, description, nullString(messageID), metadata); err != nil {
		return fmt.Errorf("failed to append usage transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.channel_wallets SET balance = $1, updated_at = NOW() WHERE id = $2
	`, newBalance, walletID); err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.audit.Emit(audit.EventUsageRecorded, tenantID, channel, cost, messageID, map[string]interface{}{
		"message_type": messageType,
	})
	return nil
}

// RecordRefund credits back part of a previous usage charge, typically after
// a failed delivery. The wallet must exist.
func (s *Service) RecordRefund(ctx context.Context, tenantID, channel string, amount float64, messageID string) error {
	if amount <= 0 || math.IsNaN(amount) {
		return ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var walletID string
	var balance float64
	err = tx.QueryRowContext(ctx, `
		SELECT id, balance FROM bursar.channel_wallets
		WHERE tenant_id = $1 AND channel_type = $2
		FOR UPDATE
	`, tenantID, channel).Scan(&walletID, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrWalletNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}

	newBalance := balance + amount
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.wallet_transactions (wallet_id, tenant_id, amount, balance_after, transaction_type, description, reference_id, created_at)
		VALUES ($1, $2, $3, $4, 'refund', $5, $6, NOW())
	`, walletID, tenantID, amount, newBalance, fmt.Sprintf("Refund for failed %s delivery", channel), nullString(messageID)); err != nil {
		return fmt.Errorf("failed to append refund transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.channel_wallets SET balance = $1, updated_at = NOW() WHERE id = $2
	`, newBalance, walletID); err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.audit.Emit(audit.EventUsageRefunded, tenantID, channel, amount, messageID, nil)
	return nil
}

// DeductAITokens is the admission-control gate for AI operations. The
// decrement is a single conditional UPDATE so concurrent callers cannot
// overspend; a read-then-write here would race. A shortfall leaves the
// wallet untouched.
func (s *Service) DeductAITokens(ctx context.Context, tenantID string, amount int64, operationType, operationID, description string) (*DeductResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if description == "" {
		description = fmt.Sprintf("AI %s", operationType)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var walletID string
	var newBalance float64
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.channel_wallets
		SET balance = balance - $1, updated_at = NOW()
		WHERE tenant_id = $2 AND channel_type = 'ai-tokens' AND balance >= $1
		RETURNING id, balance
	`, amount, tenantID).Scan(&walletID, &newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		// Guard rejected: missing wallet or insufficient balance.
		current, berr := s.tokenBalance(ctx, tenantID)
		if berr != nil {
			return nil, berr
		}
		return &DeductResult{Success: false, Balance: current, Error: insufficientTokensMsg}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deduct tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.wallet_transactions (wallet_id, tenant_id, amount, balance_after, transaction_type, description, operation_type, operation_id, created_at)
		VALUES ($1, $2, $3, $4, 'usage', $5, $6, $7, NOW())
	`, walletID, tenantID, -amount, newBalance, description, nullString(operationType), nullString(operationID)); err != nil {
		return nil, fmt.Errorf("failed to append token transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.audit.Emit(audit.EventTokensDeducted, tenantID, models.AITokensChannel, float64(amount), operationID, map[string]interface{}{
		"operation_type": operationType,
	})
	return &DeductResult{Success: true, Balance: int64(newBalance)}, nil
}

// AddAITokens credits the ai-tokens wallet, creating it on first use.
// Purchase and bonus credits with a reference id are idempotent.
func (s *Service) AddAITokens(ctx context.Context, tenantID string, amount int64, txType, description, referenceID string) (*AddResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	switch txType {
	case models.TransactionPurchase, models.TransactionBonus, models.TransactionAdjustment, models.TransactionRefund:
	case "":
		txType = models.TransactionPurchase
	default:
		return nil, fmt.Errorf("invalid transaction type %q", txType)
	}
	if description == "" {
		description = fmt.Sprintf("AI token %s", txType)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.channel_wallets (tenant_id, channel_type, balance, currency)
		VALUES ($1, 'ai-tokens', 0, $2)
		ON CONFLICT (tenant_id, channel_type) DO NOTHING
	`, tenantID, billing.DefaultCurrency()); err != nil {
		return nil, fmt.Errorf("failed to create token wallet: %w", err)
	}

	var walletID string
	var balance float64
	if err := tx.QueryRowContext(ctx, `
		SELECT id, balance FROM bursar.channel_wallets
		WHERE tenant_id = $1 AND channel_type = 'ai-tokens'
		FOR UPDATE
	`, tenantID).Scan(&walletID, &balance); err != nil {
		return nil, fmt.Errorf("failed to load token wallet: %w", err)
	}

	newBalance := balance + float64(amount)
	var txnID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bursar.wallet_transactions (wallet_id, tenant_id, amount, balance_after, transaction_type, description, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT DO NOTHING
		RETURNING id
	`, walletID, tenantID, amount, newBalance, txType, description, nullString(referenceID)).Scan(&txnID)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}
		s.logger.WithFields(logging.Fields{
			"tenant_id":    tenantID,
			"reference_id": referenceID,
		}).Info("Duplicate token credit reference, skipping")
		return &AddResult{Balance: int64(balance)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append token transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.channel_wallets SET balance = $1, updated_at = NOW() WHERE id = $2
	`, newBalance, walletID); err != nil {
		return nil, fmt.Errorf("failed to update token balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.audit.Emit(audit.EventTokensAdded, tenantID, models.AITokensChannel, float64(amount), referenceID, map[string]interface{}{
		"type": txType,
	})
	return &AddResult{Balance: int64(newBalance), TransactionID: txnID}, nil
}

// GetTokenBalance returns the current ai-tokens balance, 0 for tenants whose
// wallet does not exist yet.
func (s *Service) GetTokenBalance(ctx context.Context, tenantID string) (int64, error) {
	return s.tokenBalance(ctx, tenantID)
}

func (s *Service) tokenBalance(ctx context.Context, tenantID string) (int64, error) {
	var balance float64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM bursar.channel_wallets
		WHERE tenant_id = $1 AND channel_type = 'ai-tokens'
	`, tenantID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load token balance: %w", err)
	}
	return int64(balance), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
