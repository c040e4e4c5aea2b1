package testutil

import (
	"time"

	"github.com/walidhousni/glavito-sub004/pkg/models"
)

// DatabaseFixtures provides test data fixtures for database testing
type DatabaseFixtures struct{}

// NewDatabaseFixtures creates a new database fixtures helper
func NewDatabaseFixtures() *DatabaseFixtures {
	return &DatabaseFixtures{}
}

// ChannelWalletSynced creates a wallet with a fresh provider sync
func (f *DatabaseFixtures) ChannelWalletSynced(channel string) *models.ChannelWallet {
	synced := time.Now().Add(-1 * time.Minute)
	return &models.ChannelWallet{
		ID:           "wallet-" + channel,
		TenantID:     "tenant-123",
		ChannelType:  channel,
		Balance:      25.50,
		Currency:     "EUR",
		IsActive:     true,
		SyncStatus:   models.SyncSuccess,
		LastSyncedAt: &synced,
		CreatedAt:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Now(),
	}
}

// ChannelWalletStale creates a wallet whose cached balance is past its TTL
func (f *DatabaseFixtures) ChannelWalletStale(channel string) *models.ChannelWallet {
	synced := time.Now().Add(-30 * time.Minute)
	w := f.ChannelWalletSynced(channel)
	w.LastSyncedAt = &synced
	return w
}

// ChannelWalletUnsynced creates a wallet that has never been provider-synced
func (f *DatabaseFixtures) ChannelWalletUnsynced(channel string) *models.ChannelWallet {
	w := f.ChannelWalletSynced(channel)
	w.LastSyncedAt = nil
	w.Balance = 0
	return w
}

// TokenWallet creates an ai-tokens wallet with the given balance
func (f *DatabaseFixtures) TokenWallet(balance int64) *models.ChannelWallet {
	return &models.ChannelWallet{
		ID:          "wallet-ai-tokens",
		TenantID:    "tenant-123",
		ChannelType: models.AITokensChannel,
		Balance:     float64(balance),
		Currency:    "EUR",
		IsActive:    true,
		SyncStatus:  models.SyncSuccess,
		CreatedAt:   time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Now(),
	}
}

// UsageTransaction creates a negative usage ledger entry
func (f *DatabaseFixtures) UsageTransaction(walletID string, amount float64) *models.WalletTransaction {
	ref := "msg-001"
	return &models.WalletTransaction{
		ID:              "txn-usage-001",
		WalletID:        walletID,
		TenantID:        "tenant-123",
		Amount:          -amount,
		BalanceAfter:    25.50 - amount,
		TransactionType: models.TransactionUsage,
		Description:     "sms message sent",
		ReferenceID:     &ref,
		CreatedAt:       time.Now(),
	}
}
