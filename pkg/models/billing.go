package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Channel types for messaging credit wallets. AITokensChannel is a sentinel
// wallet type whose balance is an integer token count.
const (
	ChannelWhatsApp  = "whatsapp"
	ChannelSMS       = "sms"
	ChannelInstagram = "instagram"
	ChannelEmail     = "email"
	AITokensChannel  = "ai-tokens"
)

// MessagingChannels lists the provider-backed channels in presentation order.
var MessagingChannels = []string{ChannelWhatsApp, ChannelSMS, ChannelInstagram, ChannelEmail}

// Transaction types recorded in the wallet ledger
const (
	TransactionUsage      = "usage"
	TransactionPurchase   = "purchase"
	TransactionAdjustment = "adjustment"
	TransactionRefund     = "refund"
	TransactionBonus      = "bonus"
)

// Sync status values for provider-backed channel wallets
const (
	SyncSuccess = "success"
	SyncError   = "error"
)

// ChannelWallet represents a tenant's balance for one channel.
// For ai-tokens the balance is a whole token count and sync fields are unused.
type ChannelWallet struct {
	ID                  string     `json:"id" db:"id"`
	TenantID            string     `json:"tenant_id" db:"tenant_id"`
	ChannelType         string     `json:"channel_type" db:"channel_type"`
	Balance             float64    `json:"balance" db:"balance"`
	Currency            string     `json:"currency" db:"currency"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	LowBalanceThreshold float64    `json:"low_balance_threshold" db:"low_balance_threshold"`
	SyncStatus          string     `json:"sync_status" db:"sync_status"`
	SyncError           *string    `json:"sync_error,omitempty" db:"sync_error"`
	LastSyncedAt        *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	Metadata            JSONB      `json:"metadata,omitempty" db:"metadata"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// IsLowBalance reports whether the wallet is at or below its alert threshold.
func (w *ChannelWallet) IsLowBalance() bool {
	return w.LowBalanceThreshold > 0 && w.Balance <= w.LowBalanceThreshold
}

// WalletTransaction is one append-only ledger entry. Usage amounts are
// negative, credits positive.
type WalletTransaction struct {
	ID              string    `json:"id" db:"id"`
	WalletID        string    `json:"wallet_id" db:"wallet_id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	Amount          float64   `json:"amount" db:"amount"`
	BalanceAfter    float64   `json:"balance_after" db:"balance_after"`
	TransactionType string    `json:"transaction_type" db:"transaction_type"`
	Description     string    `json:"description" db:"description"`
	ReferenceID     *string   `json:"reference_id,omitempty" db:"reference_id"`
	OperationType   *string   `json:"operation_type,omitempty" db:"operation_type"`
	OperationID     *string   `json:"operation_id,omitempty" db:"operation_id"`
	Metadata        JSONB     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// ChannelBalance is a provider-reported balance snapshot.
type ChannelBalance struct {
	ChannelType string    `json:"channel_type"`
	Balance     float64   `json:"balance"`
	Currency    string    `json:"currency"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// MessageRecord is one row of message telemetry used for usage analytics.
type MessageRecord struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	ChannelType    string    `json:"channel_type" db:"channel_type"`
	MessageType    string    `json:"message_type" db:"message_type"`
	SenderType     string    `json:"sender_type" db:"sender_type"`
	DeliveryStatus string    `json:"delivery_status" db:"delivery_status"`
	HasAttachments bool      `json:"has_attachments" db:"has_attachments"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Message telemetry enums
const (
	MessageTypeText = "text"
	MessageTypeMMS  = "mms"

	SenderAgent    = "agent"
	SenderBot      = "bot"
	SenderCustomer = "customer"

	DeliveryDelivered = "delivered"
	DeliverySent      = "sent"
	DeliveryFailed    = "failed"
)
