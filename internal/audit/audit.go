package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/walidhousni/glavito-sub004/pkg/kafka"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
)

const auditTopic = "billing.audit"

// Audit event types
const (
	EventCreditsPurchased = "credits_purchased"
	EventUsageRecorded    = "usage_recorded"
	EventUsageRefunded    = "usage_refunded"
	EventTokensDeducted   = "tokens_deducted"
	EventTokensAdded      = "tokens_added"
	EventBalanceSynced    = "balance_synced"
	EventSyncFailed       = "sync_failed"
)

// Event is one billing audit record published after a ledger operation commits.
type Event struct {
	EventID     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	TenantID    string                 `json:"tenant_id"`
	ChannelType string                 `json:"channel_type,omitempty"`
	Amount      float64                `json:"amount,omitempty"`
	ReferenceID string                 `json:"reference_id,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Producer is the subset of the Kafka producer the emitter needs.
type Producer interface {
	ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error
}

// Emitter publishes audit events. Emission is strictly best-effort:
// failures are logged and swallowed, never surfaced to the ledger caller.
type Emitter struct {
	producer Producer
	logger   logging.Logger
}

// NewEmitter creates an audit emitter. A nil producer disables emission.
func NewEmitter(producer Producer, logger logging.Logger) *Emitter {
	return &Emitter{producer: producer, logger: logger}
}

var _ Producer = (*kafka.KafkaProducer)(nil)

// Emit publishes one audit event. Safe to call on a nil emitter or with no
// producer configured.
func (e *Emitter) Emit(eventType, tenantID, channelType string, amount float64, referenceID string, details map[string]interface{}) {
	if e == nil || e.producer == nil || tenantID == "" {
		return
	}

	event := Event{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		TenantID:    tenantID,
		ChannelType: channelType,
		Amount:      amount,
		ReferenceID: referenceID,
		Details:     details,
		Timestamp:   time.Now(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		e.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to marshal audit event")
		return
	}

	headers := map[string]string{
		"event_type": eventType,
		"tenant_id":  tenantID,
	}
	if err := e.producer.ProduceMessage(auditTopic, []byte(event.EventID), value, headers); err != nil {
		e.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to emit audit event")
	}
}
