package pricing

import (
	"math"

	"github.com/walidhousni/glavito-sub004/pkg/models"
)

// ChannelPricing holds the static per-channel rates. PerType maps message
// types to their unit price; unmapped types fall back to the "text" price.
type ChannelPricing struct {
	PerType              map[string]float64
	MMSPrice             float64
	CarrierFee           float64
	DeliveredMultiplier  float64
	FailedRefundFraction float64
}

// Table is the immutable pricing configuration injected at startup.
type Table struct {
	channels   map[string]ChannelPricing
	tokenCosts map[string]float64
}

// NewTable builds a pricing table from explicit configuration. The maps are
// copied so callers cannot mutate the table afterwards.
func NewTable(channels map[string]ChannelPricing, tokenCosts map[string]float64) *Table {
	t := &Table{
		channels:   make(map[string]ChannelPricing, len(channels)),
		tokenCosts: make(map[string]float64, len(tokenCosts)),
	}
	for ch, cfg := range channels {
		perType := make(map[string]float64, len(cfg.PerType))
		for mt, price := range cfg.PerType {
			perType[mt] = price
		}
		cfg.PerType = perType
		t.channels[ch] = cfg
	}
	for op, cost := range tokenCosts {
		t.tokenCosts[op] = cost
	}
	return t
}

// DefaultTable returns the platform's standard rates.
func DefaultTable() *Table {
	return NewTable(
		map[string]ChannelPricing{
			models.ChannelWhatsApp: {
				PerType:              map[string]float64{"text": 0.005, "template": 0.015, "media": 0.01},
				DeliveredMultiplier:  1.0,
				FailedRefundFraction: 1.0,
			},
			models.ChannelSMS: {
				PerType:              map[string]float64{"text": 0.0075},
				MMSPrice:             0.02,
				CarrierFee:           0.001,
				DeliveredMultiplier:  1.0,
				FailedRefundFraction: 1.0,
			},
			models.ChannelInstagram: {
				PerType:              map[string]float64{"text": 0.003, "media": 0.006},
				DeliveredMultiplier:  1.0,
				FailedRefundFraction: 0,
			},
			models.ChannelEmail: {
				PerType:              map[string]float64{"text": 0.0005},
				DeliveredMultiplier:  1.0,
				FailedRefundFraction: 0,
			},
		},
		map[string]float64{
			"analysis":              10,
			"ai_analysis":           10,
			"sentiment_analysis":    3,
			"intent_classification": 3,
			"entity_extraction":     3,
			"summarization":         5,
			"reply_suggestion":      5,
			"translation":           8,
		},
	)
}

// MessageCost returns the charge for sending one message. Unknown channels
// cost 0. SMS messages with attachments are billed at the MMS rate when one
// is configured; the carrier fee applies to every SMS.
func (t *Table) MessageCost(channel, messageType string, hasAttachments bool) float64 {
	cfg, ok := t.channels[channel]
	if !ok {
		return 0
	}

	if channel == models.ChannelSMS && hasAttachments && cfg.MMSPrice > 0 {
		return cfg.MMSPrice + cfg.CarrierFee
	}

	price, ok := cfg.PerType[messageType]
	if !ok {
		price = cfg.PerType["text"]
	}
	return price + cfg.CarrierFee
}

// CarrierFee returns the per-message carrier surcharge for a channel, 0 for
// channels without one.
func (t *Table) CarrierFee(channel string) float64 {
	return t.channels[channel].CarrierFee
}

// Refund returns the amount credited back when a billed message fails
// delivery. Channels without a configured refund fraction refund nothing.
func (t *Table) Refund(channel string, originalCost float64) float64 {
	cfg, ok := t.channels[channel]
	if !ok {
		return 0
	}
	return originalCost * cfg.FailedRefundFraction
}

// AITokenCost computes the token price of an AI operation. The base rate for
// the operation type falls back to the generic "analysis" rate; content adds
// one token per 100 characters (minimum one); requesting more than one
// analysis type adds half of each type's base rate on top.
func (t *Table) AITokenCost(operationType string, contentLength int, analysisTypes []string) int64 {
	base, ok := t.tokenCosts[operationType]
	if !ok {
		base = t.tokenCosts["analysis"]
	}

	lengthCost := math.Max(1, math.Floor(float64(contentLength)/100))

	var extraCost float64
	if len(analysisTypes) > 1 {
		for _, at := range analysisTypes {
			extraCost += 0.5 * t.tokenCosts[at]
		}
	}

	return int64(math.Ceil(base + lengthCost + extraCost))
}
