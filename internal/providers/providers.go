package providers

import (
	"context"
	"fmt"

	"github.com/walidhousni/glavito-sub004/pkg/models"
)

// BalanceProvider fetches the authoritative balance for one messaging channel
// from its external billing relationship.
type BalanceProvider interface {
	Channel() string
	GetBalance(ctx context.Context) (models.ChannelBalance, error)
}

// Registry maps channel types to their balance providers.
type Registry struct {
	providers map[string]BalanceProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]BalanceProvider)}
}

// Register adds a provider for its channel, replacing any existing one.
func (r *Registry) Register(p BalanceProvider) {
	r.providers[p.Channel()] = p
}

// For returns the provider for a channel.
func (r *Registry) For(channel string) (BalanceProvider, error) {
	p, ok := r.providers[channel]
	if !ok {
		return nil, fmt.Errorf("no balance provider registered for channel %s", channel)
	}
	return p, nil
}

// Channels lists the registered channel types.
func (r *Registry) Channels() []string {
	channels := make([]string, 0, len(r.providers))
	for ch := range r.providers {
		channels = append(channels, ch)
	}
	return channels
}
