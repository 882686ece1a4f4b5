// Package notify holds the channel adapters: SMTP email, Slack incoming
// webhooks, generic JSON webhooks, Twilio style SMS and PagerDuty.
package notify

import (
	"sort"
	"sync"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/sirupsen/logrus"
)

// Registry resolves adapters by channel type.
type Registry struct {
	mu       sync.RWMutex
	adapters map[alerting.ChannelType]alerting.ChannelAdapter
}

func NewRegistry(adapters ...alerting.ChannelAdapter) *Registry {
	r := &Registry{adapters: make(map[alerting.ChannelType]alerting.ChannelAdapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// FromConfig registers an adapter for every enabled channel.
func FromConfig(cfg config.ChannelsConfig, log *logrus.Logger) *Registry {
	r := NewRegistry()
	if cfg.Email.Enabled {
		r.Register(NewEmailAdapter(cfg.Email))
	}
	if cfg.Slack.Enabled {
		r.Register(NewSlackAdapter(cfg.Slack))
	}
	if cfg.Webhook.Enabled {
		r.Register(NewWebhookAdapter(cfg.Webhook))
	}
	if cfg.SMS.Enabled {
		r.Register(NewSMSAdapter(cfg.SMS))
	}
	if cfg.Pager.Enabled {
		r.Register(NewPagerAdapter(cfg.Pager))
	}
	log.WithField("channels", r.Channels()).Info("Notification channels registered")
	return r
}

// Register adds or replaces the adapter for its channel type.
func (r *Registry) Register(adapter alerting.ChannelAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Type()] = adapter
}

func (r *Registry) Adapter(channel alerting.ChannelType) (alerting.ChannelAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channel]
	return a, ok
}

// Channels lists registered channel types in name order.
func (r *Registry) Channels() []alerting.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]alerting.ChannelType, 0, len(r.adapters))
	for c := range r.adapters {
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}
