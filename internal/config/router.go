package config

import (
	"fmt"

	"github.com/howard-nolan/llmgateway/internal/identify"
	"github.com/howard-nolan/llmgateway/internal/router"
)

// BuildRouter translates the configured channel and routing-rule list into
// a ready-to-use router.Cache: channels first (so rules can reference
// their ids), then the direct API-key mappings, then the rule list itself.
func (c *Config) BuildRouter() (*router.Cache, error) {
	cache := router.NewCache()

	for _, ch := range c.Channels {
		cache.AddChannel(router.Channel{
			ID:      ch.ID,
			Name:    ch.Name,
			Peer:    router.Peer{Host: ch.Host, Port: ch.Port, TLS: ch.TLS},
			Dialect: identify.Dialect(ch.Dialect),
			Weight:  ch.Weight,
			Enabled: ch.Enabled,
		})
		for _, key := range ch.APIKeys {
			if key == "" {
				continue
			}
			if err := cache.AddAPIKeyMapping(key, ch.ID); err != nil {
				return nil, fmt.Errorf("channel %q: %w", ch.ID, err)
			}
		}
	}

	rules := make([]router.SmartRoutingRule, 0, len(c.RoutingRules))
	for _, r := range c.RoutingRules {
		rules = append(rules, router.SmartRoutingRule{
			ID:                 r.ID,
			ModelPatterns:      r.ModelPatterns,
			PrimaryChannelIDs:  r.PrimaryChannelIDs,
			Strategy:           router.Strategy(r.Strategy),
			FallbackChannelIDs: r.FallbackChannelIDs,
			Enabled:            r.Enabled,
		})
	}
	cache.SetRules(rules)

	return cache, nil
}

// DefaultUpstreamPeer returns the process default peer the pipeline dials
// when routing finds no match — always OpenAI-dialect, per its own
// configuration section.
func (c *Config) DefaultUpstreamPeer() router.Peer {
	return router.Peer{
		Host: c.DefaultPeer.OpenAIDomain,
		Port: c.DefaultPeer.OpenAIPort,
		TLS:  c.DefaultPeer.OpenAITLS,
	}
}
