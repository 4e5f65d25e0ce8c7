// Package router resolves an inbound (api_key, model) pair to the upstream
// channel that should handle the request: a direct API-key-to-channel
// mapping takes priority, falling back to model-pattern smart-routing rules
// with pluggable load-balancing strategies and a failover list.
package router

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/howard-nolan/llmgateway/internal/identify"
)

// Peer is the network identity of an upstream.
type Peer struct {
	Host string
	Port uint16
	TLS  bool
}

// Channel is a configured upstream: a peer plus the dialect it speaks, a
// load-balancing weight, an enabled flag, and the set of API-key hashes
// routed directly to it. Created at configuration load, mutated only
// through the Cache's administrative operations.
type Channel struct {
	ID           string
	Name         string
	Peer         Peer
	Dialect      identify.Dialect
	Weight       uint32
	Enabled      bool
	APIKeyHashes map[string]struct{}
}

func (c Channel) clone() Channel {
	hashes := make(map[string]struct{}, len(c.APIKeyHashes))
	for h := range c.APIKeyHashes {
		hashes[h] = struct{}{}
	}
	c.APIKeyHashes = hashes
	return c
}

// Strategy selects one channel among a rule's primary channels.
type Strategy string

const (
	RoundRobin       Strategy = "round_robin"
	WeightedRandom   Strategy = "weighted_random"
	LeastConnections Strategy = "least_connections"
	FailoverOnly     Strategy = "failover_only"
)

// SmartRoutingRule matches a model name against an ordered list of suffix
// globs and, on match, selects among primary channels (falling back to
// fallback channels if the selected primary is disabled).
type SmartRoutingRule struct {
	ID                 string
	ModelPatterns      []string
	PrimaryChannelIDs  []string
	Strategy           Strategy
	FallbackChannelIDs []string
	Enabled            bool
}

// HashAPIKey returns the lowercase hex SHA-256 digest of a raw API key.
// Raw keys are never persisted; only this digest is.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Cache is the process-wide routing state: the API-key-hash index, the
// channel set, and the ordered rule list. Guarded by a single
// readers-writer lock — read paths (SmartRoute, FindChannelByAPIKey)
// acquire shared access; administrative operations acquire exclusive
// access. The round-robin counter lives outside the lock as a plain
// atomic, since it needs no coordination with the rest of the state.
type Cache struct {
	mu               sync.RWMutex
	keyHashToChannel map[string]string
	channels         map[string]Channel
	rules            []SmartRoutingRule
	rrCounter        uint64
}

// NewCache returns an empty, ready-to-use Cache.
func NewCache() *Cache {
	return &Cache{
		keyHashToChannel: make(map[string]string),
		channels:         make(map[string]Channel),
	}
}

// AddChannel registers a channel, replacing any existing channel with the
// same id.
func (c *Cache) AddChannel(ch Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch.APIKeyHashes == nil {
		ch.APIKeyHashes = make(map[string]struct{})
	}
	c.channels[ch.ID] = ch.clone()
}

// SetRules replaces the ordered rule list wholesale — used at configuration
// load and by tests; rules are otherwise immutable once installed.
func (c *Cache) SetRules(rules []SmartRoutingRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append([]SmartRoutingRule(nil), rules...)
}

// AddAPIKeyMapping hashes rawKey and routes it directly to channelID,
// maintaining the bidirectional consistency invariant between the
// key-hash index and the channel's own hash set.
func (c *Cache) AddAPIKeyMapping(rawKey, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.channels[channelID]
	if !ok {
		return fmt.Errorf("unknown channel %q", channelID)
	}

	hash := HashAPIKey(rawKey)
	c.keyHashToChannel[hash] = channelID
	ch.APIKeyHashes[hash] = struct{}{}
	c.channels[channelID] = ch
	return nil
}

// RemoveAPIKeyMapping removes rawKey's direct routing, if any.
func (c *Cache) RemoveAPIKeyMapping(rawKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := HashAPIKey(rawKey)
	channelID, ok := c.keyHashToChannel[hash]
	if !ok {
		return
	}
	delete(c.keyHashToChannel, hash)
	if ch, ok := c.channels[channelID]; ok {
		delete(ch.APIKeyHashes, hash)
		c.channels[channelID] = ch
	}
}

// SetChannelEnabled flips a channel's enabled flag.
func (c *Cache) SetChannelEnabled(id string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return fmt.Errorf("unknown channel %q", id)
	}
	ch.Enabled = enabled
	c.channels[id] = ch
	return nil
}

// UpdateChannelWeight sets a channel's load-balancing weight.
func (c *Cache) UpdateChannelWeight(id string, weight uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return fmt.Errorf("unknown channel %q", id)
	}
	ch.Weight = weight
	c.channels[id] = ch
	return nil
}

// Stats returns the current key-hash count, channel count, and rule count.
func (c *Cache) Stats() (keys, channels, rules int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keyHashToChannel), len(c.channels), len(c.rules)
}

// FindChannelByAPIKey looks up the channel a raw API key routes to
// directly, without consulting smart-routing rules.
func (c *Cache) FindChannelByAPIKey(rawKey string) (Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hash := HashAPIKey(rawKey)
	channelID, ok := c.keyHashToChannel[hash]
	if !ok {
		return Channel{}, false
	}
	ch, ok := c.channels[channelID]
	if !ok {
		return Channel{}, false
	}
	return ch.clone(), true
}

// SmartRoute resolves (api_key?, model?) to a channel. A present api_key
// whose direct mapping resolves to an enabled channel short-circuits
// pattern matching entirely. Otherwise (no api_key, an unmapped one, or
// one mapped to a disabled channel) model-pattern matching against the
// rule list runs.
func (c *Cache) SmartRoute(apiKey, model string) (Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if apiKey != "" {
		hash := HashAPIKey(apiKey)
		if channelID, ok := c.keyHashToChannel[hash]; ok {
			if ch, ok := c.channels[channelID]; ok && ch.Enabled {
				return ch.clone(), true
			}
		}
	}

	if model == "" {
		return Channel{}, false
	}

	for _, rule := range c.rules {
		if !rule.Enabled || !rule.matches(model) {
			continue
		}
		if ch, ok := c.selectFromRule(rule); ok {
			return ch.clone(), true
		}
		return Channel{}, false
	}

	return Channel{}, false
}

func (r SmartRoutingRule) matches(model string) bool {
	for _, pattern := range r.ModelPatterns {
		if matchesPattern(pattern, model) {
			return true
		}
	}
	return false
}

func matchesPattern(pattern, model string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == model
}

// selectFromRule picks a primary channel per the rule's strategy, falling
// over to fallback_channel_ids (via FailoverOnly) if the chosen primary
// turns out to be disabled. Callers must hold at least a read lock.
func (c *Cache) selectFromRule(rule SmartRoutingRule) (Channel, bool) {
	primaries := c.resolveChannels(rule.PrimaryChannelIDs)

	var chosen Channel
	var picked bool

	switch rule.Strategy {
	case RoundRobin:
		if len(primaries) > 0 {
			idx := atomic.AddUint64(&c.rrCounter, 1) - 1
			chosen = primaries[int(idx%uint64(len(primaries)))]
			picked = true
		}
	case WeightedRandom:
		chosen, picked = weightedPick(primaries)
	case LeastConnections:
		chosen, picked = firstEnabled(primaries)
	case FailoverOnly:
		chosen, picked = firstEnabled(primaries)
	default:
		chosen, picked = firstEnabled(primaries)
	}

	if picked && chosen.Enabled {
		return chosen, true
	}

	fallbacks := c.resolveChannels(rule.FallbackChannelIDs)
	return firstEnabled(fallbacks)
}

func (c *Cache) resolveChannels(ids []string) []Channel {
	out := make([]Channel, 0, len(ids))
	for _, id := range ids {
		if ch, ok := c.channels[id]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func firstEnabled(channels []Channel) (Channel, bool) {
	for _, ch := range channels {
		if ch.Enabled {
			return ch, true
		}
	}
	return Channel{}, false
}

// weightedPick sums the weight of enabled channels and draws uniformly in
// [0, total), walking the enabled channels accumulating weight. If no
// enabled channel carries weight, it degrades to uniform random over the
// whole candidate list (which may then fail the enabled check upstream,
// triggering fallback) per the zero-total-weight design decision.
func weightedPick(channels []Channel) (Channel, bool) {
	if len(channels) == 0 {
		return Channel{}, false
	}

	var total uint64
	for _, ch := range channels {
		if ch.Enabled {
			total += uint64(ch.Weight)
		}
	}

	if total == 0 {
		return channels[rand.Intn(len(channels))], true
	}

	draw := uint64(rand.Int63n(int64(total)))
	var acc uint64
	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}
		acc += uint64(ch.Weight)
		if draw < acc {
			return ch, true
		}
	}
	// Unreachable in practice (rounding only), but keep the contract total.
	return firstEnabled(channels)
}
