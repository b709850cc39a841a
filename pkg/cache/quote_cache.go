package cache

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"trading-assistant/internal/transport"
)

const numShards = 16

// QuoteCache keeps the newest quote per symbol, sharded to keep lock contention low
// when many symbols tick at once.
type QuoteCache struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]transport.Quote
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	c := &QuoteCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]transport.Quote)}
	}
	return c
}

func (c *QuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores q as the latest quote for its symbol.
func (c *QuoteCache) Set(q transport.Quote) {
	shard := c.getShard(q.Symbol)
	shard.mu.Lock()
	shard.items[q.Symbol] = q
	shard.mu.Unlock()
}

// Get retrieves the latest quote for a symbol.
func (c *QuoteCache) Get(symbol string) (transport.Quote, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	q, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return q, ok
}

// Age returns how long ago the latest quote for symbol arrived.
func (c *QuoteCache) Age(symbol string, now time.Time) (time.Duration, bool) {
	q, ok := c.Get(symbol)
	if !ok {
		return 0, false
	}
	return now.Sub(q.Timestamp), true
}

func (c *QuoteCache) Delete(symbol string) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	delete(shard.items, symbol)
	shard.mu.Unlock()
}

// Len returns total items across all shards.
func (c *QuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Snapshot returns all cached quotes sorted by symbol.
func (c *QuoteCache) Snapshot() []transport.Quote {
	var out []transport.Quote
	for _, shard := range c.shards {
		shard.mu.RLock()
		for _, q := range shard.items {
			out = append(out, q)
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Cleanup removes quotes older than maxAge.
func (c *QuoteCache) Cleanup(now time.Time, maxAge time.Duration) int {
	removed := 0
	cutoff := now.Add(-maxAge)
	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, q := range shard.items {
			if q.Timestamp.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
