package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"trading-assistant/internal/transport"
)

func TestQuoteCacheKeepsLatest(t *testing.T) {
	c := NewQuoteCache()
	now := time.Now()
	c.Set(transport.Quote{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1002, Timestamp: now})
	c.Set(transport.Quote{Symbol: "EURUSD", Bid: 1.2, Ask: 1.2002, Timestamp: now})

	q, ok := c.Get("EURUSD")
	if !ok || q.Bid != 1.2 {
		t.Fatalf("Get=%+v ok=%v", q, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("Len=%d", c.Len())
	}
}

func TestQuoteCacheConcurrentWriters(t *testing.T) {
	c := NewQuoteCache()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set(transport.Quote{Symbol: fmt.Sprintf("SYM%d", i), Bid: float64(j)})
			}
		}(i)
	}
	wg.Wait()
	snap := c.Snapshot()
	if len(snap) != 32 {
		t.Fatalf("snapshot len=%d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Symbol > snap[i].Symbol {
			t.Fatalf("snapshot not sorted")
		}
	}
}

func TestQuoteCacheCleanup(t *testing.T) {
	c := NewQuoteCache()
	now := time.Now()
	c.Set(transport.Quote{Symbol: "OLD", Timestamp: now.Add(-time.Hour)})
	c.Set(transport.Quote{Symbol: "NEW", Timestamp: now})
	if n := c.Cleanup(now, time.Minute); n != 1 {
		t.Fatalf("removed=%d", n)
	}
	if _, ok := c.Get("OLD"); ok {
		t.Fatalf("OLD should be removed")
	}
}
