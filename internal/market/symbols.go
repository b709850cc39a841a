package market

import (
	"sort"
	"sync"

	"trading-assistant/internal/transport"
)

// Catalog is the tradable symbol list received from the host.
type Catalog struct {
	mu      sync.RWMutex
	symbols map[string]transport.SymbolInfo
}

func NewCatalog() *Catalog {
	return &Catalog{symbols: make(map[string]transport.SymbolInfo)}
}

// Replace installs list as the full catalog.
func (c *Catalog) Replace(list []transport.SymbolInfo) {
	m := make(map[string]transport.SymbolInfo, len(list))
	for _, s := range list {
		m[s.Name] = s
	}
	c.mu.Lock()
	c.symbols = m
	c.mu.Unlock()
}

func (c *Catalog) Get(name string) (transport.SymbolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.symbols[name]
	return s, ok
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.symbols)
}

// List returns the catalog sorted by name.
func (c *Catalog) List() []transport.SymbolInfo {
	c.mu.RLock()
	out := make([]transport.SymbolInfo, 0, len(c.symbols))
	for _, s := range c.symbols {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
