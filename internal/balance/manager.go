// Package balance holds the latest account snapshot.
package balance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/events"
	"trading-assistant/internal/transport"
)

// AccountSource fetches the account from the host.
type AccountSource interface {
	GetAccount(ctx context.Context) (transport.AccountSnapshot, error)
}

// Manager keeps the account snapshot. Updates replace it wholesale; it is
// never patched field by field.
type Manager struct {
	source       AccountSource
	syncInterval time.Duration
	ready        func() bool
	bus          *events.Bus
	log          zerolog.Logger

	mu       sync.RWMutex
	snapshot transport.AccountSnapshot
	lastSync time.Time
}

// NewManager creates a balance manager. ready gates periodic syncs, typically
// on the connection being up; nil means always.
func NewManager(source AccountSource, syncInterval time.Duration, ready func() bool, bus *events.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		source:       source,
		syncInterval: syncInterval,
		ready:        ready,
		bus:          bus,
		log:          log.With().Str("component", "balance").Logger(),
	}
}

// Start begins periodic account sync as a fallback to pushed updates.
func (m *Manager) Start(ctx context.Context) {
	if m.source == nil || m.syncInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if m.ready != nil && !m.ready() {
					continue
				}
				if err := m.Sync(ctx); err != nil {
					m.log.Warn().Err(err).Msg("account sync failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches the account from the host and replaces the snapshot.
func (m *Manager) Sync(ctx context.Context) error {
	if m.source == nil {
		return nil
	}
	acc, err := m.source.GetAccount(ctx)
	if err != nil {
		return transport.Wrap("account", err)
	}
	m.Replace(acc)
	return nil
}

// Replace installs acc as the current snapshot and publishes it.
func (m *Manager) Replace(acc transport.AccountSnapshot) {
	if acc.UpdatedAt.IsZero() {
		acc.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	m.snapshot = acc
	m.lastSync = time.Now()
	m.mu.Unlock()

	m.log.Debug().Float64("balance", acc.Balance).Float64("equity", acc.Equity).Float64("free_margin", acc.FreeMargin).Msg("account updated")
	if m.bus != nil {
		m.bus.Account.Publish(events.AccountChanged{Account: acc})
	}
}

// Snapshot returns the current account.
func (m *Manager) Snapshot() transport.AccountSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// LastSync returns when the snapshot was last replaced.
func (m *Manager) LastSync() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}
