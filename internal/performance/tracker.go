package performance

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Journal persists trade records. Append must not block on storage.
type Journal interface {
	Append(rec TradeRecord) error
	Load(ctx context.Context) ([]TradeRecord, error)
}

// Tracker owns the in-memory record log and its incremental Stats.
type Tracker struct {
	mu      sync.RWMutex
	records []TradeRecord
	stats   Stats
	journal Journal
	log     zerolog.Logger
}

// NewTracker returns an empty tracker. journal may be nil.
func NewTracker(journal Journal, log zerolog.Logger) *Tracker {
	return &Tracker{
		journal: journal,
		log:     log.With().Str("component", "performance").Logger(),
	}
}

// Restore replaces the log with the journal contents and recomputes Stats.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.journal == nil {
		return nil
	}
	records, err := t.journal.Load(ctx)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	stats := Replay(records)

	t.mu.Lock()
	t.records = records
	t.stats = stats
	t.mu.Unlock()

	t.log.Info().Int("records", len(records)).Msg("trade journal restored")
	return nil
}

// Record appends rec to the log and updates Stats in O(1). A journal failure
// is logged; the in-memory log stays authoritative for the session.
func (t *Tracker) Record(rec TradeRecord) {
	t.mu.Lock()
	t.records = append(t.records, rec)
	t.stats.Add(rec)
	t.mu.Unlock()

	if t.journal == nil {
		return
	}
	if err := t.journal.Append(rec); err != nil {
		t.log.Error().Err(err).Str("record_id", rec.ID).Msg("journal append failed")
	}
}

// Stats returns the current aggregates.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Records returns up to limit of the newest records, oldest first. limit <= 0
// returns the whole log.
func (t *Tracker) Records(limit int) []TradeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src := t.records
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]TradeRecord, len(src))
	copy(out, src)
	return out
}

// Len returns the number of records.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
