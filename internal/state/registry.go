// Package state keeps the authoritative view of open positions.
package state

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"trading-assistant/internal/events"
	"trading-assistant/internal/transport"
)

// volumeEpsilon treats float residue after partial closes as fully closed.
const volumeEpsilon = 1e-9

// Registry owns the open positions. A position whose volume reaches zero is
// removed in the same step.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]transport.Position
	lastSeq   uint64
	bus       *events.Bus
	log       zerolog.Logger
}

func NewRegistry(bus *events.Bus, log zerolog.Logger) *Registry {
	return &Registry{
		positions: make(map[string]transport.Position),
		bus:       bus,
		log:       log.With().Str("component", "positions").Logger(),
	}
}

// Reload replaces every position with the host's list.
func (r *Registry) Reload(list []transport.Position) {
	next := make(map[string]transport.Position, len(list))
	for _, p := range list {
		if p.ID == "" || p.Volume <= volumeEpsilon {
			continue
		}
		next[p.ID] = p
	}
	r.mu.Lock()
	r.positions = next
	r.mu.Unlock()
	r.publish()
}

// ResetSequence forgets the last applied event sequence; used when a new host
// session starts numbering again.
func (r *Registry) ResetSequence() {
	r.mu.Lock()
	r.lastSeq = 0
	r.mu.Unlock()
}

// Apply folds one execution event into the registry. Events with a sequence
// number at or below the last applied one are ignored; Seq 0 means unsequenced.
// Volume on the event is the remaining position volume.
func (r *Registry) Apply(ev transport.ExecutionEvent) bool {
	r.mu.Lock()
	if ev.Seq != 0 {
		if ev.Seq <= r.lastSeq {
			r.mu.Unlock()
			r.log.Debug().Uint64("seq", ev.Seq).Msg("stale execution event ignored")
			return false
		}
		r.lastSeq = ev.Seq
	}

	changed := false
	switch ev.Kind {
	case transport.ExecFill:
		if ev.Volume <= volumeEpsilon {
			break
		}
		p, ok := r.positions[ev.PositionID]
		if !ok {
			p = transport.Position{
				ID:         ev.PositionID,
				Symbol:     ev.Symbol,
				Side:       ev.Side,
				EntryPrice: ev.Price,
				OpenTime:   ev.Time,
			}
		}
		p.Volume = ev.Volume
		p.CurrentPrice = ev.Price
		p.StopLoss = ev.StopLoss
		p.TakeProfit = ev.TakeProfit
		r.positions[p.ID] = p
		changed = true
	case transport.ExecClose, transport.ExecPartialClose:
		changed = r.setVolumeLocked(ev.PositionID, ev.Volume)
	case transport.ExecModify:
		changed = r.setLevelsLocked(ev.PositionID, ev.StopLoss, ev.TakeProfit)
	}
	r.mu.Unlock()

	if changed {
		r.publish()
	}
	return changed
}

// ApplyClose records a close result: remaining 0 removes the position.
func (r *Registry) ApplyClose(id string, remaining float64) bool {
	r.mu.Lock()
	changed := r.setVolumeLocked(id, remaining)
	r.mu.Unlock()
	if changed {
		r.publish()
	}
	return changed
}

// ApplyModify records new protective levels; 0 clears a level.
func (r *Registry) ApplyModify(id string, stopLoss, takeProfit float64) bool {
	r.mu.Lock()
	changed := r.setLevelsLocked(id, stopLoss, takeProfit)
	r.mu.Unlock()
	if changed {
		r.publish()
	}
	return changed
}

func (r *Registry) setVolumeLocked(id string, remaining float64) bool {
	p, ok := r.positions[id]
	if !ok {
		return false
	}
	if remaining <= volumeEpsilon {
		delete(r.positions, id)
		return true
	}
	p.Volume = remaining
	r.positions[id] = p
	return true
}

func (r *Registry) setLevelsLocked(id string, stopLoss, takeProfit float64) bool {
	p, ok := r.positions[id]
	if !ok {
		return false
	}
	p.StopLoss = stopLoss
	p.TakeProfit = takeProfit
	r.positions[id] = p
	return true
}

func (r *Registry) Get(id string) (transport.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[id]
	return p, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// List returns the positions ordered by open time, then id.
func (r *Registry) List() []transport.Position {
	r.mu.RLock()
	out := make([]transport.Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].OpenTime.Before(out[j].OpenTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Filter returns positions matching pred.
func (r *Registry) Filter(pred func(transport.Position) bool) []transport.Position {
	var out []transport.Position
	for _, p := range r.List() {
		if pred == nil || pred(p) {
			out = append(out, p)
		}
	}
	return out
}

// BatchResult aggregates a multi-position close.
type BatchResult struct {
	Matched   int               `json:"matched"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// CloseFunc closes one position fully.
type CloseFunc func(ctx context.Context, id string) error

// CloseAllMatching closes each matching position in turn. A failure does not
// stop the batch; every match is attempted and the result aggregates them.
func (r *Registry) CloseAllMatching(ctx context.Context, pred func(transport.Position) bool, closeFn CloseFunc) BatchResult {
	targets := r.Filter(pred)
	res := BatchResult{Matched: len(targets)}
	for _, p := range targets {
		if err := closeFn(ctx, p.ID); err != nil {
			res.Failed++
			if res.Errors == nil {
				res.Errors = make(map[string]string)
			}
			res.Errors[p.ID] = err.Error()
			continue
		}
		res.Succeeded++
	}
	return res
}

func (r *Registry) publish() {
	if r.bus == nil {
		return
	}
	r.bus.Positions.Publish(events.PositionsChanged{Positions: r.List()})
}
