package chart

import (
	"context"
	"time"
)

// Redrawer coalesces chart updates: any number of appends within one interval
// cause at most one render call.
type Redrawer struct {
	state    *State
	interval time.Duration
	render   func(Snapshot)
}

// NewRedrawer creates a redrawer invoking render with a fresh snapshot when dirty.
func NewRedrawer(state *State, interval time.Duration, render func(Snapshot)) *Redrawer {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Redrawer{state: state, interval: interval, render: render}
}

// Run blocks until ctx is done.
func (r *Redrawer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick renders once if the chart changed since the last render.
func (r *Redrawer) Tick() bool {
	if !r.state.ConsumeDirty() {
		return false
	}
	r.render(r.state.Snapshot())
	return true
}
