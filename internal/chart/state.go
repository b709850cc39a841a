package chart

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"trading-assistant/internal/transport"
)

const (
	SeriesPrice  = "price"
	SeriesVolume = "volume"
)

// Snapshot is a copy of every series of the active chart.
type Snapshot struct {
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Series    map[string][]Point `json:"series"`
}

// State owns the price, volume and indicator series of the active chart.
type State struct {
	mu        sync.RWMutex
	max       int
	symbol    string
	timeframe string
	price     *Series
	volume    *Series
	overlays  map[string]*Series
	dirty     atomic.Bool
}

// NewState creates an empty chart bounded to maxPoints per series.
func NewState(maxPoints int) *State {
	return &State{
		max:      maxPoints,
		price:    NewSeries(maxPoints),
		volume:   NewSeries(maxPoints),
		overlays: make(map[string]*Series),
	}
}

// MaxPoints returns the per-series bound.
func (s *State) MaxPoints() int { return s.max }

func (s *State) AppendPrice(p Point) {
	s.mu.Lock()
	s.price.Append(p)
	s.mu.Unlock()
	s.dirty.Store(true)
}

func (s *State) AppendVolume(p Point) {
	s.mu.Lock()
	s.volume.Append(p)
	s.mu.Unlock()
	s.dirty.Store(true)
}

// ReplaceSeries installs pts as the overlay identified by name, dropping the old line.
func (s *State) ReplaceSeries(name string, pts []Point) error {
	if name == SeriesPrice || name == SeriesVolume {
		return fmt.Errorf("chart: %q is not an overlay", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ser, ok := s.overlays[name]
	if !ok {
		ser = NewSeries(s.max)
		s.overlays[name] = ser
	}
	ser.Replace(pts)
	return nil
}

// Reset clears all series and makes symbol/timeframe active.
func (s *State) Reset(symbol, timeframe string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbol = symbol
	s.timeframe = timeframe
	s.price.clear()
	s.volume.clear()
	s.overlays = make(map[string]*Series)
	s.dirty.Store(true)
}

// SetActive switches the chart to symbol/timeframe and reloads history from src.
// A nil src leaves the chart empty until live quotes arrive.
func (s *State) SetActive(ctx context.Context, symbol, timeframe string, src transport.HistorySource) error {
	s.Reset(symbol, timeframe)
	return s.LoadHistory(ctx, symbol, timeframe, src)
}

// LoadHistory places historical candles ahead of any live points already in
// the series. It does nothing if symbol/timeframe is no longer active.
func (s *State) LoadHistory(ctx context.Context, symbol, timeframe string, src transport.HistorySource) error {
	if src == nil {
		return nil
	}
	candles, err := src.History(ctx, symbol, timeframe, s.max)
	if err != nil {
		return fmt.Errorf("load history %s %s: %w", symbol, timeframe, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// a concurrent switch wins over this load
	if s.symbol != symbol || s.timeframe != timeframe {
		return nil
	}
	live := s.price.Points()
	liveVol := s.volume.Points()
	var first time.Time
	if len(live) > 0 {
		first = live[0].Time
	}
	price := make([]Point, 0, len(candles)+len(live))
	volume := make([]Point, 0, len(candles)+len(liveVol))
	for _, c := range candles {
		if !first.IsZero() && !c.Time.Before(first) {
			break
		}
		price = append(price, Point{Time: c.Time, Value: c.Close})
		volume = append(volume, Point{Time: c.Time, Value: c.Volume})
	}
	s.price.Replace(append(price, live...))
	s.volume.Replace(append(volume, liveVol...))
	s.dirty.Store(true)
	return nil
}

// Active returns the active symbol and timeframe.
func (s *State) Active() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbol, s.timeframe
}

func (s *State) ActiveSymbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbol
}

// Len returns the length of the named series, or -1 if it does not exist.
func (s *State) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch name {
	case SeriesPrice:
		return s.price.Len()
	case SeriesVolume:
		return s.volume.Len()
	}
	if ser, ok := s.overlays[name]; ok {
		return ser.Len()
	}
	return -1
}

// Snapshot copies all series.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Symbol:    s.symbol,
		Timeframe: s.timeframe,
		Series:    make(map[string][]Point, len(s.overlays)+2),
	}
	out.Series[SeriesPrice] = s.price.Points()
	out.Series[SeriesVolume] = s.volume.Points()
	for name, ser := range s.overlays {
		out.Series[name] = ser.Points()
	}
	return out
}

// Overlays lists overlay names in sorted order.
func (s *State) Overlays() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.overlays))
	for n := range s.overlays {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ConsumeDirty reports and clears the redraw flag.
func (s *State) ConsumeDirty() bool { return s.dirty.Swap(false) }
