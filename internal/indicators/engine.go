package indicators

import (
	"fmt"
	"sync"

	"trading-assistant/internal/chart"
)

// Kinds accepted by Spec.
const (
	KindSMA       = "sma"
	KindEMA       = "ema"
	KindBollinger = "bollinger"
	KindRSI       = "rsi"
)

// Spec configures one named indicator line.
type Spec struct {
	Name   string
	Kind   string
	Period int
	K      float64
}

func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("indicator name is empty")
	}
	if s.Period < 1 {
		return fmt.Errorf("indicator %s: period must be positive", s.Name)
	}
	switch s.Kind {
	case KindSMA, KindEMA, KindRSI:
	case KindBollinger:
		if s.K <= 0 {
			return fmt.Errorf("indicator %s: bollinger k must be positive", s.Name)
		}
	default:
		return fmt.Errorf("indicator %s: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// Lines returns the series names produced by the spec.
func (s Spec) Lines() []string {
	if s.Kind == KindBollinger {
		return []string{s.Name + "_upper", s.Name + "_middle", s.Name + "_lower"}
	}
	return []string{s.Name}
}

// Compute re-derives every configured line from the price points.
func Compute(specs []Spec, points []chart.Point) map[string][]chart.Point {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	out := make(map[string][]chart.Point, len(specs))
	for _, s := range specs {
		switch s.Kind {
		case KindSMA:
			out[s.Name] = align(points, SMA(values, s.Period))
		case KindEMA:
			out[s.Name] = align(points, EMA(values, s.Period))
		case KindRSI:
			out[s.Name] = align(points, RSISeries(values, s.Period))
		case KindBollinger:
			b := Bollinger(values, s.Period, s.K)
			out[s.Name+"_upper"] = align(points, b.Upper)
			out[s.Name+"_middle"] = align(points, b.Middle)
			out[s.Name+"_lower"] = align(points, b.Lower)
		}
	}
	return out
}

// align stamps trailing-window outputs with the time of the last input in each window.
func align(points []chart.Point, vals []float64) []chart.Point {
	if len(vals) == 0 {
		return nil
	}
	offset := len(points) - len(vals)
	out := make([]chart.Point, len(vals))
	for j, v := range vals {
		out[j] = chart.Point{Time: points[offset+j].Time, Value: v}
	}
	return out
}

type tracker struct {
	sma   map[string]*RollingSMA
	ema   map[string]*RollingEMA
	bands map[string]*RollingBands
	rsi   []float64
}

// Engine maintains per-symbol running accumulators for live indicator values.
type Engine struct {
	mu      sync.Mutex
	specs   []Spec
	symbols map[string]*tracker
	latest  map[string]map[string]float64
	rsiMax  int
}

// NewEngine builds an engine for the given specs. Invalid specs are rejected.
func NewEngine(specs []Spec) (*Engine, error) {
	rsiMax := 0
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if s.Kind == KindRSI && s.Period+1 > rsiMax {
			rsiMax = s.Period + 1
		}
	}
	return &Engine{
		specs:   append([]Spec(nil), specs...),
		symbols: make(map[string]*tracker),
		latest:  make(map[string]map[string]float64),
		rsiMax:  rsiMax,
	}, nil
}

// Specs returns the configured indicators.
func (e *Engine) Specs() []Spec {
	return append([]Spec(nil), e.specs...)
}

func (e *Engine) trackerFor(symbol string) *tracker {
	t, ok := e.symbols[symbol]
	if ok {
		return t
	}
	t = &tracker{
		sma:   make(map[string]*RollingSMA),
		ema:   make(map[string]*RollingEMA),
		bands: make(map[string]*RollingBands),
	}
	for _, s := range e.specs {
		switch s.Kind {
		case KindSMA:
			t.sma[s.Name] = NewRollingSMA(s.Period)
		case KindEMA:
			t.ema[s.Name] = NewRollingEMA(s.Period)
		case KindBollinger:
			t.bands[s.Name] = NewRollingBands(s.Period, s.K)
		}
	}
	e.symbols[symbol] = t
	return t
}

// Update ingests a new price and returns the lines defined so far.
func (e *Engine) Update(symbol string, price float64) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.trackerFor(symbol)
	values := map[string]float64{}
	for name, r := range t.sma {
		if v, ok := r.Push(price); ok {
			values[name] = v
		}
	}
	for name, r := range t.ema {
		if v, ok := r.Push(price); ok {
			values[name] = v
		}
	}
	for name, r := range t.bands {
		if b, ok := r.Push(price); ok {
			values[name+"_upper"] = b.Upper
			values[name+"_middle"] = b.Middle
			values[name+"_lower"] = b.Lower
		}
	}
	if e.rsiMax > 0 {
		t.rsi = append(t.rsi, price)
		if len(t.rsi) > e.rsiMax {
			t.rsi = t.rsi[len(t.rsi)-e.rsiMax:]
		}
		for _, s := range e.specs {
			if s.Kind == KindRSI && len(t.rsi) >= s.Period+1 {
				values[s.Name] = RSI(t.rsi, s.Period)
			}
		}
	}
	e.latest[symbol] = values

	out := make(map[string]float64, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// Latest returns the last values computed for symbol.
func (e *Engine) Latest(symbol string) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.latest[symbol]))
	for k, v := range e.latest[symbol] {
		out[k] = v
	}
	return out
}

// Reset drops the accumulators for symbol.
func (e *Engine) Reset(symbol string) {
	e.mu.Lock()
	delete(e.symbols, symbol)
	delete(e.latest, symbol)
	e.mu.Unlock()
}
