package chart

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-assistant/internal/transport"
)

func pt(i int) Point {
	return Point{Time: time.Unix(int64(i), 0), Value: float64(i)}
}

func TestSeriesNeverExceedsBound(t *testing.T) {
	const max = 5
	s := NewSeries(max)
	for i := 0; i < 50; i++ {
		s.Append(pt(i))
		if s.Len() > max {
			t.Fatalf("len=%d after append %d, bound %d", s.Len(), i, max)
		}
	}
	vals := s.Values()
	want := []float64{45, 46, 47, 48, 49}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("values=%v, expected %v", vals, want)
		}
	}
}

func TestReplaceKeepsNewestPoints(t *testing.T) {
	s := NewSeries(3)
	s.Replace([]Point{pt(1), pt(2), pt(3), pt(4)})
	if got := s.Values(); len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("values=%v", got)
	}
}

func TestStateAppendMarksDirtyOnce(t *testing.T) {
	st := NewState(10)
	st.ConsumeDirty()
	for i := 0; i < 20; i++ {
		st.AppendPrice(pt(i))
		st.AppendVolume(Point{Time: pt(i).Time, Value: 1})
	}
	if !st.ConsumeDirty() {
		t.Fatalf("expected dirty after appends")
	}
	if st.ConsumeDirty() {
		t.Fatalf("dirty flag must be consumed once")
	}
	if st.Len(SeriesPrice) != 10 || st.Len(SeriesVolume) != 10 {
		t.Fatalf("lengths price=%d volume=%d", st.Len(SeriesPrice), st.Len(SeriesVolume))
	}
}

func TestReplaceSeriesRejectsBaseLines(t *testing.T) {
	st := NewState(10)
	if err := st.ReplaceSeries(SeriesPrice, nil); err == nil {
		t.Fatalf("expected error replacing price series")
	}
	if err := st.ReplaceSeries("sma20", []Point{pt(1)}); err != nil {
		t.Fatalf("ReplaceSeries: %v", err)
	}
	if err := st.ReplaceSeries("sma20", []Point{pt(2), pt(3)}); err != nil {
		t.Fatalf("ReplaceSeries: %v", err)
	}
	if st.Len("sma20") != 2 {
		t.Fatalf("overlay len=%d, expected 2", st.Len("sma20"))
	}
}

type historyStub struct {
	candles []transport.Candle
	err     error
	limit   int
}

func (h *historyStub) History(ctx context.Context, symbol, timeframe string, limit int) ([]transport.Candle, error) {
	h.limit = limit
	return h.candles, h.err
}

func TestSetActiveClearsAndLoadsHistory(t *testing.T) {
	st := NewState(3)
	st.AppendPrice(pt(99))
	_ = st.ReplaceSeries("ema", []Point{pt(1)})

	src := &historyStub{}
	for i := 0; i < 5; i++ {
		src.candles = append(src.candles, transport.Candle{Time: time.Unix(int64(i), 0), Close: float64(i), Volume: 10})
	}
	if err := st.SetActive(context.Background(), "GBPUSD", "M5", src); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if src.limit != 3 {
		t.Fatalf("history limit=%d, expected bound 3", src.limit)
	}
	snap := st.Snapshot()
	if snap.Symbol != "GBPUSD" || snap.Timeframe != "M5" {
		t.Fatalf("active=%s %s", snap.Symbol, snap.Timeframe)
	}
	if _, ok := snap.Series["ema"]; ok {
		t.Fatalf("overlays must be cleared on switch")
	}
	if got := snap.Series[SeriesPrice]; len(got) != 3 || got[0].Value != 2 {
		t.Fatalf("price series=%v", got)
	}
}

func TestSetActiveHistoryError(t *testing.T) {
	st := NewState(3)
	err := st.SetActive(context.Background(), "EURUSD", "M1", &historyStub{err: errors.New("boom")})
	if err == nil {
		t.Fatalf("expected history error")
	}
	if st.ActiveSymbol() != "EURUSD" {
		t.Fatalf("symbol should switch even when history fails")
	}
}

func TestLoadHistoryKeepsLivePoints(t *testing.T) {
	st := NewState(4)
	st.Reset("EURUSD", "M1")
	st.AppendPrice(Point{Time: time.Unix(3, 0), Value: 30})
	st.AppendPrice(Point{Time: time.Unix(4, 0), Value: 40})

	src := &historyStub{}
	for i := 0; i < 4; i++ {
		src.candles = append(src.candles, transport.Candle{Time: time.Unix(int64(i), 0), Close: float64(i)})
	}
	if err := st.LoadHistory(context.Background(), "EURUSD", "M1", src); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	got := st.Snapshot().Series[SeriesPrice]
	want := []float64{1, 2, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("price series=%v", got)
	}
	for i := range want {
		if got[i].Value != want[i] {
			t.Fatalf("price[%d]=%v, expected %v", i, got[i].Value, want[i])
		}
	}

	// a load for a symbol that is no longer active is discarded
	if err := st.LoadHistory(context.Background(), "GBPUSD", "M1", src); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if st.Len(SeriesPrice) != 4 || st.ActiveSymbol() != "EURUSD" {
		t.Fatalf("stale load changed the chart")
	}
}

func TestRedrawerCoalesces(t *testing.T) {
	st := NewState(10)
	st.ConsumeDirty()
	renders := 0
	r := NewRedrawer(st, time.Second, func(Snapshot) { renders++ })

	for i := 0; i < 100; i++ {
		st.AppendPrice(pt(i))
	}
	r.Tick()
	r.Tick()
	if renders != 1 {
		t.Fatalf("renders=%d, expected 1", renders)
	}
}
