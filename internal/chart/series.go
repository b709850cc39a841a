// Package chart holds the bounded time series shown by the active chart.
package chart

import "time"

// Point is one immutable sample on a series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Series is an append-only line bounded to max points. Overflow evicts from the head.
type Series struct {
	max    int
	points []Point
}

// NewSeries creates an empty series holding at most max points.
func NewSeries(max int) *Series {
	if max < 1 {
		max = 1
	}
	return &Series{max: max, points: make([]Point, 0, max)}
}

// Append adds p at the tail and evicts from the head while over the bound.
func (s *Series) Append(p Point) {
	s.points = append(s.points, p)
	if over := len(s.points) - s.max; over > 0 {
		// compact in place so the backing array does not grow without bound
		n := copy(s.points, s.points[over:])
		s.points = s.points[:n]
	}
}

// Replace swaps the contents for pts, keeping only the newest max points.
func (s *Series) Replace(pts []Point) {
	if len(pts) > s.max {
		pts = pts[len(pts)-s.max:]
	}
	s.points = append(s.points[:0], pts...)
}

func (s *Series) Len() int { return len(s.points) }

// Points returns a copy of the series contents.
func (s *Series) Points() []Point {
	return append([]Point(nil), s.points...)
}

// Values returns the series values in order.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Value
	}
	return out
}

// Last returns the newest point.
func (s *Series) Last() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

func (s *Series) clear() { s.points = s.points[:0] }
