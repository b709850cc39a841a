package indicators

import "math"

// resyncEvery bounds floating point drift of the running sums: after this many
// evictions the sums are recomputed from the window.
const resyncEvery = 4096

// window is a fixed-size ring of the most recent values.
type window struct {
	buf   []float64
	next  int
	count int
}

func newWindow(n int) window { return window{buf: make([]float64, n)} }

// push stores v and returns the evicted value when the ring was full.
func (w *window) push(v float64) (old float64, evicted bool) {
	if w.count == len(w.buf) {
		old, evicted = w.buf[w.next], true
	} else {
		w.count++
	}
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	return old, evicted
}

func (w *window) full() bool { return w.count == len(w.buf) }

// RollingSMA maintains the trailing mean in O(1) per value.
type RollingSMA struct {
	period int
	win    window
	sum    float64
	evicts int
}

func NewRollingSMA(period int) *RollingSMA {
	if period < 1 {
		period = 1
	}
	return &RollingSMA{period: period, win: newWindow(period)}
}

// Push adds v and returns the mean once the window is full.
func (r *RollingSMA) Push(v float64) (float64, bool) {
	old, evicted := r.win.push(v)
	r.sum += v
	if evicted {
		r.sum -= old
		r.evicts++
		if r.evicts%resyncEvery == 0 {
			r.sum = 0
			for _, x := range r.win.buf {
				r.sum += x
			}
		}
	}
	if !r.win.full() {
		return 0, false
	}
	return r.sum / float64(r.period), true
}

// RollingEMA applies the EMA recurrence, seeded with the SMA of the first period values.
type RollingEMA struct {
	period int
	k      float64
	seen   int
	seed   float64
	value  float64
}

func NewRollingEMA(period int) *RollingEMA {
	if period < 1 {
		period = 1
	}
	return &RollingEMA{period: period, k: 2 / float64(period+1)}
}

func (r *RollingEMA) Push(v float64) (float64, bool) {
	r.seen++
	switch {
	case r.seen < r.period:
		r.seed += v
		return 0, false
	case r.seen == r.period:
		r.seed += v
		r.value = r.seed / float64(r.period)
	default:
		r.value = (v-r.value)*r.k + r.value
	}
	return r.value, true
}

// BandValue is one Bollinger sample.
type BandValue struct {
	Upper, Middle, Lower float64
}

// RollingBands tracks mean and sum of squared deviations over a sliding window.
type RollingBands struct {
	period int
	k      float64
	win    window
	mean   float64
	m2     float64
	evicts int
}

func NewRollingBands(period int, k float64) *RollingBands {
	if period < 1 {
		period = 1
	}
	return &RollingBands{period: period, k: k, win: newWindow(period)}
}

func (r *RollingBands) Push(v float64) (BandValue, bool) {
	old, evicted := r.win.push(v)
	if !evicted {
		// Welford growth phase
		n := float64(r.win.count)
		d := v - r.mean
		r.mean += d / n
		r.m2 += d * (v - r.mean)
	} else {
		prevMean := r.mean
		r.mean += (v - old) / float64(r.period)
		r.m2 += (v - old) * (v - r.mean + old - prevMean)
		r.evicts++
		if r.evicts%resyncEvery == 0 {
			r.resync()
		}
	}
	if !r.win.full() {
		return BandValue{}, false
	}
	m2 := r.m2
	if m2 < 0 {
		m2 = 0
	}
	sd := math.Sqrt(m2 / float64(r.period))
	return BandValue{Upper: r.mean + r.k*sd, Middle: r.mean, Lower: r.mean - r.k*sd}, true
}

func (r *RollingBands) resync() {
	sum := 0.0
	for _, x := range r.win.buf {
		sum += x
	}
	r.mean = sum / float64(r.period)
	r.m2 = 0
	for _, x := range r.win.buf {
		d := x - r.mean
		r.m2 += d * d
	}
}
