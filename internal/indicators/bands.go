package indicators

import "math"

// Bands holds aligned Bollinger lines.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes middle = SMA(period) and upper/lower = middle ± k·σ where σ
// is the population standard deviation of the same trailing window.
func Bollinger(values []float64, period int, k float64) Bands {
	middle := SMA(values, period)
	if len(middle) == 0 {
		return Bands{}
	}
	b := Bands{
		Upper:  make([]float64, len(middle)),
		Middle: middle,
		Lower:  make([]float64, len(middle)),
	}
	for j, m := range middle {
		variance := 0.0
		for _, v := range values[j : j+period] {
			d := v - m
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		b.Upper[j] = m + k*sd
		b.Lower[j] = m - k*sd
	}
	return b
}
