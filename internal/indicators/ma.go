package indicators

// SMA returns the simple moving average of every full trailing window. The
// result is empty when len(values) < period; out[j] covers values[j : j+period].
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for _, v := range values[i-period+1 : i+1] {
			sum += v
		}
		out = append(out, sum/float64(period))
	}
	return out
}

// EMA seeds with the SMA of the first period values and then applies
// ema[i] = (v[i] - ema[i-1]) * k + ema[i-1] with k = 2/(period+1).
// Alignment matches SMA.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	prev := sum / float64(period)
	out = append(out, prev)
	for _, v := range values[period:] {
		prev = (v-prev)*k + prev
		out = append(out, prev)
	}
	return out
}
