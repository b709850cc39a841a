package indicators

// RSI computes a basic Relative Strength Index over the last period changes with smoothing disabled.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// RSISeries evaluates RSI at every index with a full window; out[j] ends at values[j+period].
func RSISeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period+1 {
		return nil
	}
	out := make([]float64, 0, len(values)-period)
	for i := period + 1; i <= len(values); i++ {
		out = append(out, RSI(values[:i], period))
	}
	return out
}
