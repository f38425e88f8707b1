package indicator

import "math"

// ptr boxes a float for nullable indicator columns.
func ptr(v float64) *float64 {
	return &v
}

// sma returns the simple moving average of the trailing window, nil when
// the series is shorter than the window.
func sma(values []float64, window int) *float64 {
	if window <= 0 || len(values) < window {
		return nil
	}
	sum := 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return ptr(sum / float64(window))
}

// highest returns the maximum over the trailing window; window <= 0 means
// the whole series. Nil when fewer than min values are available.
func highest(values []float64, window, min int) *float64 {
	return extreme(values, window, min, func(a, b float64) bool { return a > b })
}

// lowest is the mirror of highest.
func lowest(values []float64, window, min int) *float64 {
	return extreme(values, window, min, func(a, b float64) bool { return a < b })
}

func extreme(values []float64, window, min int, better func(a, b float64) bool) *float64 {
	if len(values) < min || len(values) == 0 {
		return nil
	}
	start := 0
	if window > 0 && len(values) > window {
		start = len(values) - window
	}
	best := values[start]
	for _, v := range values[start+1:] {
		if better(v, best) {
			best = v
		}
	}
	return ptr(best)
}

// rsi computes Wilder's RSI over the trailing series. Needs period+1
// closes; flat series with no losses pins at 100.
func rsi(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}

	gains := 0.0
	losses := 0.0
	start := len(closes) - period - 1
	for i := start + 1; i <= start+period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	// Wilder smoothing over the remainder of the series.
	for i := start + period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return ptr(100.0)
	}
	rs := avgGain / avgLoss
	return ptr(100.0 - 100.0/(1.0+rs))
}

// ema returns the full EMA series seeded with the SMA of the first
// period values; nil when the input is shorter than the period.
func ema(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	k := 2.0 / float64(period+1)

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, seed)
	current := seed
	for _, v := range values[period:] {
		current = (v-current)*k + current
		out = append(out, current)
	}
	return out
}

// macd computes the MACD(12,26,9) line, signal and histogram. The line
// needs 26 closes; signal and histogram need 34.
func macd(closes []float64) (line, signal, hist *float64) {
	const (
		fast   = 12
		slow   = 26
		smooth = 9
	)
	if len(closes) < slow {
		return nil, nil, nil
	}

	fastSeries := ema(closes, fast)
	slowSeries := ema(closes, slow)

	// Align: slowSeries[i] pairs with fastSeries[i + slow - fast].
	offset := slow - fast
	macdSeries := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}
	line = ptr(macdSeries[len(macdSeries)-1])

	if len(macdSeries) < smooth {
		return line, nil, nil
	}
	signalSeries := ema(macdSeries, smooth)
	signal = ptr(signalSeries[len(signalSeries)-1])
	hist = ptr(*line - *signal)
	return line, signal, hist
}

// bollinger computes the 20-day, 2-sigma bands around the SMA.
func bollinger(closes []float64, window int, width float64) (upper, middle, lower *float64) {
	mid := sma(closes, window)
	if mid == nil {
		return nil, nil, nil
	}

	variance := 0.0
	for _, v := range closes[len(closes)-window:] {
		d := v - *mid
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(window))

	return ptr(*mid + width*sd), mid, ptr(*mid - width*sd)
}

// mean of the trailing window, nil on short input.
func mean(values []float64, window int) *float64 {
	return sma(values, window)
}
