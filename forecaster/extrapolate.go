package forecaster

// DefaultPeriod is one week of hourly rows.
const DefaultPeriod = 168

// Extrapolator chooses the value of an auxiliary regressor for forecast step k
// from that regressor's pseudo-history. values is never empty.
type Extrapolator interface {
	Extrapolate(values []float64, step int) float64
}

// WeeklyCycle reuses the value Period rows back, shifted forward by the step counter
// modulo Period. Histories shorter than Period fall back to the last value.
// The offset follows the step counter, not calendar week boundaries.
type WeeklyCycle struct {
	Period int
}

// Extrapolate implements Extrapolator.
func (w WeeklyCycle) Extrapolate(values []float64, step int) float64 {
	n := len(values)
	if w.Period < 1 || n < w.Period {
		return values[n-1]
	}
	return values[n-w.Period+step%w.Period]
}

// Seasonal reuses the value exactly Period rows back, or the last value for shorter histories.
type Seasonal struct {
	Period int
}

// Extrapolate implements Extrapolator.
func (s Seasonal) Extrapolate(values []float64, _ int) float64 {
	n := len(values)
	if s.Period < 1 || n < s.Period {
		return values[n-1]
	}
	return values[n-s.Period]
}

// LastValue holds the most recent value.
type LastValue struct{}

// Extrapolate implements Extrapolator.
func (LastValue) Extrapolate(values []float64, _ int) float64 {
	return values[len(values)-1]
}
