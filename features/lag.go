package features

import (
	"fmt"
	"math"
	"strconv"

	"github.com/z0rr0/wattcast/series"
)

// DefaultLags are one hour, one day and one week.
var DefaultLags = []int{1, 24, 168}

// LagName returns the column name of a lag feature.
func LagName(lag int) string {
	return "lag" + strconv.Itoa(lag)
}

// Lag returns the value lag rows before row i and false when that row does not exist.
func Lag(values []float64, i, lag int) (float64, bool) {
	j := i - lag
	if j < 0 || j >= len(values) {
		return math.NaN(), false
	}
	return values[j], true
}

// LagOrLast returns the value lag rows before the row that would follow values,
// or the last value when values are too short. values must not be empty.
func LagOrLast(values []float64, lag int) float64 {
	if v, ok := Lag(values, len(values), lag); ok {
		return v
	}
	return values[len(values)-1]
}

// AddLags returns a copy of f with a lag column per offset; undefined rows hold NaN.
func AddLags(f *series.Frame, target string, lags []int) (*series.Frame, error) {
	values, err := f.Column(target)
	if err != nil {
		return nil, fmt.Errorf("lags: %w", err)
	}

	result := f.Clone()
	for _, lag := range lags {
		if lag < 1 {
			return nil, fmt.Errorf("lags: invalid offset %d", lag)
		}

		column := make([]float64, len(values))
		for i := range values {
			column[i], _ = Lag(values, i, lag)
		}

		if err = result.SetColumn(LagName(lag), column); err != nil {
			return nil, fmt.Errorf("lags: %w", err)
		}
	}

	return result, nil
}
