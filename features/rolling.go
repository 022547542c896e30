package features

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/z0rr0/wattcast/series"
)

// Stat is a rolling window statistic.
type Stat string

// Supported window statistics.
const (
	Mean Stat = "mean"
	Std  Stat = "std"
	Sum  Stat = "sum"
)

// AllStats lists window statistics in column order.
var AllStats = []Stat{Mean, Std, Sum}

var (
	// DefaultWindows are the trailing window widths used for training matrices.
	DefaultWindows = []int{3, 6, 12, 24, 48, 72, 96, 168}
	// ForecastWindows are the window widths regenerated at every forecast step.
	ForecastWindows = []int{24}
	// ForecastStats are the statistics regenerated at every forecast step.
	ForecastStats = []Stat{Mean, Std}
)

// RollingName returns the column name of a rolling feature, for example "roll24_mean".
func RollingName(width int, s Stat) string {
	return "roll" + strconv.Itoa(width) + "_" + string(s)
}

// Window holds the statistics of a set of consecutive values.
type Window struct {
	Mean float64
	Std  float64 // sample standard deviation, zero for a single value
	Sum  float64
}

// Get returns the statistic by kind.
func (w Window) Get(s Stat) float64 {
	switch s {
	case Mean:
		return w.Mean
	case Std:
		return w.Std
	case Sum:
		return w.Sum
	default:
		return math.NaN()
	}
}

// Stats computes window statistics of values; all of them are NaN for empty values.
func Stats(values []float64) Window {
	switch len(values) {
	case 0:
		return Window{Mean: math.NaN(), Std: math.NaN(), Sum: math.NaN()}
	case 1:
		return Window{Mean: values[0], Std: 0, Sum: values[0]}
	}

	mean, std := stat.MeanStdDev(values, nil)
	return Window{Mean: mean, Std: std, Sum: floats.Sum(values)}
}

// Rolling returns the statistics of the width values ending at row end inclusive,
// false if the window starts before the first row.
func Rolling(values []float64, end, width int) (Window, bool) {
	start := end - width + 1
	if width < 1 || start < 0 || end >= len(values) {
		return Stats(nil), false
	}
	return Stats(values[start : end+1]), true
}

// Trailing returns the statistics of the last width values, or of all values when fewer exist.
func Trailing(values []float64, width int) Window {
	start := max(0, len(values)-width)
	return Stats(values[start:])
}

// AddRollings returns a copy of f with rolling statistic columns for every window width.
// Rows without a full window hold NaN. All statistics are added when stats is empty.
func AddRollings(f *series.Frame, target string, windows []int, stats ...Stat) (*series.Frame, error) {
	values, err := f.Column(target)
	if err != nil {
		return nil, fmt.Errorf("rollings: %w", err)
	}

	if len(stats) == 0 {
		stats = AllStats
	}

	result := f.Clone()
	for _, width := range windows {
		if width < 1 {
			return nil, fmt.Errorf("rollings: invalid window %d", width)
		}

		columns := make([][]float64, len(stats))
		for j := range stats {
			columns[j] = make([]float64, len(values))
		}

		for i := range values {
			w, _ := Rolling(values, i, width)
			for j, s := range stats {
				columns[j][i] = w.Get(s)
			}
		}

		for j, s := range stats {
			if err = result.SetColumn(RollingName(width, s), columns[j]); err != nil {
				return nil, fmt.Errorf("rollings: %w", err)
			}
		}
	}

	return result, nil
}
