package features

import (
	"fmt"
	"slices"

	"github.com/z0rr0/wattcast/series"
)

// fallbackRows is the number of leading history rows used to discover fallback feature names.
const fallbackRows = 200

// Options configure training matrix assembly.
type Options struct {
	Target  string
	Lags    []int
	Windows []int
	DropNaN bool
}

// DefaultOptions returns canonical lags and windows for target with incomplete rows dropped.
func DefaultOptions(target string) Options {
	return Options{
		Target:  target,
		Lags:    DefaultLags,
		Windows: DefaultWindows,
		DropNaN: true,
	}
}

// Build assembles the training feature matrix: calendar, lag and rolling columns over history.
func Build(history *series.Frame, opts Options) (*series.Frame, error) {
	if !history.Has(opts.Target) {
		return nil, fmt.Errorf("build features: %w: target %q", series.ErrNoColumn, opts.Target)
	}

	result := AddCalendar(history)

	result, err := AddLags(result, opts.Target, opts.Lags)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}

	result, err = AddRollings(result, opts.Target, opts.Windows)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}

	if opts.DropNaN {
		result = result.DropNaN()
	}
	return result, nil
}

// FallbackSchema returns every column the assembler produces over history except the target.
// It is used when the predictor's feature list is unknown.
func FallbackSchema(history *series.Frame, target string) ([]string, error) {
	matrix, err := Build(history.Head(fallbackRows), DefaultOptions(target))
	if err != nil {
		return nil, fmt.Errorf("fallback schema: %w", err)
	}

	return slices.DeleteFunc(matrix.Names(), func(name string) bool {
		return name == target
	}), nil
}

// minimalFeatures is the reduced feature set regenerated by recursive forecasting.
var minimalFeatures = []string{
	Hour, Day, Weekday, Month, IsWeekend,
	LagName(1), LagName(24), LagName(168),
	RollingName(24, Mean), RollingName(24, Std),
	series.SubMetering1, series.SubMetering2, series.SubMetering3,
	series.Voltage, series.GlobalIntensity, series.OtherConsumption,
}

// DefaultFeatureList returns the minimal forecasting feature set restricted to available names.
func DefaultFeatureList(available []string) []string {
	result := make([]string, 0, len(minimalFeatures))
	for _, name := range minimalFeatures {
		if slices.Contains(available, name) {
			result = append(result, name)
		}
	}
	return result
}
