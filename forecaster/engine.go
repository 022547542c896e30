// Package forecaster implements recursive multi-hour forecasting on top of a one-step predictor.
//
// Each step synthesizes the feature vector of the next hour from a pseudo-history that already
// holds the previous predictions, asks the predictor for one value and appends the resulting row.
package forecaster

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/z0rr0/wattcast/features"
	"github.com/z0rr0/wattcast/series"
)

var (
	// ErrMissingHistory is returned when there is no target history to start from.
	ErrMissingHistory = errors.New("missing history")
	// ErrMissingSchema is returned when the predictor's feature names are unknown.
	ErrMissingSchema = errors.New("missing feature schema")
	// ErrPredictor is returned when the predictor fails at any step; the whole run is aborted.
	ErrPredictor = errors.New("predictor failure")
	// ErrHorizon is returned for a non-positive horizon.
	ErrHorizon = errors.New("invalid horizon")
)

// Predictor predicts the target of one row from its feature vector, ordered as the Schema.
type Predictor interface {
	Predict(x []float64) (float64, error)
}

// PredictorFunc adapts a function to the Predictor interface.
type PredictorFunc func(x []float64) (float64, error)

// Predict implements Predictor.
func (f PredictorFunc) Predict(x []float64) (float64, error) {
	return f(x)
}

// Config describes the history columns and feature set of a forecast.
type Config struct {
	Target     string       // predicted column
	Regressors []string     // auxiliary columns synthesized as zeros when absent
	SubMeters  []string     // components subtracted from the target to get Residual
	Residual   string       // derived column, empty to disable
	Lags       []int        // lag offsets regenerated per step
	Windows    []int        // rolling window widths regenerated per step
	Policy     Extrapolator // future values of auxiliary columns
}

// DefaultConfig returns the household power configuration.
func DefaultConfig() Config {
	return Config{
		Target: series.GlobalActivePower,
		Regressors: []string{
			series.SubMetering1, series.SubMetering2, series.SubMetering3,
			series.Voltage, series.GlobalIntensity,
		},
		SubMeters: series.SubMeters,
		Residual:  series.OtherConsumption,
		Lags:      features.DefaultLags,
		Windows:   features.ForecastWindows,
		Policy:    WeeklyCycle{Period: DefaultPeriod},
	}
}

// Engine runs forecasts. It is immutable and safe for concurrent use
// as long as the predictor is.
type Engine struct {
	predictor Predictor
	schema    *Schema
	cfg       Config
	derived   map[string]struct{}
}

// New creates an engine for a predictor and its feature schema.
func New(predictor Predictor, schema *Schema, cfg Config) (*Engine, error) {
	if predictor == nil {
		return nil, errors.New("predictor is required")
	}
	if schema == nil || schema.Len() == 0 {
		return nil, ErrMissingSchema
	}
	if cfg.Target == "" {
		return nil, errors.New("target column is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = WeeklyCycle{Period: DefaultPeriod}
	}

	cfg.Regressors = slices.Clone(cfg.Regressors)
	cfg.SubMeters = slices.Clone(cfg.SubMeters)
	cfg.Lags = slices.Clone(cfg.Lags)
	cfg.Windows = slices.Clone(cfg.Windows)

	derived := make(map[string]struct{})
	for _, name := range features.CalendarNames {
		derived[name] = struct{}{}
	}
	for _, lag := range cfg.Lags {
		if lag < 1 {
			return nil, fmt.Errorf("invalid lag %d", lag)
		}
		derived[features.LagName(lag)] = struct{}{}
	}
	for _, width := range cfg.Windows {
		if width < 1 {
			return nil, fmt.Errorf("invalid window %d", width)
		}
		for _, s := range features.AllStats {
			derived[features.RollingName(width, s)] = struct{}{}
		}
	}

	return &Engine{predictor: predictor, schema: schema, cfg: cfg, derived: derived}, nil
}

// Schema returns the feature schema.
func (e *Engine) Schema() *Schema {
	return e.schema
}

// Target returns the predicted column name.
func (e *Engine) Target() string {
	return e.cfg.Target
}

// Result is a finished forecast run.
type Result struct {
	Steps     []series.Point // one per hour, starting right after the history
	History   *series.Frame  // pseudo-history: the history plus one synthesized row per step
	Sanitized int            // feature values replaced because they were NaN or infinite
	Duration  time.Duration
}

// LogValue implements slog.LogValuer for Result.
func (r *Result) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("steps", len(r.Steps)),
		slog.Int("sanitized", r.Sanitized),
		slog.Duration("duration", r.Duration),
	}
	if n := len(r.Steps); n > 0 {
		attrs = append(attrs, slog.Time("first", r.Steps[0].Timestamp), slog.Time("last", r.Steps[n-1].Timestamp))
	}
	return slog.GroupValue(attrs...)
}

// Forecast predicts horizon hourly values following the last history row.
// The history is not modified. A failing step aborts the whole run.
func (e *Engine) Forecast(history *series.Frame, horizon int) (*Result, error) {
	start := time.Now()

	if history == nil || history.Len() < 1 {
		return nil, ErrMissingHistory
	}
	if !history.Has(e.cfg.Target) {
		return nil, fmt.Errorf("%w: no %q column", ErrMissingHistory, e.cfg.Target)
	}
	if horizon < 1 {
		return nil, fmt.Errorf("%w: %d", ErrHorizon, horizon)
	}
	if err := history.Hourly(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	pseudo, regressors, err := e.prepare(history)
	if err != nil {
		return nil, fmt.Errorf("prepare history: %w", err)
	}

	result := &Result{Steps: make([]series.Point, 0, horizon)}
	for k := range horizon {
		t, row := e.synthesize(pseudo, regressors, k)

		x, sanitized := e.schema.Vector(row)
		if sanitized > 0 {
			slog.Debug("sanitized features", "step", k, "timestamp", t, "count", sanitized)
			result.Sanitized += sanitized
		}

		y, err := e.predictor.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d at %s: %w", ErrPredictor, k, t.Format(time.RFC3339), err)
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, fmt.Errorf("%w: step %d at %s: non-finite prediction %v", ErrPredictor, k, t.Format(time.RFC3339), y)
		}

		row[e.cfg.Target] = y
		if e.cfg.Residual != "" {
			row[e.cfg.Residual] = e.residual(y, row)
		}

		if err = pseudo.Append(t, row); err != nil {
			return nil, fmt.Errorf("append step %d: %w", k, err)
		}
		result.Steps = append(result.Steps, series.Point{Timestamp: t, Value: y})
	}

	result.History = pseudo
	result.Duration = time.Since(start)
	slog.Debug("forecast finished", "result", result)
	return result, nil
}

// prepare copies the history, adds missing auxiliary and residual columns and the derived
// feature columns, and returns it with the names of the columns to extrapolate.
func (e *Engine) prepare(history *series.Frame) (*series.Frame, []string, error) {
	pseudo := history.Clone()

	for _, name := range slices.Concat(e.cfg.Regressors, e.cfg.SubMeters) {
		if name != e.cfg.Target && !pseudo.Has(name) {
			slog.Info("auxiliary column is missing, using zeros", "column", name)
			pseudo.Fill(name, 0)
		}
	}

	if e.cfg.Residual != "" && !pseudo.Has(e.cfg.Residual) {
		if err := pseudo.SetColumn(e.cfg.Residual, e.historyResiduals(pseudo)); err != nil {
			return nil, nil, err
		}
	}

	regressors := slices.DeleteFunc(pseudo.Names(), func(name string) bool {
		_, ok := e.derived[name]
		return ok || name == e.cfg.Target
	})

	pseudo = features.AddCalendar(pseudo)

	pseudo, err := features.AddLags(pseudo, e.cfg.Target, e.cfg.Lags)
	if err != nil {
		return nil, nil, err
	}

	pseudo, err = features.AddRollings(pseudo, e.cfg.Target, e.cfg.Windows, features.ForecastStats...)
	if err != nil {
		return nil, nil, err
	}

	return pseudo, regressors, nil
}

// synthesize builds the row of forecast step k: calendar, extrapolated regressors, lags and rollings.
func (e *Engine) synthesize(pseudo *series.Frame, regressors []string, k int) (time.Time, map[string]float64) {
	t := pseudo.Last().Add(series.Step)
	row := make(map[string]float64, len(pseudo.Names()))

	features.NewCalendar(t).Fill(row)

	for _, name := range regressors {
		values, _ := pseudo.Column(name) // regressors are columns of pseudo
		row[name] = e.cfg.Policy.Extrapolate(values, k)
	}

	target, _ := pseudo.Column(e.cfg.Target)
	for _, lag := range e.cfg.Lags {
		row[features.LagName(lag)] = features.LagOrLast(target, lag)
	}

	for _, width := range e.cfg.Windows {
		w := features.Trailing(target, width)
		for _, s := range features.ForecastStats {
			row[features.RollingName(width, s)] = w.Get(s)
		}
	}

	return t, row
}

func (e *Engine) residual(total float64, row map[string]float64) float64 {
	subMeters := make([]float64, 0, len(e.cfg.SubMeters))
	for _, name := range e.cfg.SubMeters {
		subMeters = append(subMeters, row[name])
	}
	return series.Residual(total, subMeters...)
}

func (e *Engine) historyResiduals(f *series.Frame) []float64 {
	residuals := make([]float64, f.Len())
	for i := range residuals {
		row := f.Row(i)
		residuals[i] = e.residual(row[e.cfg.Target], row)
	}
	return residuals
}
