// Package predictor provides one-step predictors for the forecast engine and resolves their feature schema.
package predictor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/z0rr0/wattcast/features"
	"github.com/z0rr0/wattcast/forecaster"
	"github.com/z0rr0/wattcast/series"
)

// Predictor names.
const (
	BoosterName = "booster"
	ProfileName = "profile"
)

// Options locate the model artifacts.
type Options struct {
	ModelPath    string // XGBoost JSON model, empty for the profile baseline
	FeaturesPath string // JSON list of feature names, optional
	Target       string
}

// Model is a predictor with its feature schema.
type Model struct {
	Predictor forecaster.Predictor
	Schema    *forecaster.Schema
	Name      string
}

// LogValue implements slog.LogValuer for Model.
func (m *Model) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", m.Name),
		slog.Int("features", m.Schema.Len()),
	)
}

// Open loads the configured predictor. The feature names come from the features file,
// then from the model itself, then from the features the history yields.
// Without a model path a Profile is fitted on history.
func Open(opts Options, history *series.Frame) (*Model, error) {
	if opts.ModelPath == "" {
		return openProfile(opts, history)
	}

	booster, err := LoadBooster(opts.ModelPath)
	if err != nil {
		return nil, err
	}

	names, err := resolveNames(opts, booster.FeatureNames(), history)
	if err != nil {
		return nil, err
	}

	if len(names) != booster.NumFeature() {
		return nil, fmt.Errorf("%w: %d feature names, model expects %d", ErrModelFormat, len(names), booster.NumFeature())
	}

	schema, err := forecaster.NewSchema(names, nil)
	if err != nil {
		return nil, err
	}

	return &Model{Predictor: booster, Schema: schema, Name: BoosterName}, nil
}

func openProfile(opts Options, history *series.Frame) (*Model, error) {
	names, err := resolveNames(opts, nil, history)
	if err != nil {
		return nil, err
	}

	schema, err := forecaster.NewSchema(features.DefaultFeatureList(names), nil)
	if err != nil {
		return nil, err
	}

	profile, err := NewProfile(schema)
	if err != nil {
		return nil, err
	}

	if err = profile.Fit(history, opts.Target); err != nil {
		return nil, err
	}

	return &Model{Predictor: profile, Schema: schema, Name: ProfileName}, nil
}

func resolveNames(opts Options, embedded []string, history *series.Frame) ([]string, error) {
	if opts.FeaturesPath != "" {
		names, err := LoadSchema(opts.FeaturesPath)
		switch {
		case err == nil && len(names) > 0:
			return names, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
		slog.Warn("features file is missing or empty", "path", opts.FeaturesPath)
	}

	if len(embedded) > 0 {
		return embedded, nil
	}

	if history == nil || history.Len() == 0 {
		return nil, forecaster.ErrMissingSchema
	}

	names, err := features.FallbackSchema(history, opts.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", forecaster.ErrMissingSchema, err)
	}

	slog.Info("using feature names derived from history", "count", len(names))
	return names, nil
}
