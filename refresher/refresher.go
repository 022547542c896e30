// Package refresher runs forecasts over stored readings, once or periodically.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/z0rr0/wattcast/databaser"
	"github.com/z0rr0/wattcast/forecaster"
	"github.com/z0rr0/wattcast/metrics"
	"github.com/z0rr0/wattcast/predictor"
	"github.com/z0rr0/wattcast/series"
)

// ErrNoReadings is returned when the database has no readings to forecast from.
var ErrNoReadings = errors.New("no readings")

// Forecast is a finished forecast with its input history.
type Forecast struct {
	Run     *databaser.Run
	History *series.Frame // history the forecast started from
	Result  *forecaster.Result
}

// Refresher struct holds the configuration for forecast runs.
type Refresher struct {
	Db           *databaser.DB
	Model        predictor.Options
	Engine       forecaster.Config
	Horizon      int
	HistoryHours int
	Period       time.Duration
	QueryTimeout time.Duration
	Recorder     *metrics.Recorder
	Retention    time.Duration // stored runs older than this are removed, zero keeps all
}

// Run begins the periodic forecasting process.
func (r *Refresher) Run(ctx context.Context) (<-chan struct{}, error) {
	err := r.Refresh(ctx)
	if err != nil && !errors.Is(err, ErrNoReadings) {
		return nil, fmt.Errorf("initial refresh: %w", err)
	}

	doneCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.Period)
		defer ticker.Stop()
		slog.Info("refresher starting", "period", r.Period)

		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping refresher")
				close(doneCh)
				return
			case <-ticker.C:
				slog.Info("wake up refresher")
				if refreshErr := r.Refresh(ctx); refreshErr != nil {
					slog.Error("refresh error", "error", refreshErr)
				}
			}
		}
	}()

	return doneCh, nil
}

// Refresh forecasts the configured horizon and stores the run.
func (r *Refresher) Refresh(ctx context.Context) error {
	f, err := r.Forecast(ctx, r.Horizon)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.QueryTimeout)
	defer cancel()

	if err = r.Db.SaveRun(ctx, f.Run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if r.Retention > 0 {
		n, deleteErr := r.Db.DeleteRunsBefore(ctx, time.Now().Add(-r.Retention))
		if deleteErr != nil {
			return fmt.Errorf("cleanup runs: %w", deleteErr)
		}
		slog.DebugContext(ctx, "old runs removed", "count", n)
	}

	slog.InfoContext(ctx, "forecast refreshed", "run", f.Run)
	return nil
}

// Forecast loads recent readings and predicts horizon hours after the last one.
func (r *Refresher) Forecast(ctx context.Context, horizon int) (*Forecast, error) {
	history, err := r.history(ctx)
	if err != nil {
		return nil, err
	}

	model, err := predictor.Open(r.Model, history)
	if err != nil {
		r.Recorder.RecordRun(predictorName(r.Model), nil, err)
		return nil, fmt.Errorf("open predictor: %w", err)
	}
	slog.DebugContext(ctx, "predictor opened", "model", model)

	engine, err := forecaster.New(model.Predictor, model.Schema, r.Engine)
	if err != nil {
		return nil, fmt.Errorf("forecast engine: %w", err)
	}

	result, err := engine.Forecast(history, horizon)
	r.Recorder.RecordRun(model.Name, result, err)
	if err != nil {
		return nil, fmt.Errorf("forecast %d hours: %w", horizon, err)
	}

	slog.InfoContext(ctx, "forecast finished", "result", result, "predictor", model.Name)
	return &Forecast{
		Run:     databaser.NewRun(history.Last(), model.Name, result.Steps),
		History: history,
		Result:  result,
	}, nil
}

func (r *Refresher) history(ctx context.Context) (*series.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, r.QueryTimeout)
	defer cancel()

	history, err := r.Db.GetHistory(ctx, r.HistoryHours)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	if history.Len() == 0 {
		return nil, ErrNoReadings
	}

	return history, nil
}

func predictorName(opts predictor.Options) string {
	if opts.ModelPath == "" {
		return predictor.ProfileName
	}
	return predictor.BoosterName
}
