package refresher

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/z0rr0/wattcast/databaser"
	"github.com/z0rr0/wattcast/forecaster"
	"github.com/z0rr0/wattcast/metrics"
	"github.com/z0rr0/wattcast/predictor"
	"github.com/z0rr0/wattcast/series"
)

var baseTime = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *databaser.DB {
	t.Helper()
	ctx := context.Background()
	db, err := databaser.New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

func valid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// saveReadings stores n hourly readings with a daily consumption cycle.
func saveReadings(t *testing.T, db *databaser.DB, n int) {
	t.Helper()
	readings := make([]*databaser.Reading, n)

	for i := range readings {
		power := 1.5 + math.Sin(2*math.Pi*float64(i%24)/24)
		readings[i] = &databaser.Reading{
			Timestamp:           baseTime.Add(time.Duration(i) * time.Hour),
			GlobalActivePower:   power,
			GlobalReactivePower: valid(0.1),
			Voltage:             valid(240),
			GlobalIntensity:     valid(power * 4),
			SubMetering1:        valid(0.2),
			SubMetering2:        valid(0.3),
			SubMetering3:        valid(0.4),
			OtherConsumption:    valid(max(0, power-0.9)),
		}
	}

	if err := db.SaveManyReadings(context.Background(), readings); err != nil {
		t.Fatalf("failed to save readings: %v", err)
	}
}

func newRefresher(db *databaser.DB) *Refresher {
	return &Refresher{
		Db:           db,
		Model:        predictor.Options{Target: series.GlobalActivePower},
		Engine:       forecaster.DefaultConfig(),
		Horizon:      24,
		HistoryHours: 500,
		Period:       50 * time.Millisecond,
		QueryTimeout: 5 * time.Second,
		Recorder:     metrics.New(),
	}
}

func countRuns(t *testing.T, db *databaser.DB) int {
	t.Helper()
	var n int
	if err := db.GetContext(context.Background(), &n, "SELECT COUNT(*) FROM forecast_runs;"); err != nil {
		t.Fatalf("failed to count runs: %v", err)
	}
	return n
}

func TestForecast(t *testing.T) {
	db := newTestDB(t)
	saveReadings(t, db, 14*24)
	r := newRefresher(db)

	tests := []struct {
		name    string
		horizon int
		wantErr bool
	}{
		{name: "one hour", horizon: 1},
		{name: "one day", horizon: 24},
		{name: "one week", horizon: 168},
		{name: "zero horizon", horizon: 0, wantErr: true},
	}

	lastReading := baseTime.Add(time.Duration(14*24-1) * time.Hour)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := r.Forecast(context.Background(), tt.horizon)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Forecast() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if f.Run.Predictor != predictor.ProfileName {
				t.Errorf("Predictor = %q, want %q", f.Run.Predictor, predictor.ProfileName)
			}
			if f.Run.Horizon != tt.horizon || len(f.Result.Steps) != tt.horizon {
				t.Errorf("Horizon = %d, steps = %d, want %d", f.Run.Horizon, len(f.Result.Steps), tt.horizon)
			}
			if !f.Run.HistoryEnd.Equal(lastReading) {
				t.Errorf("HistoryEnd = %v, want %v", f.Run.HistoryEnd, lastReading)
			}
			if f.History.Len() != 14*24 {
				t.Errorf("History.Len() = %d", f.History.Len())
			}

			for i, step := range f.Result.Steps {
				want := lastReading.Add(time.Duration(i+1) * time.Hour)
				if !step.Timestamp.Equal(want) {
					t.Errorf("step %d timestamp = %v, want %v", i, step.Timestamp, want)
				}
				if math.IsNaN(step.Value) || step.Value < 0 {
					t.Errorf("step %d value = %v", i, step.Value)
				}
			}
		})
	}
}

func TestForecast_Profile(t *testing.T) {
	db := newTestDB(t)
	saveReadings(t, db, 21*24)
	r := newRefresher(db)

	f, err := r.Forecast(context.Background(), 24)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}

	// readings repeat every day, so the profile returns the same day
	for i, step := range f.Result.Steps {
		want := 1.5 + math.Sin(2*math.Pi*float64(step.Timestamp.Hour())/24)
		if math.Abs(step.Value-want) > 1e-9 {
			t.Errorf("step %d value = %v, want %v", i, step.Value, want)
		}
	}
}

func TestForecast_NoReadings(t *testing.T) {
	r := newRefresher(newTestDB(t))

	if _, err := r.Forecast(context.Background(), 24); !errors.Is(err, ErrNoReadings) {
		t.Errorf("Forecast() error = %v, want ErrNoReadings", err)
	}
	if err := r.Refresh(context.Background()); !errors.Is(err, ErrNoReadings) {
		t.Errorf("Refresh() error = %v, want ErrNoReadings", err)
	}
}

func TestForecast_ShortHistory(t *testing.T) {
	db := newTestDB(t)
	saveReadings(t, db, 48)
	r := newRefresher(db)

	if _, err := r.Forecast(context.Background(), 24); err == nil {
		t.Error("Forecast() expected error for the profile over two days")
	}
}

func TestForecast_MissingModel(t *testing.T) {
	db := newTestDB(t)
	saveReadings(t, db, 14*24)
	r := newRefresher(db)
	r.Model.ModelPath = "/non/existent/model.json"

	if _, err := r.Forecast(context.Background(), 24); err == nil {
		t.Error("Forecast() expected error for a missing model file")
	}
}

func TestRefresh(t *testing.T) {
	db := newTestDB(t)
	saveReadings(t, db, 14*24)
	r := newRefresher(db)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	run, err := db.GetLatestRun(context.Background(), time.UTC)
	if err != nil {
		t.Fatalf("GetLatestRun() error = %v", err)
	}
	if run.Horizon != r.Horizon || len(run.Steps) != r.Horizon {
		t.Errorf("run horizon = %d, steps = %d, want %d", run.Horizon, len(run.Steps), r.Horizon)
	}
	if run.Predictor != predictor.ProfileName {
		t.Errorf("run predictor = %q", run.Predictor)
	}
}

func TestRefresh_Retention(t *testing.T) {
	db := newTestDB(t)
	saveReadings(t, db, 14*24)
	ctx := context.Background()

	old := databaser.NewRun(baseTime, predictor.ProfileName, []series.Point{{Timestamp: baseTime.Add(time.Hour), Value: 1}})
	old.Created = time.Now().Add(-48 * time.Hour).UTC()
	if err := db.SaveRun(ctx, old); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	tests := []struct {
		name      string
		retention time.Duration
		wantRuns  int
	}{
		{name: "keep all", retention: 0, wantRuns: 2},
		{name: "one day", retention: 24 * time.Hour, wantRuns: 2}, // old run removed, a new one added
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRefresher(db)
			r.Retention = tt.retention

			if err := r.Refresh(ctx); err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if n := countRuns(t, db); n != tt.wantRuns {
				t.Errorf("runs = %d, want %d", n, tt.wantRuns)
			}
		})
	}

	var n int
	if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM forecast_runs WHERE id = ?;", old.ID); err != nil {
		t.Fatalf("failed to select old run: %v", err)
	}
	if n != 0 {
		t.Error("old run was not removed")
	}
}

func TestRun(t *testing.T) {
	db := newTestDB(t)
	saveReadings(t, db, 14*24)
	r := newRefresher(db)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	time.Sleep(180 * time.Millisecond)
	cancel()
	<-doneCh

	if n := countRuns(t, db); n < 2 {
		t.Errorf("runs = %d, want at least 2", n)
	}
}

func TestRun_NoReadings(t *testing.T) {
	r := newRefresher(newTestDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	doneCh, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cancel()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Error("doneCh was not closed after cancellation")
	}
}

func TestRun_InitialRefreshError(t *testing.T) {
	db := newTestDB(t)
	saveReadings(t, db, 14*24)
	r := newRefresher(db)
	r.Model.ModelPath = "/non/existent/model.json"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneCh, err := r.Run(ctx)
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if doneCh != nil {
		t.Error("Run() returned a channel with an error")
	}
}

func TestRefresh_NilRecorder(t *testing.T) {
	db := newTestDB(t)
	saveReadings(t, db, 14*24)
	r := newRefresher(db)
	r.Recorder = nil

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
}
