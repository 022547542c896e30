package databaser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/z0rr0/wattcast/series"
)

// insertChunkSize limits rows per insert statement to stay under sqlite's variables limit.
const insertChunkSize = 1000

// ErrRunNotFound is returned when no forecast run is stored.
var ErrRunNotFound = errors.New("forecast run not found")

// Run is a stored forecast run.
type Run struct {
	ID         string         `db:"id"`
	Created    time.Time      `db:"created"`
	HistoryEnd time.Time      `db:"history_end"`
	Horizon    int            `db:"horizon"`
	Predictor  string         `db:"predictor"`
	Steps      []series.Point `db:"-"`
}

// NewRun creates a run with a new identifier.
func NewRun(historyEnd time.Time, predictor string, steps []series.Point) *Run {
	return &Run{
		ID:         uuid.NewString(),
		Created:    time.Now().UTC(),
		HistoryEnd: historyEnd.In(series.WallClock),
		Horizon:    len(steps),
		Predictor:  predictor,
		Steps:      steps,
	}
}

// LogValue implements slog.LogValuer for Run.
func (r *Run) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.Time("history_end", r.HistoryEnd),
		slog.Int("horizon", r.Horizon),
		slog.String("predictor", r.Predictor),
	)
}

type forecastRow struct {
	RunID     string    `db:"run_id"`
	Timestamp time.Time `db:"timestamp"`
	Value     float64   `db:"value"`
}

// SaveRun stores a run with its forecast steps in one transaction.
func (db *DB) SaveRun(ctx context.Context, run *Run) error {
	const (
		insertRun = `INSERT INTO forecast_runs (id, created, history_end, horizon, predictor)
			VALUES (:id, :created, :history_end, :horizon, :predictor);`
		insertSteps = `INSERT INTO forecasts (run_id, timestamp, value) VALUES (:run_id, :timestamp, :value);`
	)

	if len(run.Steps) == 0 {
		return errors.New("forecast run without steps")
	}

	rows := make([]forecastRow, len(run.Steps))
	for i, step := range run.Steps {
		rows[i] = forecastRow{RunID: run.ID, Timestamp: step.Timestamp.In(series.WallClock), Value: step.Value}
	}

	err := InTransaction(ctx, db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertRun, run); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for chunk := range slices.Chunk(rows, insertChunkSize) {
			if _, err := tx.NamedExecContext(ctx, insertSteps, chunk); err != nil {
				return fmt.Errorf("insert forecasts: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	slog.DebugContext(ctx, "forecast run saved", "run", run)
	return nil
}

// GetLatestRun returns the most recent run, its creation time is converted to location.
func (db *DB) GetLatestRun(ctx context.Context, location *time.Location) (*Run, error) {
	const (
		selectRun = `SELECT id, created, history_end, horizon, predictor
			FROM forecast_runs ORDER BY created DESC LIMIT 1;`
		selectSteps = `SELECT run_id, timestamp, value FROM forecasts WHERE run_id = ? ORDER BY timestamp;`
	)
	var (
		run  Run
		rows []forecastRow
	)

	if err := db.GetContext(ctx, &run, selectRun); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed select run: %w", err)
	}

	if err := db.SelectContext(ctx, &rows, selectSteps, run.ID); err != nil {
		return nil, fmt.Errorf("failed select forecasts: %w", err)
	}

	run.Created = run.Created.In(location)
	run.HistoryEnd = run.HistoryEnd.In(series.WallClock)
	run.Steps = make([]series.Point, len(rows))
	for i, row := range rows {
		run.Steps[i] = series.Point{Timestamp: row.Timestamp.In(series.WallClock), Value: row.Value}
	}

	return &run, nil
}

// DeleteRunsBefore removes runs created before t with their forecasts.
func (db *DB) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	const query = `DELETE FROM forecast_runs WHERE created < ?;`

	result, err := db.ExecContext(ctx, query, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleted runs count: %w", err)
	}

	return n, nil
}
