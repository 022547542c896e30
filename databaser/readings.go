package databaser

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/z0rr0/wattcast/series"
)

// DateTimeColumn is the timestamp column name of hourly CSV files.
const DateTimeColumn = "datetime"

const insertReadings = `INSERT OR REPLACE INTO readings (timestamp, global_active_power, global_reactive_power,
	voltage, global_intensity, sub_metering_1, sub_metering_2, sub_metering_3, other_consumption)
	VALUES (:timestamp, :global_active_power, :global_reactive_power,
	:voltage, :global_intensity, :sub_metering_1, :sub_metering_2, :sub_metering_3, :other_consumption);`

// Reading is one hourly row of household power consumption.
// Optional measurements are NULL when the source did not provide them.
type Reading struct {
	Timestamp           time.Time       `db:"timestamp"`
	GlobalActivePower   float64         `db:"global_active_power"`
	GlobalReactivePower sql.NullFloat64 `db:"global_reactive_power"`
	Voltage             sql.NullFloat64 `db:"voltage"`
	GlobalIntensity     sql.NullFloat64 `db:"global_intensity"`
	SubMetering1        sql.NullFloat64 `db:"sub_metering_1"`
	SubMetering2        sql.NullFloat64 `db:"sub_metering_2"`
	SubMetering3        sql.NullFloat64 `db:"sub_metering_3"`
	OtherConsumption    sql.NullFloat64 `db:"other_consumption"`
}

// optional maps dataset column names to the optional fields.
func (r *Reading) optional() map[string]*sql.NullFloat64 {
	return map[string]*sql.NullFloat64{
		series.GlobalReactivePower: &r.GlobalReactivePower,
		series.Voltage:             &r.Voltage,
		series.GlobalIntensity:     &r.GlobalIntensity,
		series.SubMetering1:        &r.SubMetering1,
		series.SubMetering2:        &r.SubMetering2,
		series.SubMetering3:        &r.SubMetering3,
		series.OtherConsumption:    &r.OtherConsumption,
	}
}

// Values returns the stored measurements by dataset column name.
func (r *Reading) Values() map[string]float64 {
	values := map[string]float64{series.GlobalActivePower: r.GlobalActivePower}
	for name, v := range r.optional() {
		if v.Valid {
			values[name] = v.Float64
		}
	}
	return values
}

// LogValue implements slog.LogValuer for Reading.
func (r *Reading) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("{timestamp: '%s', power: %.3f}", r.Timestamp.Format(time.RFC3339), r.GlobalActivePower))
}

// NewReadingFromCSVRecord creates a Reading from a CSV record, header maps column names to record positions.
// The timestamp is a wall-clock time without an offset and is kept in series.WallClock.
// Empty, "?" and "nan" values of optional columns are stored as NULL.
func NewReadingFromCSVRecord(header map[string]int, record []string) (*Reading, error) {
	field := func(name string) (string, bool) {
		i, ok := header[name]
		if !ok || i >= len(record) {
			return "", false
		}
		s := strings.TrimSpace(record[i])
		switch strings.ToLower(s) {
		case "", "?", "nan":
			return "", false
		}
		return s, true
	}

	value, ok := field(DateTimeColumn)
	if !ok {
		return nil, fmt.Errorf("no %s value", DateTimeColumn)
	}

	timestamp, err := time.ParseInLocation(time.DateTime, value, series.WallClock)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", value, err)
	}

	reading := &Reading{Timestamp: timestamp}

	if value, ok = field(series.GlobalActivePower); !ok {
		return nil, fmt.Errorf("no %s value at %s", series.GlobalActivePower, timestamp.Format(time.DateTime))
	}
	if reading.GlobalActivePower, err = parseFloat(value); err != nil {
		return nil, fmt.Errorf("parse %s: %w", series.GlobalActivePower, err)
	}

	for name, v := range reading.optional() {
		if value, ok = field(name); !ok {
			continue
		}
		if v.Float64, err = parseFloat(value); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		v.Valid = true
	}

	return reading, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// SaveManyReadingsTx stores multiple readings within a transaction, existing hours are replaced.
func SaveManyReadingsTx(ctx context.Context, tx *sqlx.Tx, readings []*Reading) error {
	if len(readings) == 0 {
		return nil
	}

	if _, err := tx.NamedExecContext(ctx, insertReadings, readings); err != nil {
		return fmt.Errorf("insert readings: %w", err)
	}

	return nil
}

// SaveManyReadings stores multiple readings in the database.
func (db *DB) SaveManyReadings(ctx context.Context, readings []*Reading) error {
	return InTransaction(ctx, db, func(tx *sqlx.Tx) error {
		return SaveManyReadingsTx(ctx, tx, readings)
	})
}

const selectReadings = `SELECT timestamp, global_active_power, global_reactive_power, voltage, global_intensity,
	sub_metering_1, sub_metering_2, sub_metering_3, other_consumption FROM readings`

// GetLastReadings returns up to limit most recent readings in chronological order.
func (db *DB) GetLastReadings(ctx context.Context, limit int) ([]Reading, error) {
	const query = selectReadings + ` ORDER BY timestamp DESC LIMIT ?;`
	var readings []Reading

	slog.DebugContext(ctx, "GetLastReadings", "query", query, "limit", limit)
	if err := db.SelectContext(ctx, &readings, query, limit); err != nil {
		return nil, fmt.Errorf("failed select readings: %w", err)
	}

	slices.Reverse(readings)
	return readings, nil
}

// GetReadingsUntil returns up to limit readings not later than end in chronological order.
func (db *DB) GetReadingsUntil(ctx context.Context, end time.Time, limit int) ([]Reading, error) {
	const query = selectReadings + ` WHERE timestamp <= ? ORDER BY timestamp DESC LIMIT ?;`
	var readings []Reading

	slog.DebugContext(ctx, "GetReadingsUntil", "query", query, "end", end, "limit", limit)
	if err := db.SelectContext(ctx, &readings, query, end.In(series.WallClock), limit); err != nil {
		return nil, fmt.Errorf("failed select readings: %w", err)
	}

	slices.Reverse(readings)
	return readings, nil
}

// ReadingStats describes stored readings, First and Last are zero without readings.
type ReadingStats struct {
	Count int
	First time.Time
	Last  time.Time
}

// GetReadingStats returns the number of readings and their time range.
func (db *DB) GetReadingStats(ctx context.Context) (*ReadingStats, error) {
	const query = `SELECT COUNT(*) AS count, MIN(timestamp) AS first, MAX(timestamp) AS last FROM readings;`
	var raw struct {
		Count int            `db:"count"`
		First sql.NullString `db:"first"`
		Last  sql.NullString `db:"last"`
	}

	// aggregates lose the column type, so timestamps come back as text
	if err := db.GetContext(ctx, &raw, query); err != nil {
		return nil, fmt.Errorf("failed select reading stats: %w", err)
	}

	stats := &ReadingStats{Count: raw.Count}
	if raw.Count == 0 {
		return stats, nil
	}

	var err error
	if stats.First, err = parseStoredTime(raw.First.String); err != nil {
		return nil, err
	}
	if stats.Last, err = parseStoredTime(raw.Last.String); err != nil {
		return nil, err
	}

	return stats, nil
}

// storedTimeLayouts are the layouts sqlite drivers use to write time values.
var storedTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	time.DateTime,
}

func parseStoredTime(s string) (time.Time, error) {
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse stored time %q", s)
}

// HistoryFrame converts chronological readings to a frame.
// A column is present if any reading has it, missing values are NaN.
func HistoryFrame(readings []Reading) (*series.Frame, error) {
	index := make([]time.Time, len(readings))
	columns := make(map[string][]float64, len(series.Columns))

	for i := range readings {
		index[i] = readings[i].Timestamp.In(series.WallClock)
		for name, v := range readings[i].Values() {
			values, ok := columns[name]
			if !ok {
				values = make([]float64, len(readings))
				for j := range values {
					values[j] = math.NaN()
				}
				columns[name] = values
			}
			values[i] = v
		}
	}

	f, err := series.New(index)
	if err != nil {
		return nil, fmt.Errorf("history frame: %w", err)
	}

	for _, name := range series.Columns {
		if values, ok := columns[name]; ok {
			if err = f.SetColumn(name, values); err != nil {
				return nil, fmt.Errorf("history frame: %w", err)
			}
		}
	}

	return f, nil
}

// GetHistory returns up to hours most recent readings as a gap-free hourly frame.
// Rows before the last gap are skipped.
func (db *DB) GetHistory(ctx context.Context, hours int) (*series.Frame, error) {
	readings, err := db.GetLastReadings(ctx, hours)
	if err != nil {
		return nil, err
	}
	return historyTail(ctx, readings)
}

// GetHistoryUntil is GetHistory for the readings not later than end.
func (db *DB) GetHistoryUntil(ctx context.Context, end time.Time, hours int) (*series.Frame, error) {
	readings, err := db.GetReadingsUntil(ctx, end, hours)
	if err != nil {
		return nil, err
	}
	return historyTail(ctx, readings)
}

func historyTail(ctx context.Context, readings []Reading) (*series.Frame, error) {
	f, err := HistoryFrame(readings)
	if err != nil {
		return nil, err
	}

	tail := f.HourlyTail()
	if skipped := f.Len() - tail.Len(); skipped > 0 {
		slog.WarnContext(ctx, "history has a gap, older rows skipped", "skipped", skipped, "rows", tail.Len(), "from", tail.First())
	}

	return tail, nil
}
