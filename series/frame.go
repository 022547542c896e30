// Package series provides the hourly time-indexed table shared by feature derivation,
// forecasting and storage.
package series

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"
)

// Step is the fixed spacing between consecutive rows of an hourly frame.
const Step = time.Hour

// WallClock is the location of reading and forecast timestamps.
// They hold the meter's local wall-clock time without an offset, so daylight saving changes never break the hourly index.
var WallClock = time.UTC //nolint:gochecknoglobals

var (
	// ErrNotIncreasing is returned when timestamps are not strictly increasing.
	ErrNotIncreasing = errors.New("timestamps are not strictly increasing")
	// ErrNotHourly is returned when consecutive timestamps are not exactly one hour apart.
	ErrNotHourly = errors.New("timestamps are not hourly")
	// ErrLength is returned when a column length does not match the frame length.
	ErrLength = errors.New("column length mismatch")
	// ErrNoColumn is returned when a requested column does not exist.
	ErrNoColumn = errors.New("column not found")
)

// Point is a single timestamped value.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// LogValue implements slog.LogValuer for Point.
func (p Point) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("{timestamp: '%s', value: %g}", p.Timestamp.Format(time.RFC3339), p.Value))
}

// Frame is a table of named float64 columns indexed by strictly increasing timestamps.
// Columns keep their insertion order.
type Frame struct {
	index   []time.Time
	names   []string
	columns map[string][]float64
}

// New creates a frame without columns over the given timestamps.
func New(index []time.Time) (*Frame, error) {
	for i := 1; i < len(index); i++ {
		if !index[i].After(index[i-1]) {
			return nil, fmt.Errorf("%w: row %d at %s", ErrNotIncreasing, i, index[i].Format(time.RFC3339))
		}
	}

	return &Frame{index: slices.Clone(index), columns: make(map[string][]float64)}, nil
}

// Hourly creates a frame without columns with n hourly timestamps starting at start.
func Hourly(start time.Time, n int) *Frame {
	index := make([]time.Time, n)
	for i := range index {
		index[i] = start.Add(time.Duration(i) * Step)
	}

	return &Frame{index: index, columns: make(map[string][]float64)}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.index)
}

// Time returns the timestamp of row i.
func (f *Frame) Time(i int) time.Time {
	return f.index[i]
}

// Times returns a copy of the frame timestamps.
func (f *Frame) Times() []time.Time {
	return slices.Clone(f.index)
}

// First returns the first timestamp or zero time for an empty frame.
func (f *Frame) First() time.Time {
	if len(f.index) == 0 {
		return time.Time{}
	}
	return f.index[0]
}

// Last returns the last timestamp or zero time for an empty frame.
func (f *Frame) Last() time.Time {
	if len(f.index) == 0 {
		return time.Time{}
	}
	return f.index[len(f.index)-1]
}

// Hourly checks that the frame has no gaps: every row is exactly one Step after the previous one.
func (f *Frame) Hourly() error {
	for i := 1; i < len(f.index); i++ {
		if d := f.index[i].Sub(f.index[i-1]); d != Step {
			return fmt.Errorf("%w: row %d at %s is %s after previous", ErrNotHourly, i, f.index[i].Format(time.RFC3339), d)
		}
	}
	return nil
}

// HourlyTail returns the rows after the last gap, the longest gap-free suffix.
func (f *Frame) HourlyTail() *Frame {
	from := 0
	for i := len(f.index) - 1; i > 0; i-- {
		if f.index[i].Sub(f.index[i-1]) != Step {
			from = i
			break
		}
	}
	return f.Slice(from, len(f.index))
}

// Names returns column names in insertion order.
func (f *Frame) Names() []string {
	return slices.Clone(f.names)
}

// Has reports whether the frame contains the column.
func (f *Frame) Has(name string) bool {
	_, ok := f.columns[name]
	return ok
}

// Column returns the values of the named column.
// The returned slice is shared with the frame and must not be modified.
func (f *Frame) Column(name string) ([]float64, error) {
	values, ok := f.columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, name)
	}
	return values[:len(values):len(values)], nil
}

// Value returns the value of the named column at row i, NaN if the column does not exist.
func (f *Frame) Value(name string, i int) float64 {
	values, ok := f.columns[name]
	if !ok {
		return math.NaN()
	}
	return values[i]
}

// SetColumn adds or replaces a column with a copy of values.
func (f *Frame) SetColumn(name string, values []float64) error {
	if len(values) != len(f.index) {
		return fmt.Errorf("%w: column %q has %d values, frame has %d rows", ErrLength, name, len(values), len(f.index))
	}

	if _, ok := f.columns[name]; !ok {
		f.names = append(f.names, name)
	}
	f.columns[name] = slices.Clone(values)
	return nil
}

// Fill adds or replaces a column where every row holds value.
func (f *Frame) Fill(name string, value float64) {
	values := make([]float64, len(f.index))
	for i := range values {
		values[i] = value
	}
	// length always matches
	_ = f.SetColumn(name, values)
}

// Append adds one row at t, which must be after the last timestamp.
// Columns missing from row get NaN, names unknown to the frame are rejected.
func (f *Frame) Append(t time.Time, row map[string]float64) error {
	if n := len(f.index); n > 0 && !t.After(f.index[n-1]) {
		return fmt.Errorf("%w: append %s after %s", ErrNotIncreasing, t.Format(time.RFC3339), f.index[n-1].Format(time.RFC3339))
	}

	for name := range row {
		if _, ok := f.columns[name]; !ok {
			return fmt.Errorf("append: %w: %q", ErrNoColumn, name)
		}
	}

	f.index = append(f.index, t)
	for _, name := range f.names {
		value, ok := row[name]
		if !ok {
			value = math.NaN()
		}
		f.columns[name] = append(f.columns[name], value)
	}

	return nil
}

// Row returns the values of row i keyed by column name.
func (f *Frame) Row(i int) map[string]float64 {
	row := make(map[string]float64, len(f.names))
	for _, name := range f.names {
		row[name] = f.columns[name][i]
	}
	return row
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		index:   slices.Clone(f.index),
		names:   slices.Clone(f.names),
		columns: make(map[string][]float64, len(f.columns)),
	}
	for name, values := range f.columns {
		c.columns[name] = slices.Clone(values)
	}
	return c
}

// Slice returns a deep copy of rows [from, to).
func (f *Frame) Slice(from, to int) *Frame {
	from = max(0, min(from, len(f.index)))
	to = max(from, min(to, len(f.index)))

	c := &Frame{
		index:   slices.Clone(f.index[from:to]),
		names:   slices.Clone(f.names),
		columns: make(map[string][]float64, len(f.columns)),
	}
	for name, values := range f.columns {
		c.columns[name] = slices.Clone(values[from:to])
	}
	return c
}

// Head returns a copy of the first n rows.
func (f *Frame) Head(n int) *Frame {
	return f.Slice(0, n)
}

// Tail returns a copy of the last n rows.
func (f *Frame) Tail(n int) *Frame {
	return f.Slice(len(f.index)-n, len(f.index))
}

// DropNaN returns a copy without rows that hold NaN in any column.
func (f *Frame) DropNaN() *Frame {
	c := &Frame{names: slices.Clone(f.names), columns: make(map[string][]float64, len(f.columns))}

	for i, t := range f.index {
		if f.hasNaN(i) {
			continue
		}
		c.index = append(c.index, t)
		for _, name := range f.names {
			c.columns[name] = append(c.columns[name], f.columns[name][i])
		}
	}

	for _, name := range c.names {
		if c.columns[name] == nil {
			c.columns[name] = []float64{}
		}
	}
	return c
}

func (f *Frame) hasNaN(i int) bool {
	for _, name := range f.names {
		if math.IsNaN(f.columns[name][i]) {
			return true
		}
	}
	return false
}

// Points returns the named column as timestamped points.
func (f *Frame) Points(name string) ([]Point, error) {
	values, err := f.Column(name)
	if err != nil {
		return nil, err
	}

	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{Timestamp: f.index[i], Value: v}
	}
	return points, nil
}

// LogValue implements slog.LogValuer for Frame.
func (f *Frame) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("rows", f.Len()),
		slog.Time("first", f.First()),
		slog.Time("last", f.Last()),
		slog.Any("columns", f.names),
	)
}
