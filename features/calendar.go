// Package features derives calendar, lag and rolling-window features from hourly series.
//
// Every deriver returns a new frame and leaves the columns of its input untouched,
// so the same functions serve training matrix assembly and recursive forecasting.
package features

import (
	"time"

	"github.com/z0rr0/wattcast/series"
)

// Calendar feature names.
const (
	Hour       = "hour"
	Day        = "day"
	Weekday    = "weekday"
	WeekOfYear = "weekofyear"
	Month      = "month"
	Year       = "year"
	IsWeekend  = "is_weekend"
)

// CalendarNames lists calendar feature names in column order.
var CalendarNames = []string{Hour, Day, Weekday, WeekOfYear, Month, Year, IsWeekend}

// Calendar holds the calendar-derived scalars of a timestamp.
type Calendar struct {
	Hour       int // 0..23
	Day        int // day of month
	Weekday    int // 0=Monday..6=Sunday
	WeekOfYear int // ISO 8601 week
	Month      int
	Year       int
	Weekend    bool
}

// NewCalendar derives calendar features of t in its own location.
func NewCalendar(t time.Time) Calendar {
	_, week := t.ISOWeek()
	weekday := (int(t.Weekday()) + 6) % 7

	return Calendar{
		Hour:       t.Hour(),
		Day:        t.Day(),
		Weekday:    weekday,
		WeekOfYear: week,
		Month:      int(t.Month()),
		Year:       t.Year(),
		Weekend:    weekday >= 5,
	}
}

// Fill stores calendar features into row by name.
func (c Calendar) Fill(row map[string]float64) {
	row[Hour] = float64(c.Hour)
	row[Day] = float64(c.Day)
	row[Weekday] = float64(c.Weekday)
	row[WeekOfYear] = float64(c.WeekOfYear)
	row[Month] = float64(c.Month)
	row[Year] = float64(c.Year)
	row[IsWeekend] = 0
	if c.Weekend {
		row[IsWeekend] = 1
	}
}

// AddCalendar returns a copy of f with calendar feature columns.
func AddCalendar(f *series.Frame) *series.Frame {
	result := f.Clone()
	n := f.Len()

	columns := make(map[string][]float64, len(CalendarNames))
	for _, name := range CalendarNames {
		columns[name] = make([]float64, n)
	}

	row := make(map[string]float64, len(CalendarNames))
	for i := range n {
		NewCalendar(f.Time(i)).Fill(row)
		for name, v := range row {
			columns[name][i] = v
		}
	}

	for _, name := range CalendarNames {
		// lengths always match the frame
		_ = result.SetColumn(name, columns[name])
	}
	return result
}
