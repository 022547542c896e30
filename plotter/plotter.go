// Package plotter renders consumption history and forecasts as PNG charts.
package plotter

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/z0rr0/wattcast/series"
)

// ErrNotEnoughData is returned when there are fewer than two history points.
var ErrNotEnoughData = errors.New("graph called with not enough history points")

type dtFormat uint8

const (
	dtFormatSecond dtFormat = iota
	dtFormatMinute
	dtFormatHour
	dtFormatDay
	dtFormatWeek
	dtFormatMonth
	dtFormatYear
)

// time ranges for axis label formats, inclusive
const (
	periodSecond = 2 * time.Minute
	periodMinute = 24 * time.Hour
	periodHour   = 72 * time.Hour
	periodDay    = 14 * 24 * time.Hour
	periodWeek   = 92 * 24 * time.Hour
	periodMonth  = 2 * 365 * 24 * time.Hour
)

var dtFormatMap = map[dtFormat]string{
	dtFormatSecond: "15:04:05",
	dtFormatMinute: "15:04",
	dtFormatHour:   "Mon 15:04",
	dtFormatDay:    "Mon 02.01",
	dtFormatWeek:   "02.01",
	dtFormatMonth:  "Jan 2006",
	dtFormatYear:   "2006",
}

var (
	forecastColor = drawing.ColorFromHex("d62728")
	bufferPool    = sync.Pool{New: func() any { return new(bytes.Buffer) }}
)

// getDateFormat returns the axis label format for the range of sorted timestamps.
func getDateFormat(timestamps []time.Time) string {
	n := len(timestamps)
	if n < 2 {
		return dtFormatMap[dtFormatDay]
	}

	d := timestamps[n-1].Sub(timestamps[0])
	switch {
	case d <= periodSecond:
		return dtFormatMap[dtFormatSecond]
	case d <= periodMinute:
		return dtFormatMap[dtFormatMinute]
	case d <= periodHour:
		return dtFormatMap[dtFormatHour]
	case d <= periodDay:
		return dtFormatMap[dtFormatDay]
	case d <= periodWeek:
		return dtFormatMap[dtFormatWeek]
	case d <= periodMonth:
		return dtFormatMap[dtFormatMonth]
	default:
		return dtFormatMap[dtFormatYear]
	}
}

func timeSeries(name string, points []series.Point, location *time.Location, style chart.Style) chart.TimeSeries {
	xs := make([]time.Time, len(points))
	ys := make([]float64, len(points))

	for i, p := range points {
		xs[i] = p.Timestamp.In(location)
		ys[i] = p.Value
	}

	return chart.TimeSeries{Name: name, XValues: xs, YValues: ys, Style: style}
}

// yRange returns the value axis range covering all finite points, starting from zero for non-negative data.
func yRange(points ...[]series.Point) *chart.ContinuousRange {
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, pp := range points {
		for _, p := range pp {
			if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
				continue
			}
			minY, maxY = min(minY, p.Value), max(maxY, p.Value)
		}
	}

	switch {
	case math.IsInf(minY, 1):
		minY, maxY = 0, 1
	case minY >= 0:
		minY = 0
	}

	if maxY <= minY {
		maxY = minY + 1
	}

	return &chart.ContinuousRange{Min: minY, Max: maxY + (maxY-minY)*0.05}
}

// Graph draws history and an optional forecast, a forecast with fewer than two points is skipped.
// It returns the PNG image as a new byte slice.
func Graph(history, forecast []series.Point, location *time.Location) ([]byte, error) {
	if len(history) < 2 {
		return nil, fmt.Errorf("%w: %d", ErrNotEnoughData, len(history))
	}

	timestamps := make([]time.Time, 0, len(history)+len(forecast))
	for _, p := range history {
		timestamps = append(timestamps, p.Timestamp)
	}

	chartSeries := []chart.Series{
		timeSeries("History", history, location, chart.Style{
			StrokeColor: chart.ColorBlue,
			StrokeWidth: 2.0,
		}),
	}

	if len(forecast) > 1 {
		for _, p := range forecast {
			timestamps = append(timestamps, p.Timestamp)
		}
		chartSeries = append(chartSeries, timeSeries("Forecast", forecast, location, chart.Style{
			StrokeColor:     forecastColor,
			StrokeWidth:     2.0,
			StrokeDashArray: []float64{5.0, 3.0},
		}))
	}

	slog.Debug("created time series", "history", len(history), "forecast", len(forecast))

	graph := chart.Chart{
		Title:  "Household power consumption",
		Width:  1280,
		Height: 480,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10},
		},
		XAxis: chart.XAxis{
			Name:           "Time",
			ValueFormatter: chart.TimeValueFormatterWithFormat(getDateFormat(timestamps)),
			GridMajorStyle: chart.Style{
				StrokeColor: chart.ColorAlternateGray,
				StrokeWidth: 1.0,
			},
		},
		YAxis: chart.YAxis{
			Name:  "Global active power (kW)",
			Range: yRange(history, forecast),
			GridMajorStyle: chart.Style{
				StrokeColor: chart.ColorAlternateGray,
				StrokeWidth: 1.0,
			},
		},
		Series: chartSeries,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := graph.Render(chart.PNG, buf); err != nil {
		return nil, fmt.Errorf("render graph: %w", err)
	}

	return bytes.Clone(buf.Bytes()), nil
}
