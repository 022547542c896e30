package predictor

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/z0rr0/wattcast/features"
	"github.com/z0rr0/wattcast/forecaster"
	"github.com/z0rr0/wattcast/series"
)

const (
	daysInWeek = 7  // 0=Monday..6=Sunday
	hoursInDay = 24 // 0..23

	hoursInWeek = daysInWeek * hoursInDay
)

// HourlyStats is a storage for hourly statistics.
type HourlyStats struct {
	LastUpdate  time.Time // last update time
	WeightedSum float64   // Sum(value × weight)
	TotalWeight float64   // Sum(weight)
	Count       uint64    // total values counted
}

// Average returns the weighted average or NaN without data.
func (s *HourlyStats) Average() float64 {
	if s.TotalWeight <= 0 {
		return math.NaN()
	}
	return s.WeightedSum / s.TotalWeight
}

// Profile is a baseline predictor of weekday × hour exponentially decayed averages.
// It reads the weekday and hour of a row from the feature vector.
type Profile struct {
	stats       [daysInWeek][hoursInDay]*HourlyStats
	weekdayIdx  int
	hourIdx     int
	decayLambda float64
	minWeight   float64
	mu          sync.RWMutex
}

// NewProfile creates an empty profile for feature vectors ordered by schema.
func NewProfile(schema *forecaster.Schema) (*Profile, error) {
	if schema == nil {
		return nil, forecaster.ErrMissingSchema
	}

	weekdayIdx, ok := schema.Index(features.Weekday)
	if !ok {
		return nil, fmt.Errorf("profile: no %q feature", features.Weekday)
	}

	hourIdx, ok := schema.Index(features.Hour)
	if !ok {
		return nil, fmt.Errorf("profile: no %q feature", features.Hour)
	}

	p := &Profile{
		weekdayIdx:  weekdayIdx,
		hourIdx:     hourIdx,
		decayLambda: 0.1, // exp(-0.1*7) ~= 0.5 per week
		minWeight:   0.5,
	}

	for d := range daysInWeek {
		for h := range hoursInDay {
			p.stats[d][h] = &HourlyStats{}
		}
	}

	return p, nil
}

// Add adds a value observed at t and updates the statistics.
func (p *Profile) Add(t time.Time, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}

	c := features.NewCalendar(t)

	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats[c.Weekday][c.Hour]
	if !stats.LastUpdate.IsZero() {
		daysSinceUpdate := t.Sub(stats.LastUpdate).Hours() / hoursInDay
		if daysSinceUpdate > 0 {
			decayFactor := math.Exp(-p.decayLambda * daysSinceUpdate)
			stats.WeightedSum *= decayFactor
			stats.TotalWeight *= decayFactor
		}
	}

	stats.WeightedSum += value
	stats.TotalWeight += 1.0
	stats.Count++
	stats.LastUpdate = t
}

// Fit adds every target value of history.
func (p *Profile) Fit(history *series.Frame, target string) error {
	points, err := history.Points(target)
	if err != nil {
		return fmt.Errorf("profile fit: %w", err)
	}

	if len(points) < hoursInWeek {
		return fmt.Errorf("profile fit: %d rows, at least %d required", len(points), hoursInWeek)
	}

	for _, point := range points {
		p.Add(point.Timestamp, point.Value)
	}
	return nil
}

// Predict implements forecaster.Predictor.
func (p *Profile) Predict(x []float64) (float64, error) {
	if len(x) <= max(p.weekdayIdx, p.hourIdx) {
		return 0, errors.New("profile: short feature vector")
	}

	weekday, hour := int(x[p.weekdayIdx]), int(x[p.hourIdx])
	if weekday < 0 || weekday >= daysInWeek || hour < 0 || hour >= hoursInDay {
		return 0, fmt.Errorf("profile: invalid weekday %d or hour %d", weekday, hour)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if stats := p.stats[weekday][hour]; stats.TotalWeight >= p.minWeight {
		return stats.Average(), nil
	}

	return p.fallbackPrediction(weekday), nil
}

// fallbackPrediction returns the day average, then the week average, then zero.
func (p *Profile) fallbackPrediction(weekday int) float64 {
	var sum, weight float64

	for h := range hoursInDay {
		stats := p.stats[weekday][h]
		if stats.TotalWeight > 0 {
			sum += stats.WeightedSum
			weight += stats.TotalWeight
		}
	}

	if weight > 0 {
		return sum / weight
	}

	for d := range daysInWeek {
		for h := range hoursInDay {
			sum += p.stats[d][h].WeightedSum
			weight += p.stats[d][h].TotalWeight
		}
	}

	if weight > 0 {
		return sum / weight
	}

	return 0
}

// String implements the Stringer interface for Profile.
// It returns statistics for all weekdays and hours.
func (p *Profile) String() string {
	var s strings.Builder

	p.mu.RLock()
	defer p.mu.RUnlock()

	for d := range daysInWeek {
		for h := range hoursInDay {
			stats := p.stats[d][h]
			fmt.Fprintf(&s, "Weekday %d Hour %02d: Count=%d WeightedSum=%.3f TotalWeight=%.3f LastUpdate=%s\n",
				d, h, stats.Count, stats.WeightedSum, stats.TotalWeight, stats.LastUpdate.Format(time.RFC3339))
		}
	}

	return s.String()
}
