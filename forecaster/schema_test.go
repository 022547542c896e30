package forecaster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchema(t *testing.T) {
	_, err := NewSchema(nil, nil)
	assert.ErrorIs(t, err, ErrMissingSchema)

	_, err = NewSchema([]string{"a", ""}, nil)
	assert.Error(t, err)

	_, err = NewSchema([]string{"a", "b", "a"}, nil)
	assert.Error(t, err)

	names := []string{"hour", "lag1", "extra"}
	s, err := NewSchema(names, map[string]float64{"extra": 7, "unknown": 1})
	require.NoError(t, err)

	names[0] = "changed"
	assert.Equal(t, []string{"hour", "lag1", "extra"}, s.Names())
	assert.Equal(t, 3, s.Len())

	i, ok := s.Index("lag1")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = s.Index("unknown")
	assert.False(t, ok)
}

func TestSchema_Vector(t *testing.T) {
	s, err := NewSchema([]string{"hour", "lag1", "extra", "missing"}, map[string]float64{"extra": 7})
	require.NoError(t, err)

	x, sanitized := s.Vector(map[string]float64{"lag1": 2.5, "hour": 3, "ignored": 9})
	assert.Equal(t, []float64{3, 2.5, 7, 0}, x)
	assert.Zero(t, sanitized)

	x, sanitized = s.Vector(map[string]float64{"hour": math.NaN(), "lag1": math.Inf(-1), "extra": 1})
	assert.Equal(t, []float64{0, 0, 1, 0}, x)
	assert.Equal(t, 2, sanitized)
}

func TestSanitize(t *testing.T) {
	x := []float64{1, math.NaN(), math.Inf(1), -2}
	assert.Equal(t, 2, Sanitize(x))
	assert.Equal(t, []float64{1, 0, 0, -2}, x)
	assert.Zero(t, Sanitize(nil))
}

func TestExtrapolators(t *testing.T) {
	week := make([]float64, 200)
	for i := range week {
		week[i] = float64(i)
	}
	short := []float64{4, 5, 6}

	tests := []struct {
		name   string
		policy Extrapolator
		values []float64
		step   int
		want   float64
	}{
		{name: "weekly first step", policy: WeeklyCycle{Period: 168}, values: week, step: 0, want: 32},
		{name: "weekly shifted", policy: WeeklyCycle{Period: 168}, values: week, step: 5, want: 37},
		{name: "weekly wraps", policy: WeeklyCycle{Period: 168}, values: week, step: 168 + 2, want: 34},
		{name: "weekly short history", policy: WeeklyCycle{Period: 168}, values: short, step: 3, want: 6},
		{name: "weekly exact period", policy: WeeklyCycle{Period: 3}, values: short, step: 1, want: 5},
		{name: "weekly invalid period", policy: WeeklyCycle{}, values: short, step: 1, want: 6},
		{name: "seasonal", policy: Seasonal{Period: 168}, values: week, step: 9, want: 32},
		{name: "seasonal short history", policy: Seasonal{Period: 168}, values: short, step: 0, want: 6},
		{name: "last value", policy: LastValue{}, values: week, step: 50, want: 199},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Extrapolate(tt.values, tt.step))
		})
	}
}
