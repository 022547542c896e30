package forecaster

import (
	"fmt"
	"math"
	"slices"
)

// Schema is the ordered list of feature names a predictor was trained with,
// plus the value used for any name a forecast step does not produce.
type Schema struct {
	names    []string
	defaults []float64
	index    map[string]int
}

// NewSchema resolves the feature order and per-name defaults once.
// Names without an entry in defaults default to 0.
func NewSchema(names []string, defaults map[string]float64) (*Schema, error) {
	if len(names) == 0 {
		return nil, ErrMissingSchema
	}

	s := &Schema{
		names:    slices.Clone(names),
		defaults: make([]float64, len(names)),
		index:    make(map[string]int, len(names)),
	}

	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("schema: empty feature name at %d", i)
		}
		if _, ok := s.index[name]; ok {
			return nil, fmt.Errorf("schema: duplicate feature %q", name)
		}
		s.index[name] = i
		s.defaults[i] = defaults[name]
	}

	return s, nil
}

// Names returns feature names in predictor order.
func (s *Schema) Names() []string {
	return slices.Clone(s.names)
}

// Len returns the number of features.
func (s *Schema) Len() int {
	return len(s.names)
}

// Index returns the position of a feature.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Vector builds a sanitized feature vector from values keyed by name.
// It returns the vector and the number of sanitized entries.
func (s *Schema) Vector(values map[string]float64) ([]float64, int) {
	x := make([]float64, len(s.names))
	for i, name := range s.names {
		if v, ok := values[name]; ok {
			x[i] = v
		} else {
			x[i] = s.defaults[i]
		}
	}
	return x, Sanitize(x)
}

// Sanitize replaces NaN and ±Inf with 0 in place and returns how many values were replaced.
func Sanitize(x []float64) int {
	var n int
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			x[i] = 0
			n++
		}
	}
	return n
}
