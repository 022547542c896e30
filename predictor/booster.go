package predictor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrModelFormat is returned for model files that cannot be evaluated.
var ErrModelFormat = errors.New("unsupported model format")

type linkFunc func(margin float64) float64

// Booster evaluates a gradient-boosted tree ensemble saved in the XGBoost JSON format.
// It is read-only after loading and safe for concurrent use.
type Booster struct {
	trees        []tree
	featureNames []string
	numFeature   int
	baseMargin   float64
	objective    string
	link         linkFunc
}

// tree keeps node arrays as stored by XGBoost, node 0 is the root.
type tree struct {
	left        []int
	right       []int
	feature     []int
	condition   []float32
	defaultLeft []bool
}

// flag accepts both boolean and 0/1 encodings used by different XGBoost versions.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	switch s := string(bytes.TrimSpace(data)); s {
	case "true", "1":
		*f = true
	case "false", "0":
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", s)
	}
	return nil
}

type jsonTree struct {
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     []flag    `json:"default_left"`
}

type jsonModel struct {
	Learner struct {
		FeatureNames    []string `json:"feature_names"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees []jsonTree `json:"trees"`
			} `json:"model"`
		} `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumFeature string `json:"num_feature"`
			NumClass   string `json:"num_class"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
}

// LoadBooster reads a model file.
func LoadBooster(path string) (*Booster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	b, err := ParseBooster(data)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", path, err)
	}

	slog.Info("model loaded", "path", path, "booster", b)
	return b, nil
}

// ParseBooster decodes a model from its JSON representation.
func ParseBooster(data []byte) (*Booster, error) {
	var m jsonModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelFormat, err)
	}

	learner := &m.Learner
	if name := learner.GradientBooster.Name; name != "gbtree" {
		return nil, fmt.Errorf("%w: booster %q", ErrModelFormat, name)
	}

	if nc := learner.LearnerModelParam.NumClass; nc != "" && nc != "0" && nc != "1" {
		return nil, fmt.Errorf("%w: multi-class model with %s classes", ErrModelFormat, nc)
	}

	baseScore, err := parseParam(learner.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, fmt.Errorf("%w: base_score: %w", ErrModelFormat, err)
	}

	numFeature, err := strconv.Atoi(learner.LearnerModelParam.NumFeature)
	if err != nil || numFeature < 1 {
		return nil, fmt.Errorf("%w: num_feature %q", ErrModelFormat, learner.LearnerModelParam.NumFeature)
	}

	if n := len(learner.FeatureNames); n > 0 && n != numFeature {
		return nil, fmt.Errorf("%w: %d feature names for %d features", ErrModelFormat, n, numFeature)
	}

	b := &Booster{
		trees:        make([]tree, 0, len(learner.GradientBooster.Model.Trees)),
		featureNames: learner.FeatureNames,
		numFeature:   numFeature,
		objective:    learner.Objective.Name,
	}

	if b.baseMargin, b.link, err = objectiveLink(b.objective, baseScore); err != nil {
		return nil, err
	}

	for i := range learner.GradientBooster.Model.Trees {
		t, err := newTree(&learner.GradientBooster.Model.Trees[i], numFeature)
		if err != nil {
			return nil, fmt.Errorf("%w: tree %d: %w", ErrModelFormat, i, err)
		}
		b.trees = append(b.trees, t)
	}

	return b, nil
}

// parseParam reads a numeric parameter, newer versions store it as "[5E-1]".
func parseParam(s string) (float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return 0.5, nil
	}
	return strconv.ParseFloat(s, 64)
}

// objectiveLink returns the base margin and the transformation from margin to prediction.
func objectiveLink(objective string, baseScore float64) (float64, linkFunc, error) {
	identity := func(m float64) float64 { return m }

	switch objective {
	case "", "reg:squarederror", "reg:linear", "reg:absoluteerror", "reg:pseudohubererror",
		"reg:squaredlogerror", "reg:quantileerror":
		return baseScore, identity, nil
	case "reg:logistic", "binary:logistic":
		if baseScore <= 0 || baseScore >= 1 {
			return 0, nil, fmt.Errorf("%w: base_score %v for %s", ErrModelFormat, baseScore, objective)
		}
		return math.Log(baseScore / (1 - baseScore)), func(m float64) float64 { return 1 / (1 + math.Exp(-m)) }, nil
	case "count:poisson", "reg:gamma", "reg:tweedie":
		if baseScore <= 0 {
			return 0, nil, fmt.Errorf("%w: base_score %v for %s", ErrModelFormat, baseScore, objective)
		}
		return math.Log(baseScore), math.Exp, nil
	default:
		return 0, nil, fmt.Errorf("%w: objective %q", ErrModelFormat, objective)
	}
}

func newTree(jt *jsonTree, numFeature int) (tree, error) {
	n := len(jt.LeftChildren)
	if n == 0 {
		return tree{}, errors.New("no nodes")
	}
	if len(jt.RightChildren) != n || len(jt.SplitIndices) != n || len(jt.SplitConditions) != n {
		return tree{}, errors.New("node arrays differ in length")
	}
	if len(jt.DefaultLeft) != 0 && len(jt.DefaultLeft) != n {
		return tree{}, errors.New("default_left length differs")
	}

	t := tree{
		left:        jt.LeftChildren,
		right:       jt.RightChildren,
		feature:     jt.SplitIndices,
		condition:   make([]float32, n),
		defaultLeft: make([]bool, n),
	}

	for i := range n {
		t.condition[i] = float32(jt.SplitConditions[i])
		if len(jt.DefaultLeft) > 0 {
			t.defaultLeft[i] = bool(jt.DefaultLeft[i])
		}

		if t.left[i] == -1 {
			continue // leaf
		}
		// children always follow their parent, so evaluation cannot loop
		if t.left[i] <= i || t.left[i] >= n || t.right[i] <= i || t.right[i] >= n {
			return tree{}, fmt.Errorf("node %d has invalid children", i)
		}
		if t.feature[i] < 0 || t.feature[i] >= numFeature {
			return tree{}, fmt.Errorf("node %d splits on feature %d", i, t.feature[i])
		}
	}

	return t, nil
}

// leaf walks the tree and returns the leaf value. Splits compare in single precision.
func (t *tree) leaf(x []float64) float64 {
	i := 0
	for t.left[i] != -1 {
		v := x[t.feature[i]]
		switch {
		case math.IsNaN(v):
			if t.defaultLeft[i] {
				i = t.left[i]
			} else {
				i = t.right[i]
			}
		case float32(v) < t.condition[i]:
			i = t.left[i]
		default:
			i = t.right[i]
		}
	}
	return float64(t.condition[i])
}

// Predict implements forecaster.Predictor.
func (b *Booster) Predict(x []float64) (float64, error) {
	if len(x) != b.numFeature {
		return 0, fmt.Errorf("got %d features, model expects %d", len(x), b.numFeature)
	}

	margin := b.baseMargin
	for i := range b.trees {
		margin += b.trees[i].leaf(x)
	}
	return b.link(margin), nil
}

// FeatureNames returns the names stored in the model, possibly empty.
func (b *Booster) FeatureNames() []string {
	return b.featureNames
}

// NumFeature returns the expected feature vector length.
func (b *Booster) NumFeature() int {
	return b.numFeature
}

// LogValue implements slog.LogValuer for Booster.
func (b *Booster) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("trees", len(b.trees)),
		slog.Int("features", b.numFeature),
		slog.String("objective", b.objective),
	)
}
