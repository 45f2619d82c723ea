package ml

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// ──────────────────────────────────────────────────────────────────────
// Anomaly Model
//
// An isolation-forest ensemble serialized as JSON: a per-feature
// standardizer plus a list of binary trees. Scoring follows the usual
// construction — average path length across trees, normalized by c(n),
// mapped through s = 2^(−E[h]/c(n)). The decision function is
// raw = offset − s, so outliers land below zero.
//
// The embedded default model ships with the binary; ML_MODEL_PATH
// overrides it at startup.
// ──────────────────────────────────────────────────────────────────────

//go:embed default_model.json
var defaultModelJSON []byte

// treeNode is one node of a serialized isolation tree. Feature == -1
// marks a leaf; Size is the training-sample count that reached it.
type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Size      int     `json:"size"`
}

type isoTree struct {
	Nodes []treeNode `json:"nodes"`
}

// Model is a loaded, validated anomaly model.
type Model struct {
	Version    int       `json:"version"`
	SampleSize int       `json:"sample_size"`
	Offset     float64   `json:"offset"`
	Mean       []float64 `json:"mean"`
	Std        []float64 `json:"std"`
	Trees      []isoTree `json:"trees"`
}

// LoadModel reads a model from path, or the embedded default when path
// is empty.
func LoadModel(path string) (*Model, error) {
	data := defaultModelJSON
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model file %s: %w", path, err)
		}
		data = b
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse anomaly model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid anomaly model: %w", err)
	}
	return &m, nil
}

func (m *Model) validate() error {
	if len(m.Mean) != FeatureCount || len(m.Std) != FeatureCount {
		return fmt.Errorf("standardizer arity %d/%d, want %d", len(m.Mean), len(m.Std), FeatureCount)
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("model has no trees")
	}
	if m.SampleSize < 2 {
		return fmt.Errorf("sample_size %d too small", m.SampleSize)
	}
	for ti, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature >= FeatureCount {
				return fmt.Errorf("tree %d node %d references feature %d", ti, ni, n.Feature)
			}
			if n.Feature >= 0 {
				if n.Left < 0 || n.Left >= len(t.Nodes) || n.Right < 0 || n.Right >= len(t.Nodes) {
					return fmt.Errorf("tree %d node %d has out-of-range children", ti, ni)
				}
			}
		}
	}
	return nil
}

// Score runs the decision function over one feature vector. Returns the
// raw score (negative = outlier) and the outlier flag.
func (m *Model) Score(features [FeatureCount]float64) (raw float64, outlier bool) {
	var std [FeatureCount]float64
	for i := range features {
		d := m.Std[i]
		if d == 0 {
			d = 1
		}
		std[i] = (features[i] - m.Mean[i]) / d
	}

	total := 0.0
	for _, t := range m.Trees {
		total += t.pathLength(std)
	}
	avgPath := total / float64(len(m.Trees))

	s := math.Pow(2, -avgPath/avgPathLength(m.SampleSize))
	raw = m.Offset - s
	return raw, raw < 0
}

// pathLength walks one tree and returns the estimated isolation depth,
// extended by c(size) at non-singleton leaves.
func (t *isoTree) pathLength(v [FeatureCount]float64) float64 {
	idx := 0
	depth := 0.0
	for steps := 0; steps < len(t.Nodes); steps++ {
		node := t.Nodes[idx]
		if node.Feature < 0 {
			return depth + avgPathLength(node.Size)
		}
		depth++
		if v[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
	return depth
}

// avgPathLength is c(n), the expected unsuccessful-search depth of a
// BST over n samples.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}
