package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/viterin/vek/vek32"
)

// Scorer is the narrow contract the pipeline consumes a frozen ranking model
// through. Score returns a real-valued compatibility score for a mention
// vector and one candidate concept vector; higher means more likely correct.
// Implementations must be pure and safe for concurrent use.
type Scorer interface {
	Score(mention, concept []float32) (float64, error)
	// ScoreBatch is value-for-value equivalent to calling Score once per
	// concept vector, in order.
	ScoreBatch(mention []float32, concepts [][]float32) ([]float64, error)
}

// scoreBatch implements the batched variant as a plain loop, so batching can
// never introduce numerical divergence from the single-candidate path.
func scoreBatch(s Scorer, mention []float32, concepts [][]float32) ([]float64, error) {
	out := make([]float64, len(concepts))
	for i, c := range concepts {
		score, err := s.Score(mention, c)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		out[i] = score
	}
	return out, nil
}

// LinearWeights is the frozen parameter set of a LinearScorer, produced by
// the offline training pipeline and persisted as JSON.
type LinearWeights struct {
	Cosine    float64 `json:"cosine"`
	Dot       float64 `json:"dot"`
	Euclidean float64 `json:"euclidean"`
	Bias      float64 `json:"bias"`
}

// DefaultLinearWeights scores by plain cosine similarity.
func DefaultLinearWeights() LinearWeights {
	return LinearWeights{Cosine: 1}
}

// LinearScorer is an affine model over deterministic vector-pair features:
// cosine similarity, dot product, and negated Euclidean distance. It is
// stateless after construction.
type LinearScorer struct {
	weights LinearWeights
}

// NewLinearScorer wraps a frozen weight set.
func NewLinearScorer(w LinearWeights) *LinearScorer {
	return &LinearScorer{weights: w}
}

// LoadLinearScorer reads a JSON weight artifact written by the trainer.
func LoadLinearScorer(path string) (*LinearScorer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "read scorer weights", Err: err}
	}
	var w LinearWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ResourceError{Source: path, Reason: "decode scorer weights", Err: err}
	}
	return NewLinearScorer(w), nil
}

// Score computes the affine feature combination for one candidate.
func (s *LinearScorer) Score(mention, concept []float32) (float64, error) {
	if len(mention) != len(concept) {
		return 0, fmt.Errorf("mention dimension %d != concept dimension %d", len(mention), len(concept))
	}
	dot := float64(vek32.Dot(mention, concept))
	out := s.weights.Bias + s.weights.Dot*dot

	if s.weights.Cosine != 0 {
		mNorm := math.Sqrt(float64(vek32.Dot(mention, mention)))
		cNorm := math.Sqrt(float64(vek32.Dot(concept, concept)))
		if mNorm > 0 && cNorm > 0 {
			out += s.weights.Cosine * dot / (mNorm * cNorm)
		}
	}
	if s.weights.Euclidean != 0 {
		var sum float64
		for i := range mention {
			d := float64(mention[i] - concept[i])
			sum += d * d
		}
		out += s.weights.Euclidean * -math.Sqrt(sum)
	}
	return out, nil
}

// ScoreBatch scores each candidate with Score.
func (s *LinearScorer) ScoreBatch(mention []float32, concepts [][]float32) ([]float64, error) {
	return scoreBatch(s, mention, concepts)
}

// EnsembleScorer averages the scores of several frozen members, mirroring
// ensemble prediction in the offline pipeline. Members are consulted in
// order, so the floating-point summation order is fixed.
type EnsembleScorer struct {
	members []Scorer
}

// NewEnsembleScorer wraps one or more member scorers.
func NewEnsembleScorer(members ...Scorer) (*EnsembleScorer, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble requires at least one member scorer")
	}
	return &EnsembleScorer{members: members}, nil
}

// Score returns the arithmetic mean of the member scores.
func (s *EnsembleScorer) Score(mention, concept []float32) (float64, error) {
	var sum float64
	for i, m := range s.members {
		score, err := m.Score(mention, concept)
		if err != nil {
			return 0, fmt.Errorf("ensemble member %d: %w", i, err)
		}
		sum += score
	}
	return sum / float64(len(s.members)), nil
}

// ScoreBatch scores each candidate with Score.
func (s *EnsembleScorer) ScoreBatch(mention []float32, concepts [][]float32) ([]float64, error) {
	return scoreBatch(s, mention, concepts)
}
