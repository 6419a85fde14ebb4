package normalizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/viterin/vek/vek32"
)

// Hit is one retrieval result: a concept, the name or synonym entry it was
// reached through, that entry's vector, and the similarity under the index
// metric.
type Hit struct {
	ConceptID  string
	Label      string
	Vector     []float32
	Similarity float64
}

type indexEntry struct {
	conceptID string
	label     string
	vector    []float32
	norm      float64
}

// ConceptIndex holds one vector per canonical name and per synonym of every
// vocabulary concept and answers top-k similarity queries over them. It is
// built once, immutable afterwards, and safe for concurrent retrieval.
//
// Retrieval is an exact scan. The contract is only on the final ordering:
// descending similarity, ties broken by ascending concept ID. A concept
// appears at most once per result, represented by its best-scoring entry.
type ConceptIndex struct {
	metric   Metric
	dim      int
	entries  []indexEntry
	concepts map[string]*Concept
}

// BuildIndex constructs an index from concepts that carry precomputed
// canonical vectors. Duplicate concept IDs, missing vectors, and
// dimensionality mismatches abort the build with a *ResourceError. Synonyms
// carry no vectors of their own in this mode and are kept only as concept
// metadata; use BuildIndexWithEncoder to index them.
func BuildIndex(concepts []Concept, metric Metric) (*ConceptIndex, error) {
	return buildIndex(concepts, metric, nil)
}

// BuildIndexWithEncoder constructs an index by encoding every canonical name
// and synonym with the given encoder. Concepts that carry a precomputed
// vector keep it for the canonical name; synonyms are always encoded.
func BuildIndexWithEncoder(encoder *MentionEncoder, concepts []Concept, metric Metric) (*ConceptIndex, error) {
	if encoder == nil {
		return nil, ErrNotInitialized
	}
	return buildIndex(concepts, metric, encoder)
}

func buildIndex(concepts []Concept, metric Metric, encoder *MentionEncoder) (*ConceptIndex, error) {
	switch metric {
	case MetricCosine, MetricDot, MetricEuclidean:
	case "":
		metric = MetricCosine
	default:
		return nil, resourceErrorf("vocabulary", "unknown similarity metric %q", metric)
	}
	if len(concepts) == 0 {
		return nil, resourceErrorf("vocabulary", "no concepts to index")
	}

	ix := &ConceptIndex{
		metric:   metric,
		concepts: make(map[string]*Concept, len(concepts)),
	}
	for i := range concepts {
		c := concepts[i]
		if c.ID == "" {
			return nil, resourceErrorf("vocabulary", "concept %d has an empty identifier", i)
		}
		if _, dup := ix.concepts[c.ID]; dup {
			return nil, resourceErrorf("vocabulary", "duplicate concept identifier %q", c.ID)
		}

		canonical := c.Vector
		if canonical == nil {
			if encoder == nil {
				return nil, resourceErrorf("vocabulary", "concept %q has no precomputed vector", c.ID)
			}
			vec, err := encoder.EncodeText(c.Name)
			if err != nil {
				return nil, &ResourceError{Source: "vocabulary", Reason: fmt.Sprintf("encode name of %q", c.ID), Err: err}
			}
			canonical = vec
		}
		if err := ix.addEntry(c.ID, c.Name, canonical); err != nil {
			return nil, err
		}
		for _, syn := range c.Synonyms {
			if encoder == nil {
				continue
			}
			vec, err := encoder.EncodeText(syn)
			if err != nil {
				return nil, &ResourceError{Source: "vocabulary", Reason: fmt.Sprintf("encode synonym %q of %q", syn, c.ID), Err: err}
			}
			if err := ix.addEntry(c.ID, syn, vec); err != nil {
				return nil, err
			}
		}

		stored := c
		stored.Vector = cloneVector(canonical)
		ix.concepts[c.ID] = &stored
	}
	return ix, nil
}

func (ix *ConceptIndex) addEntry(conceptID, label string, vec []float32) error {
	if ix.dim == 0 {
		ix.dim = len(vec)
	}
	if len(vec) != ix.dim {
		return resourceErrorf("vocabulary", "concept %q entry %q has dimension %d, index has %d", conceptID, label, len(vec), ix.dim)
	}
	v := cloneVector(vec)
	ix.entries = append(ix.entries, indexEntry{
		conceptID: conceptID,
		label:     label,
		vector:    v,
		norm:      math.Sqrt(float64(vek32.Dot(v, v))),
	})
	return nil
}

// Dim returns the dimensionality of indexed vectors.
func (ix *ConceptIndex) Dim() int { return ix.dim }

// Metric returns the similarity measure the index was built with.
func (ix *ConceptIndex) Metric() Metric { return ix.metric }

// Size returns the number of indexed concepts.
func (ix *ConceptIndex) Size() int { return len(ix.concepts) }

// Concept looks up a concept by identifier.
func (ix *ConceptIndex) Concept(id string) (*Concept, bool) {
	c, ok := ix.concepts[id]
	return c, ok
}

// Retrieve returns up to k concepts ranked by similarity to the query,
// highest first, ties broken by ascending concept ID. Each concept appears
// once, carried by its best-scoring name or synonym entry.
func (ix *ConceptIndex) Retrieve(query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query has dimension %d, index has %d", len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	queryNorm := math.Sqrt(float64(vek32.Dot(query, query)))

	// Collapse to one hit per concept, keeping the best entry. Ties within
	// a concept go to the lexicographically smaller label so retrieval is
	// reproducible regardless of entry order.
	best := make(map[string]Hit, len(ix.concepts))
	for i := range ix.entries {
		e := &ix.entries[i]
		sim := ix.similarity(query, queryNorm, e)
		prev, seen := best[e.conceptID]
		if !seen || sim > prev.Similarity || (sim == prev.Similarity && e.label < prev.Label) {
			best[e.conceptID] = Hit{
				ConceptID:  e.conceptID,
				Label:      e.label,
				Vector:     e.vector,
				Similarity: sim,
			}
		}
	}

	hits := make([]Hit, 0, len(best))
	for _, h := range best {
		h.Vector = cloneVector(h.Vector)
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity == hits[j].Similarity {
			return hits[i].ConceptID < hits[j].ConceptID
		}
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (ix *ConceptIndex) similarity(query []float32, queryNorm float64, e *indexEntry) float64 {
	switch ix.metric {
	case MetricDot:
		return float64(vek32.Dot(query, e.vector))
	case MetricEuclidean:
		var sum float64
		for i := range query {
			d := float64(query[i] - e.vector[i])
			sum += d * d
		}
		return -math.Sqrt(sum)
	default: // cosine
		if queryNorm == 0 || e.norm == 0 {
			return 0
		}
		return float64(vek32.Dot(query, e.vector)) / (queryNorm * e.norm)
	}
}
