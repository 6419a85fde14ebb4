package normalizer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIndexDuplicateID(t *testing.T) {
	_, err := BuildIndex([]Concept{
		{ID: "C001", Name: "a", Vector: []float32{1, 0}},
		{ID: "C001", Name: "b", Vector: []float32{0, 1}},
	}, MetricCosine)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Reason, "duplicate concept identifier")
}

func TestBuildIndexDimensionMismatch(t *testing.T) {
	_, err := BuildIndex([]Concept{
		{ID: "C001", Name: "a", Vector: []float32{1, 0}},
		{ID: "C002", Name: "b", Vector: []float32{0, 1, 0}},
	}, MetricCosine)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
}

func TestBuildIndexEmpty(t *testing.T) {
	_, err := BuildIndex(nil, MetricCosine)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
}

func TestRetrieveOrdering(t *testing.T) {
	ix, err := BuildIndex([]Concept{
		{ID: "C001", Name: "a", Vector: []float32{1, 0}},
		{ID: "C002", Name: "b", Vector: []float32{0.8, 0.2}},
		{ID: "C003", Name: "c", Vector: []float32{0, 1}},
	}, MetricCosine)
	require.NoError(t, err)

	hits, err := ix.Retrieve([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "C001", hits[0].ConceptID)
	assert.Equal(t, "C002", hits[1].ConceptID)
	assert.Equal(t, "C003", hits[2].ConceptID)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].Similarity, hits[i-1].Similarity)
	}
}

func TestRetrieveTieBreakByConceptID(t *testing.T) {
	// Identical vectors: similarity ties must resolve by ascending ID.
	ix, err := BuildIndex([]Concept{
		{ID: "C300", Name: "c", Vector: []float32{1, 0}},
		{ID: "C100", Name: "a", Vector: []float32{1, 0}},
		{ID: "C200", Name: "b", Vector: []float32{1, 0}},
	}, MetricCosine)
	require.NoError(t, err)

	hits, err := ix.Retrieve([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"C100", "C200", "C300"},
		[]string{hits[0].ConceptID, hits[1].ConceptID, hits[2].ConceptID})
}

func TestRetrieveLimitsK(t *testing.T) {
	ix, err := BuildIndex([]Concept{
		{ID: "C001", Name: "a", Vector: []float32{1, 0}},
		{ID: "C002", Name: "b", Vector: []float32{0, 1}},
	}, MetricCosine)
	require.NoError(t, err)

	hits, err := ix.Retrieve([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = ix.Retrieve([]float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrieveQueryDimensionMismatch(t *testing.T) {
	ix, err := BuildIndex([]Concept{
		{ID: "C001", Name: "a", Vector: []float32{1, 0}},
	}, MetricCosine)
	require.NoError(t, err)

	_, err = ix.Retrieve([]float32{1, 0, 0}, 1)
	assert.Error(t, err)
}

func TestRetrieveCollapsesConceptEntries(t *testing.T) {
	store, err := NewEmbeddingStore(2, map[string][]float32{
		"heart":      {1, 0},
		"attack":     {0, 1},
		"myocardial": {0.9, 0.1},
		"infarction": {0.1, 0.9},
	}, true)
	require.NoError(t, err)
	encoder, err := NewMentionEncoder(store, DefaultConfig(), nil)
	require.NoError(t, err)

	ix, err := BuildIndexWithEncoder(encoder, []Concept{
		{ID: "C001", Name: "myocardial infarction", Synonyms: []string{"heart attack"}},
	}, MetricCosine)
	require.NoError(t, err)

	hits, err := ix.Retrieve([]float32{0.5, 0.5}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1, "one concept must yield at most one hit")
	assert.Equal(t, "C001", hits[0].ConceptID)
}

func TestRetrieveMetrics(t *testing.T) {
	concepts := []Concept{
		{ID: "C001", Name: "a", Vector: []float32{2, 0}},
		{ID: "C002", Name: "b", Vector: []float32{0, 1}},
	}

	t.Run("dot prefers magnitude", func(t *testing.T) {
		ix, err := BuildIndex(concepts, MetricDot)
		require.NoError(t, err)
		hits, err := ix.Retrieve([]float32{1, 0.4}, 2)
		require.NoError(t, err)
		assert.Equal(t, "C001", hits[0].ConceptID)
		assert.InDelta(t, 2.0, hits[0].Similarity, 1e-6)
	})

	t.Run("euclidean is negated distance", func(t *testing.T) {
		ix, err := BuildIndex(concepts, MetricEuclidean)
		require.NoError(t, err)
		hits, err := ix.Retrieve([]float32{0, 1}, 2)
		require.NoError(t, err)
		assert.Equal(t, "C002", hits[0].ConceptID)
		assert.InDelta(t, 0.0, hits[0].Similarity, 1e-6)
		assert.Less(t, hits[1].Similarity, hits[0].Similarity)
	})
}

func TestIndexIsolatesStoredVectors(t *testing.T) {
	vec := []float32{1, 0}
	ix, err := BuildIndex([]Concept{{ID: "C001", Name: "a", Vector: vec}}, MetricCosine)
	require.NoError(t, err)

	vec[0] = -1
	hits, err := ix.Retrieve([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6, "index must deep-copy vectors at build time")

	hits[0].Vector[0] = -1
	again, err := ix.Retrieve([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, again[0].Similarity, 1e-6, "hits must carry copies")
}

func TestIndexSnapshotRoundTrip(t *testing.T) {
	store, err := NewEmbeddingStore(2, map[string][]float32{
		"heart":      {1, 0},
		"attack":     {0, 1},
		"myocardial": {0.9, 0.1},
		"infarction": {0.1, 0.9},
	}, true)
	require.NoError(t, err)
	encoder, err := NewMentionEncoder(store, DefaultConfig(), nil)
	require.NoError(t, err)

	ix, err := BuildIndexWithEncoder(encoder, []Concept{
		{ID: "C001", Name: "myocardial infarction", Synonyms: []string{"heart attack"}},
		{ID: "C002", Name: "heart"},
	}, MetricCosine)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "index.bin")
	require.NoError(t, ix.SaveBinary(path))

	loaded, err := LoadIndexBinary(path)
	require.NoError(t, err)
	assert.Equal(t, ix.Dim(), loaded.Dim())
	assert.Equal(t, ix.Metric(), loaded.Metric())
	assert.Equal(t, ix.Size(), loaded.Size())

	c, ok := loaded.Concept("C001")
	require.True(t, ok)
	assert.Equal(t, []string{"heart attack"}, c.Synonyms)

	query := []float32{0.7, 0.3}
	want, err := ix.Retrieve(query, 10)
	require.NoError(t, err)
	got, err := loaded.Retrieve(query, 10)
	require.NoError(t, err)
	assert.Equal(t, want, got, "retrieval must be identical after a snapshot round trip")
}

func TestLoadIndexBinaryRejectsBadMagic(t *testing.T) {
	path := writeTempFile(t, "index.bin", "not a snapshot")
	_, err := LoadIndexBinary(path)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
}
