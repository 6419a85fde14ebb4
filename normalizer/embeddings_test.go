package normalizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmbeddings(t *testing.T) {
	path := writeTempFile(t, "vectors.txt", `3 4
heart 1 0 0 0
attack 0 1 0 0
cardio 0.5 0.5 0 0
`)
	store, err := LoadEmbeddings(path, true)
	require.NoError(t, err)
	assert.Equal(t, 4, store.Dim())
	assert.Equal(t, 3, store.Size())

	vec, oov := store.Vector("heart")
	assert.False(t, oov)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)
}

func TestLoadEmbeddingsWithoutHeader(t *testing.T) {
	path := writeTempFile(t, "vectors.txt", "heart 1 0\nattack 0 1\n")
	store, err := LoadEmbeddings(path, true)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Dim())
	assert.Equal(t, 2, store.Size())
}

func TestLoadEmbeddingsDimensionMismatch(t *testing.T) {
	path := writeTempFile(t, "vectors.txt", "heart 1 0 0\nattack 0 1\n")
	_, err := LoadEmbeddings(path, true)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Reason, "dimension")
}

func TestLoadEmbeddingsDuplicateToken(t *testing.T) {
	t.Run("conflicting vectors fail", func(t *testing.T) {
		path := writeTempFile(t, "vectors.txt", "heart 1 0\nheart 0 1\n")
		_, err := LoadEmbeddings(path, true)
		var resErr *ResourceError
		require.ErrorAs(t, err, &resErr)
		assert.Contains(t, resErr.Reason, "duplicate token")
	})
	t.Run("identical vectors tolerated", func(t *testing.T) {
		path := writeTempFile(t, "vectors.txt", "heart 1 0\nheart 1 0\n")
		store, err := LoadEmbeddings(path, true)
		require.NoError(t, err)
		assert.Equal(t, 1, store.Size())
	})
}

func TestLoadEmbeddingsEmpty(t *testing.T) {
	path := writeTempFile(t, "vectors.txt", "\n\n")
	_, err := LoadEmbeddings(path, true)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
}

func TestVectorSubwordFallback(t *testing.T) {
	store, err := NewEmbeddingStore(2, map[string][]float32{
		"myo":     {1, 0},
		"cardial": {0, 1},
	}, true)
	require.NoError(t, err)

	vec, oov := store.Vector("myocardial")
	assert.False(t, oov, "composed token must not count as OOV")
	assert.Equal(t, []float32{0.5, 0.5}, vec)
}

func TestVectorNoFragmentsYieldsZero(t *testing.T) {
	store, err := NewEmbeddingStore(2, map[string][]float32{
		"heart": {1, 0},
	}, true)
	require.NoError(t, err)

	vec, oov := store.Vector("qqqq")
	assert.True(t, oov)
	assert.Equal(t, []float32{0, 0}, vec)
}

func TestVectorFallbackDisabled(t *testing.T) {
	store, err := NewEmbeddingStore(2, map[string][]float32{
		"myo":     {1, 0},
		"cardial": {0, 1},
	}, false)
	require.NoError(t, err)

	vec, oov := store.Vector("myocardial")
	assert.True(t, oov)
	assert.Equal(t, []float32{0, 0}, vec)
}

func TestVectorReturnsCopies(t *testing.T) {
	store, err := NewEmbeddingStore(2, map[string][]float32{"heart": {1, 0}}, true)
	require.NoError(t, err)

	vec, _ := store.Vector("heart")
	vec[0] = 99
	again, _ := store.Vector("heart")
	assert.Equal(t, []float32{1, 0}, again)
}

func TestBinaryRoundTrip(t *testing.T) {
	store, err := NewEmbeddingStore(3, map[string][]float32{
		"heart":  {0.125, -3.5, 1e-7},
		"attack": {42, 0, -0.0625},
	}, true)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, store.SaveBinary(path))

	loaded, err := LoadEmbeddingsBinary(path, true)
	require.NoError(t, err)
	assert.Equal(t, store.Dim(), loaded.Dim())
	assert.Equal(t, store.Size(), loaded.Size())
	for _, token := range []string{"heart", "attack"} {
		want, _ := store.Vector(token)
		got, oov := loaded.Vector(token)
		assert.False(t, oov)
		assert.Equal(t, want, got, "vectors must round-trip bit-for-bit")
	}
}

func TestLoadEmbeddingsBinaryRejectsGarbage(t *testing.T) {
	path := writeTempFile(t, "vectors.bin", "definitely not a snapshot")
	_, err := LoadEmbeddingsBinary(path, true)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
}
