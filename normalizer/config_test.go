package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.TopK)
	assert.Equal(t, 0.5, cfg.NilThreshold)
	assert.Equal(t, MetricCosine, cfg.SimilarityMetric)
	assert.Equal(t, AggregatorMean, cfg.Aggregator)
	assert.True(t, cfg.SubwordFallbackEnabled)
	assert.Equal(t, 0.25, cfg.ContextWeight)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"top_k below one", func(c *Config) { c.TopK = 0 }},
		{"negative dimension", func(c *Config) { c.EmbeddingDimension = -5 }},
		{"unknown metric", func(c *Config) { c.SimilarityMetric = "manhattan" }},
		{"unknown aggregator", func(c *Config) { c.Aggregator = "attention" }},
		{"context weight out of range", func(c *Config) { c.ContextWeight = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigDefaultsWhenNoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().TopK, cfg.TopK)
	assert.True(t, cfg.SubwordFallbackEnabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
embedding_dimension: 4
top_k: 5
nil_threshold: 0.7
similarity_metric: dot
subword_fallback_enabled: false
aggregator: weighted
context_weight: 0.1
embeddings_path: /data/vectors.txt
vocabulary_path: /data/vocab.tsv
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.EmbeddingDimension)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 0.7, cfg.NilThreshold)
	assert.Equal(t, MetricDot, cfg.SimilarityMetric)
	assert.False(t, cfg.SubwordFallbackEnabled)
	assert.Equal(t, AggregatorWeighted, cfg.Aggregator)
	assert.Equal(t, 0.1, cfg.ContextWeight)
	assert.Equal(t, "/data/vectors.txt", cfg.EmbeddingsPath)
}

func TestApplyDefaultsPreservesExplicitZeros(t *testing.T) {
	cfg := Config{NilThreshold: 0, ContextWeight: 0, SubwordFallbackEnabled: true}
	cfg.ApplyDefaults()
	assert.Equal(t, 0.0, cfg.NilThreshold, "nil_threshold 0 means never NIL for non-negative scores")
	assert.Equal(t, 0.0, cfg.ContextWeight, "context_weight 0 means ignore context")
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigKeepsExplicitZeros(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "nil_threshold: 0\ncontext_weight: 0\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.NilThreshold)
	assert.Equal(t, 0.0, cfg.ContextWeight)
}

func TestLoadConfigOnnxScorer(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "onnx:\n  model_path: /models/ranker.onnx\n  input_name: pair\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/models/ranker.onnx", cfg.Onnx.ModelPath)
	assert.Equal(t, "pair", cfg.Onnx.InputName)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "similarity_metric: manhattan\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
