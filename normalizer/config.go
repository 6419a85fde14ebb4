package normalizer

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Metric selects the similarity measure used by the concept index. It is
// fixed per deployment; changing it requires rebuilding the index.
type Metric string

const (
	// MetricCosine ranks by cosine similarity (the default).
	MetricCosine Metric = "cosine"
	// MetricDot ranks by raw dot product.
	MetricDot Metric = "dot"
	// MetricEuclidean ranks by negated Euclidean distance.
	MetricEuclidean Metric = "euclidean"
)

// AggregatorKind names a mention-vector aggregation strategy.
type AggregatorKind string

const (
	// AggregatorMean averages token vectors with uniform weights.
	AggregatorMean AggregatorKind = "mean"
	// AggregatorWeighted applies a position-decay weighting so that early
	// tokens of the mention contribute more than trailing context.
	AggregatorWeighted AggregatorKind = "weighted"
)

// Config enumerates every runtime option the normalizer recognizes.
type Config struct {
	// EmbeddingDimension is D, fixed for the deployment. Load fails when
	// the embedding table disagrees.
	EmbeddingDimension int `mapstructure:"embedding_dimension" json:"embedding_dimension"`
	// TopK is the number of candidates retrieved from the concept index
	// per mention. Defaults to 10.
	TopK int `mapstructure:"top_k" json:"top_k"`
	// NilThreshold is the minimum top score required to select a concept;
	// below it the outcome is NIL. Defaults to 0.5.
	NilThreshold float64 `mapstructure:"nil_threshold" json:"nil_threshold"`
	// SimilarityMetric is the retrieval metric. Defaults to cosine.
	SimilarityMetric Metric `mapstructure:"similarity_metric" json:"similarity_metric"`
	// SubwordFallbackEnabled controls OOV subword composition. Defaults to true.
	SubwordFallbackEnabled bool `mapstructure:"subword_fallback_enabled" json:"subword_fallback_enabled"`

	// Aggregator selects the mention encoding strategy. Defaults to mean.
	Aggregator AggregatorKind `mapstructure:"aggregator" json:"aggregator"`
	// ContextWeight scales context tokens relative to surface tokens when
	// a mention carries context. Defaults to 0.25.
	ContextWeight float64 `mapstructure:"context_weight" json:"context_weight"`
	// CacheTTL bounds how long encoded mention vectors are memoized.
	// Defaults to 10 minutes.
	CacheTTL time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`

	EmbeddingsPath string `mapstructure:"embeddings_path" json:"embeddings_path,omitempty"`
	VocabularyPath string `mapstructure:"vocabulary_path" json:"vocabulary_path,omitempty"`
	// IndexCachePath, when set, is a binary snapshot of the built concept
	// index: loaded instead of re-encoding the vocabulary when present,
	// written after a fresh build otherwise.
	IndexCachePath string `mapstructure:"index_cache_path" json:"index_cache_path,omitempty"`
	// ScorerPath points at a frozen scorer artifact (JSON weights for the
	// linear scorer). Empty selects the built-in cosine weights.
	ScorerPath string `mapstructure:"scorer_path" json:"scorer_path,omitempty"`
	// Onnx selects an ONNX ranking model as the scorer when its model_path
	// is set; it takes precedence over ScorerPath.
	Onnx     OnnxScorerConfig `mapstructure:"onnx" json:"onnx,omitempty"`
	LogLevel string           `mapstructure:"log_level" json:"log_level,omitempty"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	cfg := Config{
		NilThreshold:           0.5,
		SubwordFallbackEnabled: true,
		ContextWeight:          0.25,
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults populates zero values with the documented defaults. It does
// not touch SubwordFallbackEnabled, NilThreshold, or ContextWeight: false,
// "never NIL" and "ignore context" are meaningful settings there, so those
// defaults are applied by DefaultConfig and LoadConfig only.
func (c *Config) ApplyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.SimilarityMetric == "" {
		c.SimilarityMetric = MetricCosine
	}
	if c.Aggregator == "" {
		c.Aggregator = AggregatorMean
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be >= 1, got %d", c.TopK)
	}
	if c.EmbeddingDimension < 0 {
		return fmt.Errorf("embedding_dimension must not be negative, got %d", c.EmbeddingDimension)
	}
	switch c.SimilarityMetric {
	case MetricCosine, MetricDot, MetricEuclidean:
	default:
		return fmt.Errorf("unknown similarity_metric %q", c.SimilarityMetric)
	}
	switch c.Aggregator {
	case AggregatorMean, AggregatorWeighted:
	default:
		return fmt.Errorf("unknown aggregator %q", c.Aggregator)
	}
	if c.ContextWeight < 0 || c.ContextWeight > 1 {
		return fmt.Errorf("context_weight must be in [0,1], got %g", c.ContextWeight)
	}
	return nil
}

// LoadConfig reads configuration from the given YAML/JSON file, overlaying
// NORMALIZER_* environment variables. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NORMALIZER")
	v.AutomaticEnv()
	v.SetDefault("top_k", 10)
	v.SetDefault("nil_threshold", 0.5)
	v.SetDefault("similarity_metric", string(MetricCosine))
	v.SetDefault("subword_fallback_enabled", true)
	v.SetDefault("aggregator", string(AggregatorMean))
	v.SetDefault("context_weight", 0.25)
	v.SetDefault("cache_ttl", 10*time.Minute)
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
