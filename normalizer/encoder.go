package normalizer

import (
	"fmt"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Aggregator combines token vectors (with per-token weights) into one
// fixed-dimensionality mention vector. Implementations must be deterministic:
// the same vectors and weights always produce the same output.
type Aggregator interface {
	Name() string
	Aggregate(dim int, vectors [][]float32, weights []float64) []float32
}

// MeanAggregator is the weighted arithmetic mean of the token vectors.
type MeanAggregator struct{}

func (MeanAggregator) Name() string { return string(AggregatorMean) }

func (MeanAggregator) Aggregate(dim int, vectors [][]float32, weights []float64) []float32 {
	return weightedMean(dim, vectors, weights)
}

// WeightedAggregator decays token weights by position, so the first tokens
// of the mention dominate long trailing context.
type WeightedAggregator struct {
	Decay float64
}

func (WeightedAggregator) Name() string { return string(AggregatorWeighted) }

func (a WeightedAggregator) Aggregate(dim int, vectors [][]float32, weights []float64) []float32 {
	decay := a.Decay
	if decay <= 0 || decay > 1 {
		decay = 0.9
	}
	scaled := make([]float64, len(weights))
	w := 1.0
	for i, base := range weights {
		scaled[i] = base * w
		w *= decay
	}
	return weightedMean(dim, vectors, scaled)
}

func weightedMean(dim int, vectors [][]float32, weights []float64) []float32 {
	out := make([]float32, dim)
	var total float64
	for i, vec := range vectors {
		w := weights[i]
		if w == 0 {
			continue
		}
		total += w
		for j, v := range vec {
			out[j] += float32(w) * v
		}
	}
	if total == 0 {
		return out
	}
	inv := float32(1 / total)
	for j := range out {
		out[j] *= inv
	}
	return out
}

func aggregatorFor(kind AggregatorKind) (Aggregator, error) {
	switch kind {
	case AggregatorMean, "":
		return MeanAggregator{}, nil
	case AggregatorWeighted:
		return WeightedAggregator{Decay: 0.9}, nil
	default:
		return nil, fmt.Errorf("unknown aggregator %q", kind)
	}
}

// MentionEncoder turns a mention (plus optional context) into one vector of
// the store's dimensionality. Encoding is pure: repeated calls with the same
// input and the same store return identical vectors, and the memoization
// cache only ever hands out copies.
type MentionEncoder struct {
	store         *EmbeddingStore
	agg           Aggregator
	contextWeight float64
	cache         *gocache.Cache
	logger        *zap.Logger
}

// NewMentionEncoder wires an encoder to a loaded embedding store.
func NewMentionEncoder(store *EmbeddingStore, cfg Config, logger *zap.Logger) (*MentionEncoder, error) {
	if store == nil {
		return nil, ErrNotInitialized
	}
	agg, err := aggregatorFor(cfg.Aggregator)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &MentionEncoder{
		store:         store,
		agg:           agg,
		contextWeight: cfg.ContextWeight,
		cache:         gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger:        logger,
	}, nil
}

// Dim returns the dimensionality of encoded vectors.
func (e *MentionEncoder) Dim() int { return e.store.Dim() }

// Encode converts a mention into its vector. An empty surface string is
// rejected with ErrInvalidInput. Out-of-vocabulary tokens degrade to the
// store's fallback vectors and are logged, never surfaced as errors.
func (e *MentionEncoder) Encode(m Mention) ([]float32, error) {
	surface := NormalizeText(m.Surface)
	if surface == "" {
		return nil, fmt.Errorf("empty mention surface: %w", ErrInvalidInput)
	}
	context := NormalizeText(m.Context)
	key := surface + "\x00" + context
	if cached, ok := e.cache.Get(key); ok {
		return cloneVector(cached.([]float32)), nil
	}

	tokens := Tokenize(surface)
	weights := make([]float64, len(tokens))
	for i := range weights {
		weights[i] = 1
	}
	if context != "" && e.contextWeight > 0 {
		for _, tok := range Tokenize(context) {
			tokens = append(tokens, tok)
			weights = append(weights, e.contextWeight)
		}
	}

	vectors := make([][]float32, len(tokens))
	for i, tok := range tokens {
		vec, oov := e.store.Vector(tok)
		if oov {
			e.logger.Debug("token out of vocabulary",
				zap.String("token", tok),
				zap.String("mention", m.Surface))
		}
		vectors[i] = vec
	}

	out := e.agg.Aggregate(e.store.Dim(), vectors, weights)
	e.cache.Set(key, cloneVector(out), gocache.DefaultExpiration)
	return out, nil
}

// EncodeText encodes a bare label the same way a context-free mention is
// encoded. The concept index uses it to vectorize names and synonyms.
func (e *MentionEncoder) EncodeText(text string) ([]float32, error) {
	return e.Encode(Mention{Surface: text})
}
