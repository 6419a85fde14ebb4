package normalizer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Service runs the normalization pipeline: encode the mention, retrieve
// top-K concept candidates, score them with the frozen ranking model, and
// select the best concept or NIL. The service and everything it holds are
// immutable after construction, so any number of requests may run
// concurrently without locking.
type Service struct {
	cfg     Config
	store   *EmbeddingStore
	encoder *MentionEncoder
	index   *ConceptIndex
	scorer  Scorer
	logger  *zap.Logger
}

// NewService wires a loaded embedding store, a built concept index, and a
// frozen scorer into a ready pipeline. A nil scorer selects the built-in
// cosine linear scorer. Dimensionality disagreements between the store, the
// index, and the configured embedding_dimension are load errors.
func NewService(store *EmbeddingStore, index *ConceptIndex, scorer Scorer, cfg Config, logger *zap.Logger) (*Service, error) {
	if store == nil || index == nil {
		return nil, ErrNotInitialized
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if store.Dim() != index.Dim() {
		return nil, resourceErrorf("service", "embedding store dimension %d != concept index dimension %d", store.Dim(), index.Dim())
	}
	if cfg.EmbeddingDimension != 0 && cfg.EmbeddingDimension != store.Dim() {
		return nil, resourceErrorf("service", "configured embedding_dimension %d != loaded dimension %d", cfg.EmbeddingDimension, store.Dim())
	}
	if scorer == nil {
		scorer = NewLinearScorer(DefaultLinearWeights())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	encoder, err := NewMentionEncoder(store, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("normalizer ready",
		zap.Int("dimension", store.Dim()),
		zap.Int("tokens", store.Size()),
		zap.Int("concepts", index.Size()),
		zap.String("metric", string(index.Metric())),
		zap.Int("top_k", cfg.TopK),
		zap.Float64("nil_threshold", cfg.NilThreshold))
	return &Service{
		cfg:     cfg,
		store:   store,
		encoder: encoder,
		index:   index,
		scorer:  scorer,
		logger:  logger,
	}, nil
}

// Config returns a copy of the active configuration.
func (s *Service) Config() Config { return s.cfg }

// Index exposes the concept index for read-only lookups.
func (s *Service) Index() *ConceptIndex { return s.index }

// Normalize resolves one mention to a concept identifier or NIL. An empty
// surface string fails fast with ErrInvalidInput; an expired caller deadline
// between stages yields ErrTimeout with no partial candidates.
func (s *Service) Normalize(ctx context.Context, m Mention) (*Result, error) {
	if s == nil || s.encoder == nil || s.index == nil {
		return nil, ErrNotInitialized
	}
	if NormalizeText(m.Surface) == "" {
		return nil, fmt.Errorf("mention surface is empty: %w", ErrInvalidInput)
	}

	// Encoding.
	if err := checkDeadline(ctx, "encoding"); err != nil {
		return nil, err
	}
	mentionVec, err := s.encoder.Encode(m)
	if err != nil {
		return nil, err
	}

	// Retrieving.
	if err := checkDeadline(ctx, "retrieving"); err != nil {
		return nil, err
	}
	hits, err := s.index.Retrieve(mentionVec, s.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}

	// Scoring.
	if err := checkDeadline(ctx, "scoring"); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(hits))
	for i, h := range hits {
		vectors[i] = h.Vector
	}
	scores, err := s.scorer.ScoreBatch(mentionVec, vectors)
	if err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}

	// Selecting.
	if err := checkDeadline(ctx, "selecting"); err != nil {
		return nil, err
	}
	candidates := make([]Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = Candidate{
			ConceptID: h.ConceptID,
			Label:     h.Label,
			Score:     scores[i],
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].ConceptID < candidates[j].ConceptID
		}
		return candidates[i].Score > candidates[j].Score
	})

	result := &Result{Mention: m, Candidates: candidates}
	if len(candidates) == 0 || candidates[0].Score < s.cfg.NilThreshold {
		result.NIL = true
	} else {
		result.ConceptID = candidates[0].ConceptID
	}

	s.logger.Debug("normalized mention",
		zap.String("surface", m.Surface),
		zap.Int("candidates", len(candidates)),
		zap.Bool("nil", result.NIL),
		zap.String("concept", result.ConceptID))
	return result, nil
}

// NormalizeAll resolves a batch of mentions sequentially. The first error
// aborts the batch; results for earlier mentions are discarded with it.
func (s *Service) NormalizeAll(ctx context.Context, mentions []Mention) ([]*Result, error) {
	out := make([]*Result, len(mentions))
	for i, m := range mentions {
		res, err := s.Normalize(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("mention %d (%q): %w", i, m.Surface, err)
		}
		out[i] = res
	}
	return out, nil
}

func checkDeadline(ctx context.Context, stage string) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("before %s: %w", stage, ErrTimeout)
		}
		return fmt.Errorf("before %s: %w", stage, err)
	}
	return nil
}
