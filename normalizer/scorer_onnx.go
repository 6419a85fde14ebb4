package normalizer

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxScorerConfig locates a frozen ONNX ranking model exported by the
// offline trainer. The model takes one float32 input of shape [1, 2*D]
// (mention vector followed by candidate vector) and produces a single score.
type OnnxScorerConfig struct {
	// LibraryPath is the onnxruntime shared library (empty keeps the
	// process-wide default, which must then be set by the embedder).
	LibraryPath string `mapstructure:"library_path" json:"library_path,omitempty"`
	ModelPath   string `mapstructure:"model_path" json:"model_path"`
	InputName   string `mapstructure:"input_name" json:"input_name"`
	OutputName  string `mapstructure:"output_name" json:"output_name"`
	Dim         int    `mapstructure:"dim" json:"dim"`
}

// OnnxScorer runs a frozen ONNX model as the candidate scorer. The session
// and its bound tensors are reused across calls, so a mutex serializes
// inference; the model itself is never mutated.
type OnnxScorer struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	dim     int
}

// NewOnnxScorer initializes the onnxruntime environment (once per process)
// and loads the model. Callers own the returned scorer and must Close it.
func NewOnnxScorer(cfg OnnxScorerConfig) (*OnnxScorer, error) {
	if cfg.ModelPath == "" {
		return nil, resourceErrorf("onnx scorer", "model path is required")
	}
	if cfg.Dim <= 0 {
		return nil, resourceErrorf("onnx scorer", "embedding dimension must be positive, got %d", cfg.Dim)
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "score"
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, &ResourceError{Source: cfg.ModelPath, Reason: "initialize onnxruntime", Err: err}
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(2*cfg.Dim)))
	if err != nil {
		return nil, &ResourceError{Source: cfg.ModelPath, Reason: "allocate input tensor", Err: err}
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, &ResourceError{Source: cfg.ModelPath, Reason: "allocate output tensor", Err: err}
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, &ResourceError{Source: cfg.ModelPath, Reason: "create session", Err: err}
	}
	return &OnnxScorer{session: session, input: input, output: output, dim: cfg.Dim}, nil
}

// Score runs one forward pass over the concatenated vector pair.
func (s *OnnxScorer) Score(mention, concept []float32) (float64, error) {
	if len(mention) != s.dim || len(concept) != s.dim {
		return 0, fmt.Errorf("expected dimension %d, got mention %d / concept %d", s.dim, len(mention), len(concept))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return 0, ErrNotInitialized
	}
	data := s.input.GetData()
	copy(data[:s.dim], mention)
	copy(data[s.dim:], concept)
	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("onnx inference: %w", err)
	}
	return float64(s.output.GetData()[0]), nil
}

// ScoreBatch scores each candidate with Score.
func (s *OnnxScorer) ScoreBatch(mention []float32, concepts [][]float32) ([]float64, error) {
	return scoreBatch(s, mention, concepts)
}

// Close releases the session and tensors. The scorer is unusable afterwards.
func (s *OnnxScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
	return nil
}
