package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"medtext/normalizer/normalizer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "normalizer-cli: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "normalizer-cli",
		Short:         "Normalize biomedical entity mentions to vocabulary concept IDs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the configuration file (default: built-in defaults)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Per-request deadline (0 disables)")
	cmd.AddCommand(newNormalizeCmd(opts))
	cmd.AddCommand(newBatchCmd(opts))
	return cmd
}

func newNormalizeCmd(root *rootOptions) *cobra.Command {
	var contextText, typeHint string
	cmd := &cobra.Command{
		Use:   "normalize MENTION",
		Short: "Normalize a single mention and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, logger, err := loadPipeline(root.configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := requestContext(cmd.Context(), root.timeout)
			defer cancel()
			result, err := service.Normalize(ctx, normalizer.Mention{
				Surface:  args[0],
				Context:  contextText,
				TypeHint: typeHint,
			})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&contextText, "context", "", "Surrounding context for the mention")
	cmd.Flags().StringVar(&typeHint, "type", "", "Coarse entity type hint (e.g. disease)")
	return cmd
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	var inputPath, outputPath string
	var mentionOpts normalizer.MentionParseOptions
	var stdout bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Normalize a file of mentions and write results as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" {
				return fmt.Errorf("missing required --input file")
			}
			service, logger, err := loadPipeline(root.configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			mentions, err := normalizer.ParseMentions(inputPath, mentionOpts)
			if err != nil {
				return fmt.Errorf("read mentions: %w", err)
			}
			if len(mentions) == 0 {
				return fmt.Errorf("input file does not contain any mentions")
			}

			ctx, cancel := requestContext(cmd.Context(), root.timeout)
			defer cancel()
			results, err := service.NormalizeAll(ctx, mentions)
			if err != nil {
				return err
			}

			path, err := resolveOutputPath(outputPath)
			if err != nil {
				return err
			}
			if err := writeResultCSV(path, results); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d results to %s\n", len(results), path)
			if stdout {
				printSummary(cmd, results)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "CSV/TSV/text file containing mentions")
	cmd.Flags().StringVar(&outputPath, "output", "", "CSV file to write results (default: results_<timestamp>.csv)")
	cmd.Flags().StringVar(&mentionOpts.SurfaceColumn, "mention-column", "", "Column name or #index for the mention surface")
	cmd.Flags().StringVar(&mentionOpts.ContextColumn, "context-column", "", "Column name or #index for the context")
	cmd.Flags().StringVar(&mentionOpts.TypeHintColumn, "type-column", "", "Column name or #index for the type hint")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "Print a summary to STDOUT")
	return cmd
}

func requestContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func loadPipeline(configPath string) (*normalizer.Service, *zap.Logger, error) {
	cfg, err := normalizer.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if cfg.EmbeddingsPath == "" {
		return nil, nil, fmt.Errorf("embeddings_path is not configured")
	}
	if cfg.VocabularyPath == "" {
		return nil, nil, fmt.Errorf("vocabulary_path is not configured")
	}

	var store *normalizer.EmbeddingStore
	if strings.EqualFold(filepath.Ext(cfg.EmbeddingsPath), ".bin") {
		store, err = normalizer.LoadEmbeddingsBinary(cfg.EmbeddingsPath, cfg.SubwordFallbackEnabled)
	} else {
		store, err = normalizer.LoadEmbeddings(cfg.EmbeddingsPath, cfg.SubwordFallbackEnabled)
	}
	if err != nil {
		return nil, nil, err
	}
	logger.Info("loaded embeddings",
		zap.String("path", cfg.EmbeddingsPath),
		zap.Int("tokens", store.Size()),
		zap.Int("dimension", store.Dim()))

	index, err := loadIndex(cfg, store, logger)
	if err != nil {
		return nil, nil, err
	}

	scorer, err := loadScorer(cfg, store, logger)
	if err != nil {
		return nil, nil, err
	}
	service, err := normalizer.NewService(store, index, scorer, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return service, logger, nil
}

// loadIndex restores the concept index from the configured snapshot when one
// is present and matches the configured metric, and builds it from the
// vocabulary otherwise, writing the snapshot back for the next start.
func loadIndex(cfg normalizer.Config, store *normalizer.EmbeddingStore, logger *zap.Logger) (*normalizer.ConceptIndex, error) {
	if cfg.IndexCachePath != "" {
		if _, statErr := os.Stat(cfg.IndexCachePath); statErr == nil {
			index, err := normalizer.LoadIndexBinary(cfg.IndexCachePath)
			if err != nil {
				return nil, err
			}
			if index.Metric() != cfg.SimilarityMetric {
				return nil, fmt.Errorf("index snapshot %s uses metric %q, config wants %q", cfg.IndexCachePath, index.Metric(), cfg.SimilarityMetric)
			}
			logger.Info("loaded concept index snapshot",
				zap.String("path", cfg.IndexCachePath),
				zap.Int("concepts", index.Size()))
			return index, nil
		}
	}

	concepts, err := normalizer.ParseVocabulary(cfg.VocabularyPath, normalizer.VocabularyParseOptions{})
	if err != nil {
		return nil, err
	}
	encoder, err := normalizer.NewMentionEncoder(store, cfg, logger)
	if err != nil {
		return nil, err
	}
	index, err := normalizer.BuildIndexWithEncoder(encoder, concepts, cfg.SimilarityMetric)
	if err != nil {
		return nil, err
	}
	logger.Info("built concept index",
		zap.String("path", cfg.VocabularyPath),
		zap.Int("concepts", index.Size()))
	if cfg.IndexCachePath != "" {
		if err := index.SaveBinary(cfg.IndexCachePath); err != nil {
			logger.Warn("write index snapshot", zap.String("path", cfg.IndexCachePath), zap.Error(err))
		} else {
			logger.Info("wrote concept index snapshot", zap.String("path", cfg.IndexCachePath))
		}
	}
	return index, nil
}

// loadScorer selects the configured ranking model: an ONNX model when
// onnx.model_path is set, a linear weight artifact when scorer_path is set,
// and nil (the built-in cosine weights) otherwise.
func loadScorer(cfg normalizer.Config, store *normalizer.EmbeddingStore, logger *zap.Logger) (normalizer.Scorer, error) {
	switch {
	case cfg.Onnx.ModelPath != "":
		onnxCfg := cfg.Onnx
		if onnxCfg.Dim == 0 {
			onnxCfg.Dim = store.Dim()
		}
		scorer, err := normalizer.NewOnnxScorer(onnxCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded onnx scorer",
			zap.String("model", onnxCfg.ModelPath),
			zap.Int("dimension", onnxCfg.Dim))
		return scorer, nil
	case cfg.ScorerPath != "":
		scorer, err := normalizer.LoadLinearScorer(cfg.ScorerPath)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded linear scorer", zap.String("path", cfg.ScorerPath))
		return scorer, nil
	default:
		return nil, nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func resolveOutputPath(path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("results_%s.csv", time.Now().Format("20060102150405"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return abs, nil
}

func writeResultCSV(path string, results []*normalizer.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write([]string{"mention", "concept_id", "label", "score", "nil"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, res := range results {
		row := []string{res.Mention.Surface, "", "", "", fmt.Sprintf("%t", res.NIL)}
		if best, ok := res.Best(); ok {
			row[1] = best.ConceptID
			row[2] = best.Label
			row[3] = fmt.Sprintf("%.4f", best.Score)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	return nil
}

func printSummary(cmd *cobra.Command, results []*normalizer.Result) {
	out := cmd.OutOrStdout()
	for i, res := range results {
		if best, ok := res.Best(); ok {
			fmt.Fprintf(out, "%d. %s -> %s (%s, score=%.4f)\n", i+1, res.Mention.Surface, best.ConceptID, best.Label, best.Score)
			continue
		}
		fmt.Fprintf(out, "%d. %s -> NIL\n", i+1, res.Mention.Surface)
	}
}
