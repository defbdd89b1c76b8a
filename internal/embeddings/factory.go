package embeddings

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/engine"
	"github.com/raaihank/sentinel-embed/internal/tokenizer"
)

// Open loads the tokenizer and the inference engine as two independent
// resources and wires them into a Generator. The returned error names
// the resource that failed; nothing is left open on failure.
func Open(config ModelConfig, opts engine.Options, logger *zap.Logger) (*Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateModelConfig(config); err != nil {
		return nil, err
	}

	logger.Info("Loading tokenizer", zap.String("path", config.TokenizerPath))
	tok, err := tokenizer.Load(config.TokenizerPath, config.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	if config.ModelPath != "" {
		opts.ModelPath = config.ModelPath
	}
	logger.Info("Loading transformer model", zap.String("path", opts.ModelPath))
	eng, err := engine.Load(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	logger.Info("Transformer model loaded",
		zap.String("path", eng.ModelPath()),
		zap.Strings("inputs", eng.InputNames()),
		zap.Stringer("output_kind", eng.OutputKind()),
		zap.Int("vocab_size", tok.VocabSize()))

	g, err := NewGenerator(tok, eng, config, logger)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	g.SetModelLoadTime(eng.LoadTime())
	return g, nil
}

// ValidateModelConfig validates the embedding model configuration
func ValidateModelConfig(config ModelConfig) error {
	if config.MaxLength < 0 {
		return fmt.Errorf("max_length must not be negative")
	}
	if config.MaxLength == 1 && config.AddSpecialTokens {
		return fmt.Errorf("max_length must be at least 2 when special tokens are added")
	}
	if config.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	if _, err := ParsePoolingStrategy(string(config.Pooling)); err != nil {
		return err
	}
	return nil
}
