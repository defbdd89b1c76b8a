package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/embederr"
	"github.com/raaihank/sentinel-embed/internal/tensor"
	"github.com/raaihank/sentinel-embed/internal/tokenizer"
)

// Generator runs the text to embedding pipeline: tokenize, build tensors,
// run the graph, pool and normalize. It owns the tokenizer and the runner.
type Generator struct {
	config    ModelConfig
	logger    *zap.Logger
	tokenizer *tokenizer.Tokenizer
	runner    Runner
	stats     *ModelStats
	namespace string
	mu        sync.RWMutex
	closed    bool
}

// NewGenerator wires an already loaded tokenizer and runner into a pipeline.
func NewGenerator(tok *tokenizer.Tokenizer, runner Runner, config ModelConfig, logger *zap.Logger) (*Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: tokenizer not loaded", embederr.ErrTokenization)
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: inference engine not loaded", embederr.ErrModelLoad)
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultModelConfig().BatchSize
	}
	pooling, err := ParsePoolingStrategy(string(config.Pooling))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embederr.ErrInvalidInput, err)
	}
	config.Pooling = pooling

	start := time.Now()
	g := &Generator{
		config:    config,
		logger:    logger,
		tokenizer: tok,
		runner:    runner,
		namespace: pipelineNamespace(config, runner.OutputKind().String(), tok.MaxLength()),
		stats: &ModelStats{
			ModelName:  config.ModelName,
			OutputKind: runner.OutputKind().String(),
			Pooling:    string(config.Pooling),
			StartTime:  start,
		},
	}

	logger.Info("Embedding generator initialized",
		zap.String("model", config.ModelName),
		zap.Stringer("output_kind", runner.OutputKind()),
		zap.String("pooling", string(config.Pooling)),
		zap.Bool("normalize", config.Normalize),
		zap.Bool("add_special_tokens", config.AddSpecialTokens),
		zap.Int("max_length", tok.MaxLength()),
		zap.Int("batch_size", config.BatchSize))

	return g, nil
}

// Config returns the effective configuration.
func (g *Generator) Config() ModelConfig {
	return g.config
}

// GenerateEmbedding generates a single embedding
func (g *Generator) GenerateEmbedding(ctx context.Context, text string) (*EmbeddingResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", embederr.ErrInvalidInput)
	}

	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embedding cancelled: %w", err)
	}

	vecs, encs, err := g.embedChunk(ctx, []string{text})
	if err != nil {
		g.updateStats(1, 0, 1, time.Since(start), false)
		return nil, err
	}

	duration := time.Since(start)
	g.updateStats(1, encs[0].Length, 1, duration, true)
	g.recordDimensions(len(vecs[0]))

	return &EmbeddingResult{
		Embedding:  vecs[0],
		Duration:   duration,
		TokenCount: encs[0].Length,
		Truncated:  encs[0].Truncated,
	}, nil
}

// GenerateBatchEmbeddings generates embeddings for multiple texts. Inputs
// larger than the configured batch size are split into sub-batches, each
// padded independently. Any failure fails the whole call.
func (g *Generator) GenerateBatchEmbeddings(ctx context.Context, texts []string) (*BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: empty batch", embederr.ErrTokenization)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: text %d cannot be empty", embederr.ErrInvalidInput, i)
		}
	}

	start := time.Now()
	batchSize := g.config.BatchSize

	result := &BatchEmbeddingResult{
		Embeddings:  make([][]float32, 0, len(texts)),
		TokenCounts: make([]int, 0, len(texts)),
	}

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embedding cancelled at item %d: %w", i, err)
		}

		chunkStart := time.Now()
		vecs, encs, err := g.embedChunk(ctx, texts[i:end])
		if err != nil {
			g.updateStats(int64(end-i), 0, 1, time.Since(chunkStart), false)
			g.logger.Error("Failed to process batch", zap.Error(err), zap.Int("batch_start", i))
			return nil, fmt.Errorf("batch starting at item %d: %w", i, err)
		}

		tokens := 0
		for j, enc := range encs {
			result.Embeddings = append(result.Embeddings, vecs[j])
			result.TokenCounts = append(result.TokenCounts, enc.Length)
			tokens += enc.Length
		}
		result.TotalTokens += tokens
		result.Batches++
		g.updateStats(int64(end-i), tokens, 1, time.Since(chunkStart), true)
	}

	result.Duration = time.Since(start)
	g.recordDimensions(len(result.Embeddings[0]))

	g.logger.Debug("Batch embedding generation completed",
		zap.Int("texts", len(texts)),
		zap.Int("batches", result.Batches),
		zap.Int("total_tokens", result.TotalTokens),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// embedChunk runs one tokenizer/tensor/inference pass. The context is only
// consulted between stages; a running inference is never interrupted.
func (g *Generator) embedChunk(ctx context.Context, texts []string) ([][]float32, []tokenizer.Encoding, error) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return nil, nil, fmt.Errorf("%w: generator is closed", embederr.ErrInference)
	}

	encs, err := g.tokenizer.EncodeBatch(texts, g.config.AddSpecialTokens)
	if err != nil {
		return nil, nil, err
	}

	set, err := tensor.Build(encs)
	if err != nil {
		return nil, nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("embedding cancelled before inference: %w", err)
	}

	out, err := g.runner.Run(set.IDs, set.AttentionMask, set.TypeIDs)
	if err != nil {
		return nil, nil, err
	}

	vecs, err := Pool(out, g.runner.OutputKind(), set.AttentionMask, g.config.Pooling)
	if err != nil {
		return nil, nil, err
	}
	if g.config.Normalize {
		NormalizeAll(vecs)
	}
	return vecs, encs, nil
}

// ComputeSimilarity computes cosine similarity between embeddings
func (g *Generator) ComputeSimilarity(vec1, vec2 []float32) (float32, error) {
	return CosineSimilarity(vec1, vec2)
}

// CompareTexts embeds both texts in one batch and scores them.
func (g *Generator) CompareTexts(ctx context.Context, a, b string) (*SimilarityResult, error) {
	return CompareTexts(ctx, g, a, b)
}

// CompareTexts embeds a and b through svc in one batch and returns their cosine similarity.
func CompareTexts(ctx context.Context, svc EmbeddingService, a, b string) (*SimilarityResult, error) {
	start := time.Now()
	res, err := svc.GenerateBatchEmbeddings(ctx, []string{a, b})
	if err != nil {
		return nil, err
	}
	score, err := svc.ComputeSimilarity(res.Embeddings[0], res.Embeddings[1])
	if err != nil {
		return nil, err
	}
	return &SimilarityResult{Score: score, Duration: time.Since(start)}, nil
}

// GetStats returns model performance statistics
func (g *Generator) GetStats() *ModelStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := *g.stats
	return &stats
}

// SetModelLoadTime records how long the graph took to load.
func (g *Generator) SetModelLoadTime(d time.Duration) {
	g.mu.Lock()
	g.stats.ModelLoadTime = d
	g.mu.Unlock()
}

// CacheNamespace identifies everything besides the text that shapes an
// embedding. Cached vectors are only valid inside one namespace.
func (g *Generator) CacheNamespace() string {
	return g.namespace
}

// pipelineNamespace hashes the model file identity together with the
// output kind, pooling, normalization, truncation and special-token settings.
func pipelineNamespace(config ModelConfig, outputKind string, maxLength int) string {
	h := sha256.New()
	for _, path := range []string{config.ModelPath, config.TokenizerPath} {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		fmt.Fprintf(h, "file=%s\n", path)
		if fi, err := os.Stat(path); err == nil {
			fmt.Fprintf(h, "size=%d mtime=%d\n", fi.Size(), fi.ModTime().UnixNano())
		}
	}
	fmt.Fprintf(h, "output=%s pooling=%s normalize=%t max_length=%d special=%t\n",
		outputKind, config.Pooling, config.Normalize, maxLength, config.AddSpecialTokens)

	name := config.ModelName
	if name == "" {
		name = "model"
	}
	return name + "@" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GetModelInfo returns information about the loaded model
func (g *Generator) GetModelInfo() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return map[string]interface{}{
		"loaded":             !g.closed,
		"model_name":         g.config.ModelName,
		"model_path":         g.config.ModelPath,
		"tokenizer_path":     g.config.TokenizerPath,
		"output_kind":        g.stats.OutputKind,
		"pooling":            string(g.config.Pooling),
		"normalize":          g.config.Normalize,
		"add_special_tokens": g.config.AddSpecialTokens,
		"max_length":         g.tokenizer.MaxLength(),
		"batch_size":         g.config.BatchSize,
		"dimensions":         g.stats.Dimensions,
		"vocab_size":         g.tokenizer.VocabSize(),
		"cache_namespace":    g.namespace,
		"load_time":          g.stats.ModelLoadTime.String(),
	}
}

// HealthCheck verifies the generator is open and the tokenizer answers.
func (g *Generator) HealthCheck(ctx context.Context) error {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: generator is closed", embederr.ErrModelLoad)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r, ok := g.runner.(interface{ IsReady() bool }); ok && !r.IsReady() {
		return fmt.Errorf("%w: inference engine is not ready", embederr.ErrModelLoad)
	}

	if _, err := g.tokenizer.EncodeBatch([]string{"health check"}, g.config.AddSpecialTokens); err != nil {
		return fmt.Errorf("tokenizer health check failed: %w", err)
	}
	return nil
}

// Close releases the inference runner. It is safe to call more than once.
func (g *Generator) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.logger.Info("Closing embedding generator")
	return g.runner.Close()
}

func (g *Generator) recordDimensions(dims int) {
	g.mu.Lock()
	g.stats.Dimensions = dims
	g.mu.Unlock()
}

// updateStats updates service statistics thread-safely
func (g *Generator) updateStats(texts int64, tokens int, inferences int64, duration time.Duration, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stats.TotalTexts += texts
	g.stats.TotalTokens += int64(tokens)
	g.stats.TotalInferences += inferences
	g.stats.LastInferenceTime = time.Now()

	if success {
		g.stats.SuccessfulRuns += inferences
	} else {
		g.stats.FailedRuns += inferences
	}

	total := g.stats.SuccessfulRuns + g.stats.FailedRuns
	if total > 0 {
		g.stats.ErrorRate = float64(g.stats.FailedRuns) / float64(total)
	}

	// Average over successful runs only
	if success && g.stats.SuccessfulRuns > 0 {
		totalTime := time.Duration(g.stats.SuccessfulRuns-inferences) * g.stats.AvgInferenceTime
		totalTime += duration
		g.stats.AvgInferenceTime = totalTime / time.Duration(g.stats.SuccessfulRuns)
	}

	if g.stats.TotalTexts > 0 {
		g.stats.AvgTokensPerText = float64(g.stats.TotalTokens) / float64(g.stats.TotalTexts)
	}
}
