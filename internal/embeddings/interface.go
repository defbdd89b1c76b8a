package embeddings

import (
	"context"

	"github.com/raaihank/sentinel-embed/internal/engine"
	"github.com/raaihank/sentinel-embed/internal/tensor"
)

// EmbeddingService defines the interface for embedding generation services
type EmbeddingService interface {
	GenerateEmbedding(ctx context.Context, text string) (*EmbeddingResult, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) (*BatchEmbeddingResult, error)
	ComputeSimilarity(vec1, vec2 []float32) (float32, error)
	GetStats() *ModelStats
	HealthCheck(ctx context.Context) error
	Close() error
}

// Runner executes a loaded graph. *engine.Engine satisfies it.
type Runner interface {
	Run(ids, mask, types *tensor.Int64Tensor) (*engine.RawOutput, error)
	OutputKind() engine.OutputKind
	Close() error
}

var (
	_ EmbeddingService = (*Generator)(nil)
	_ EmbeddingService = (*CachedService)(nil)
	_ Namespacer       = (*Generator)(nil)
	_ ModelInfo        = (*Generator)(nil)
	_ ModelInfo        = (*CachedService)(nil)
	_ Runner           = (*engine.Engine)(nil)
)
