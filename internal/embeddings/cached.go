package embeddings

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cache stores embeddings keyed by model and text. Get reports a miss as
// (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Set(ctx context.Context, model, text string, embedding []float32) error
}

// BatchCache is implemented by caches that store many entries in one round trip.
type BatchCache interface {
	SetBatch(ctx context.Context, model string, texts []string, embeddings [][]float32) error
}

// Namespacer is implemented by services whose embeddings depend on more than
// the input text. Its namespace partitions the cache entries.
type Namespacer interface {
	CacheNamespace() string
}

// ModelInfo is implemented by services that can describe their loaded model.
type ModelInfo interface {
	GetModelInfo() map[string]interface{}
}

// CachedService serves embeddings from a Cache and fills it on misses.
// Cache failures are logged and treated as misses.
type CachedService struct {
	inner  EmbeddingService
	cache  Cache
	model  string
	logger *zap.Logger

	mu     sync.Mutex
	hits   int64
	misses int64
}

// NewCachedService wraps inner with cache. Keys are namespaced by the
// inner service's CacheNamespace, or by model when it has none.
func NewCachedService(inner EmbeddingService, cache Cache, model string, logger *zap.Logger) *CachedService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ns, ok := inner.(Namespacer); ok {
		model = ns.CacheNamespace()
	}
	return &CachedService{
		inner:  inner,
		cache:  cache,
		model:  model,
		logger: logger,
	}
}

// GenerateEmbedding returns the cached embedding for text or generates it.
func (s *CachedService) GenerateEmbedding(ctx context.Context, text string) (*EmbeddingResult, error) {
	start := time.Now()
	if cached, ok := s.lookup(ctx, text); ok {
		s.count(1, 0)
		return &EmbeddingResult{
			Embedding: cached,
			Duration:  time.Since(start),
			CacheHit:  true,
		}, nil
	}

	res, err := s.inner.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	s.count(0, 1)
	s.store(ctx, text, res.Embedding)
	return res, nil
}

// GenerateBatchEmbeddings serves hits from the cache and sends only the
// misses to the wrapped service, preserving input order.
func (s *CachedService) GenerateBatchEmbeddings(ctx context.Context, texts []string) (*BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return s.inner.GenerateBatchEmbeddings(ctx, texts)
	}

	start := time.Now()
	embeddings := make([][]float32, len(texts))
	tokenCounts := make([]int, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if cached, ok := s.lookup(ctx, text); ok {
			embeddings[i] = cached
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	result := &BatchEmbeddingResult{CacheHits: len(texts) - len(missTexts)}
	if len(missTexts) > 0 {
		inner, err := s.inner.GenerateBatchEmbeddings(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, idx := range missIdx {
			embeddings[idx] = inner.Embeddings[j]
			if j < len(inner.TokenCounts) {
				tokenCounts[idx] = inner.TokenCounts[j]
			}
		}
		s.storeBatch(ctx, missTexts, inner.Embeddings)
		result.TotalTokens = inner.TotalTokens
		result.Batches = inner.Batches
	}
	s.count(int64(result.CacheHits), int64(len(missTexts)))

	result.Embeddings = embeddings
	result.TokenCounts = tokenCounts
	result.Duration = time.Since(start)
	return result, nil
}

func (s *CachedService) lookup(ctx context.Context, text string) ([]float32, bool) {
	cached, ok, err := s.cache.Get(ctx, s.model, text)
	if err != nil {
		s.logger.Warn("Embedding cache lookup failed", zap.Error(err))
		return nil, false
	}
	return cached, ok
}

func (s *CachedService) store(ctx context.Context, text string, embedding []float32) {
	if err := s.cache.Set(ctx, s.model, text, embedding); err != nil {
		s.logger.Warn("Failed to cache embedding", zap.Error(err))
	}
}

func (s *CachedService) storeBatch(ctx context.Context, texts []string, embeddings [][]float32) {
	bc, ok := s.cache.(BatchCache)
	if !ok {
		for i, text := range texts {
			s.store(ctx, text, embeddings[i])
		}
		return
	}
	if err := bc.SetBatch(ctx, s.model, texts, embeddings); err != nil {
		s.logger.Warn("Failed to cache embedding batch", zap.Int("texts", len(texts)), zap.Error(err))
	}
}

// Namespace returns the cache key namespace in use.
func (s *CachedService) Namespace() string {
	return s.model
}

// GetModelInfo describes the wrapped model and the cache namespace.
func (s *CachedService) GetModelInfo() map[string]interface{} {
	info := map[string]interface{}{}
	if mi, ok := s.inner.(ModelInfo); ok {
		info = mi.GetModelInfo()
	}
	info["cache_namespace"] = s.model
	return info
}

func (s *CachedService) count(hits, misses int64) {
	s.mu.Lock()
	s.hits += hits
	s.misses += misses
	s.mu.Unlock()
}

// ComputeSimilarity delegates to the wrapped service.
func (s *CachedService) ComputeSimilarity(vec1, vec2 []float32) (float32, error) {
	return s.inner.ComputeSimilarity(vec1, vec2)
}

// GetStats returns the wrapped service's stats with cache counters filled in.
func (s *CachedService) GetStats() *ModelStats {
	stats := s.inner.GetStats()

	s.mu.Lock()
	defer s.mu.Unlock()
	stats.CacheHits = s.hits
	stats.CacheMisses = s.misses
	if total := s.hits + s.misses; total > 0 {
		stats.CacheHitRatio = float64(s.hits) / float64(total)
	}
	return stats
}

// HealthCheck delegates to the wrapped service.
func (s *CachedService) HealthCheck(ctx context.Context) error {
	return s.inner.HealthCheck(ctx)
}

// Close closes the wrapped service and the cache when it is closable.
func (s *CachedService) Close() error {
	err := s.inner.Close()
	if c, ok := s.cache.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			s.logger.Error("Failed to close embedding cache", zap.Error(cerr))
		}
	}
	return err
}
