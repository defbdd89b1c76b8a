package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/cache"
	"github.com/raaihank/sentinel-embed/internal/config"
	"github.com/raaihank/sentinel-embed/internal/embeddings"
	"github.com/raaihank/sentinel-embed/internal/logger"
	"github.com/raaihank/sentinel-embed/internal/vector"
)

// services holds all initialized services
type services struct {
	generator        *embeddings.Generator
	embeddingService embeddings.EmbeddingService
	embeddingCache   *cache.EmbeddingCache
	vectorStore      *vector.Store
}

func (s *services) cleanup() {
	if s.embeddingService != nil {
		_ = s.embeddingService.Close()
	}
	if s.vectorStore != nil {
		_ = s.vectorStore.Close()
	}
}

// initializeServices loads the model and, when configured, the cache and store
func initializeServices(cfg *config.Config, log *logger.Logger, withStore bool) (*services, error) {
	svc := &services{}

	log.Info("Loading embedding model",
		zap.String("model", cfg.Model.ModelPath),
		zap.String("tokenizer", cfg.Model.TokenizerPath))
	gen, err := embeddings.Open(cfg.Model, cfg.Engine, log.WithComponent("embeddings").Logger)
	if err != nil {
		return nil, err
	}
	svc.generator = gen
	svc.embeddingService = gen

	if cfg.Cache.Enabled {
		c, err := cache.NewEmbeddingCache(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Embedding cache unavailable, continuing without it", zap.Error(err))
		} else {
			cached := embeddings.NewCachedService(gen, c, cfg.Model.ModelName, log.WithComponent("cache").Logger)
			log.Info("Embedding cache enabled", zap.String("namespace", cached.Namespace()))
			svc.embeddingService = cached
			svc.embeddingCache = c
		}
	}

	if withStore && cfg.Store.Enabled {
		store, err := vector.NewStore(&cfg.Store, log.WithComponent("vector").Logger)
		if err != nil {
			svc.cleanup()
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		svc.vectorStore = store
	}

	return svc, nil
}
