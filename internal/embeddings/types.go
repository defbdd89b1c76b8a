package embeddings

import (
	"time"
)

// EmbeddingDimensions is the hidden size of all-MiniLM-L6-v2 class models
const EmbeddingDimensions = 384

// ModelConfig contains embedding model configuration
type ModelConfig struct {
	ModelName        string          `yaml:"model_name" mapstructure:"model_name"`                 // "sentence-transformers/all-MiniLM-L6-v2"
	ModelPath        string          `yaml:"model_path" mapstructure:"model_path"`                 // "./model.onnx"
	TokenizerPath    string          `yaml:"tokenizer_path" mapstructure:"tokenizer_path"`         // "./tokenizer.json"
	MaxLength        int             `yaml:"max_length" mapstructure:"max_length"`                 // 256, 0 disables truncation
	BatchSize        int             `yaml:"batch_size" mapstructure:"batch_size"`                 // 32
	AddSpecialTokens bool            `yaml:"add_special_tokens" mapstructure:"add_special_tokens"` // true
	Pooling          PoolingStrategy `yaml:"pooling" mapstructure:"pooling"`                       // "mean"
	Normalize        bool            `yaml:"normalize" mapstructure:"normalize"`                   // true
}

// DefaultModelConfig returns the configuration for all-MiniLM-L6-v2 exported to ONNX.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ModelName:        "sentence-transformers/all-MiniLM-L6-v2",
		ModelPath:        "./model.onnx",
		TokenizerPath:    "./tokenizer.json",
		MaxLength:        256,
		BatchSize:        32,
		AddSpecialTokens: true,
		Pooling:          PoolingMean,
		Normalize:        true,
	}
}

// EmbeddingResult represents the result of embedding generation
type EmbeddingResult struct {
	Embedding  []float32     `json:"embedding"`
	Duration   time.Duration `json:"duration"`
	TokenCount int           `json:"token_count"`
	Truncated  bool          `json:"truncated,omitempty"`
	CacheHit   bool          `json:"cache_hit"`
}

// BatchEmbeddingResult represents the result of batch embedding generation.
// Embeddings[i] belongs to the i-th input text.
type BatchEmbeddingResult struct {
	Embeddings  [][]float32   `json:"embeddings"`
	TokenCounts []int         `json:"token_counts"`
	Duration    time.Duration `json:"duration"`
	TotalTokens int           `json:"total_tokens"`
	Batches     int           `json:"batches"`
	CacheHits   int           `json:"cache_hits"`
}

// SimilarityResult is the outcome of comparing two texts
type SimilarityResult struct {
	Score    float32       `json:"score"`
	Duration time.Duration `json:"duration"`
}

// ModelStats represents model performance statistics
type ModelStats struct {
	ModelName         string        `json:"model_name"`
	Dimensions        int           `json:"dimensions"`
	OutputKind        string        `json:"output_kind"`
	Pooling           string        `json:"pooling"`
	TotalTexts        int64         `json:"total_texts"`
	TotalTokens       int64         `json:"total_tokens"`
	TotalInferences   int64         `json:"total_inferences"`
	SuccessfulRuns    int64         `json:"successful_runs"`
	FailedRuns        int64         `json:"failed_runs"`
	CacheHits         int64         `json:"cache_hits"`
	CacheMisses       int64         `json:"cache_misses"`
	AvgInferenceTime  time.Duration `json:"avg_inference_time"`
	AvgTokensPerText  float64       `json:"avg_tokens_per_text"`
	ModelLoadTime     time.Duration `json:"model_load_time"`
	LastInferenceTime time.Time     `json:"last_inference_time"`
	CacheHitRatio     float64       `json:"cache_hit_ratio"`
	ErrorRate         float64       `json:"error_rate"`
	StartTime         time.Time     `json:"start_time"`
}
