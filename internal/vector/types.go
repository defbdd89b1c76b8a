package vector

import (
	"time"
)

// Document is a text with its embedding as stored in PostgreSQL
type Document struct {
	ID        int64     `db:"id" json:"id"`
	Text      string    `db:"text" json:"text"`
	TextHash  string    `db:"text_hash" json:"text_hash"`
	Label     string    `db:"label" json:"label,omitempty"`
	Source    string    `db:"source" json:"source,omitempty"`
	Model     string    `db:"model" json:"model"`
	Embedding []float32 `db:"-" json:"embedding,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SimilarityResult represents a vector similarity search result
type SimilarityResult struct {
	Document   *Document `json:"document"`
	Similarity float32   `json:"similarity"`
	Distance   float32   `json:"distance"`
}

// SearchOptions contains options for vector similarity search
type SearchOptions struct {
	Limit            int     `json:"limit"`
	MinSimilarity    float32 `json:"min_similarity"`
	LabelFilter      string  `json:"label_filter,omitempty"`
	ModelFilter      string  `json:"model_filter,omitempty"`
	IncludeEmbedding bool    `json:"include_embedding,omitempty"`
}

// Stats represents database statistics
type Stats struct {
	TotalDocuments int64            `json:"total_documents"`
	ByLabel        map[string]int64 `json:"by_label"`
	Dimensions     int              `json:"dimensions"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Duration   time.Duration `json:"duration"`
}

// Config contains database configuration
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	Table           string        `yaml:"table" mapstructure:"table"`
	Dimensions      int           `yaml:"dimensions" mapstructure:"dimensions"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}
