package etl

import (
	"path/filepath"
	"strings"
	"time"
)

// DataRecord represents a single record from the input dataset
type DataRecord struct {
	Text  string `parquet:"text" json:"text"`
	Label string `parquet:"label,optional" json:"label,omitempty"`
}

// EmbeddedRecord is a DataRecord with its embedding, as handed to a Sink
type EmbeddedRecord struct {
	Text       string    `parquet:"text" json:"text"`
	Label      string    `parquet:"label" json:"label,omitempty"`
	Model      string    `parquet:"model" json:"model"`
	TokenCount int32     `parquet:"token_count" json:"token_count"`
	Embedding  []float32 `parquet:"embedding" json:"embedding"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	InvalidRecords  int64         `json:"invalid_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Written         int64         `json:"written"`
	Duplicates      int64         `json:"duplicates"`
	Batches         int64         `json:"batches"`
	Duration        time.Duration `json:"duration"`
	EmbeddingTime   time.Duration `json:"embedding_time"`
	SinkTime        time.Duration `json:"sink_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`           // 256
	ValidateData   bool          `yaml:"validate_data" mapstructure:"validate_data"`     // true
	MaxTextLength  int           `yaml:"max_text_length" mapstructure:"max_text_length"` // 10000 bytes
	CreateIndex    bool          `yaml:"create_index" mapstructure:"create_index"`       // true
	ProgressReport int           `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`                 // 0 = none
	Output         string        `yaml:"output" mapstructure:"output"`                   // "store", or a .parquet/.jsonl path
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	EmbeddingsGen  int64     `json:"embeddings_generated"`
	SinkWrites     int64     `json:"sink_writes"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension, defaulting to CSV
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatCSV
	}
}
