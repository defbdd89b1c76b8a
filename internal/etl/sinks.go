package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/parquet-go"

	"github.com/raaihank/sentinel-embed/internal/vector"
)

// SinkResult reports what a Sink did with one batch
type SinkResult struct {
	Written    int64
	Duplicates int64
}

// Sink receives embedded batches from the pipeline
type Sink interface {
	Write(ctx context.Context, records []EmbeddedRecord) (SinkResult, error)
	Close() error
}

// Indexer is implemented by sinks that can build a search index once loading ends
type Indexer interface {
	CreateIndex(ctx context.Context) error
}

// DocumentStore is the subset of *vector.Store used by VectorSink
type DocumentStore interface {
	BatchInsert(ctx context.Context, docs []*vector.Document) (*vector.BatchInsertResult, error)
	CreateIndex(ctx context.Context) error
}

// VectorSink writes embedded records to the pgvector document store
type VectorSink struct {
	store  DocumentStore
	source string
}

// NewVectorSink creates a sink that tags every document with source
func NewVectorSink(store DocumentStore, source string) *VectorSink {
	return &VectorSink{store: store, source: source}
}

func (s *VectorSink) Write(ctx context.Context, records []EmbeddedRecord) (SinkResult, error) {
	docs := make([]*vector.Document, len(records))
	for i, r := range records {
		docs[i] = &vector.Document{
			Text:      r.Text,
			TextHash:  vector.HashText(r.Text),
			Label:     r.Label,
			Source:    s.source,
			Model:     r.Model,
			Embedding: r.Embedding,
		}
	}

	res, err := s.store.BatchInsert(ctx, docs)
	if err != nil {
		return SinkResult{}, err
	}
	return SinkResult{Written: res.Inserted, Duplicates: res.Duplicates}, nil
}

func (s *VectorSink) CreateIndex(ctx context.Context) error {
	return s.store.CreateIndex(ctx)
}

// Close leaves the store open; its owner closes it.
func (s *VectorSink) Close() error {
	return nil
}

// ParquetSink writes embedded records as rows of a parquet file
type ParquetSink struct {
	file   *os.File
	writer *parquet.Writer
}

// NewParquetSink creates path and writes rows with the EmbeddedRecord schema
func NewParquetSink(path string) (*ParquetSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet output: %w", err)
	}
	return &ParquetSink{
		file:   file,
		writer: parquet.NewWriter(file, parquet.SchemaOf(new(EmbeddedRecord))),
	}, nil
}

func (s *ParquetSink) Write(_ context.Context, records []EmbeddedRecord) (SinkResult, error) {
	for i := range records {
		if err := s.writer.Write(&records[i]); err != nil {
			return SinkResult{Written: int64(i)}, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}
	return SinkResult{Written: int64(len(records))}, nil
}

// Close flushes the parquet footer and closes the file
func (s *ParquetSink) Close() error {
	werr := s.writer.Close()
	ferr := s.file.Close()
	if werr != nil {
		return fmt.Errorf("failed to finish parquet output: %w", werr)
	}
	return ferr
}

// JSONLSink writes one JSON object per embedded record
type JSONLSink struct {
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewJSONLSink creates path for line-delimited JSON output
func NewJSONLSink(path string) (*JSONLSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create jsonl output: %w", err)
	}
	buf := bufio.NewWriter(file)
	return &JSONLSink{file: file, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *JSONLSink) Write(_ context.Context, records []EmbeddedRecord) (SinkResult, error) {
	for i := range records {
		if err := s.enc.Encode(&records[i]); err != nil {
			return SinkResult{Written: int64(i)}, fmt.Errorf("failed to write jsonl record: %w", err)
		}
	}
	return SinkResult{Written: int64(len(records))}, nil
}

func (s *JSONLSink) Close() error {
	ferr := s.buf.Flush()
	if err := s.file.Close(); ferr == nil {
		ferr = err
	}
	return ferr
}

// OpenFileSink picks a file sink from the output path extension
func OpenFileSink(path string) (Sink, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return NewParquetSink(path)
	case ".jsonl", ".ndjson", ".json":
		return NewJSONLSink(path)
	default:
		return nil, fmt.Errorf("unsupported output file %q: want .parquet or .jsonl", path)
	}
}
