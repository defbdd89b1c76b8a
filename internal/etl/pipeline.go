package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/embeddings"
)

// Pipeline reads a dataset, embeds it in batches and hands each batch to a Sink
type Pipeline struct {
	embeddingService embeddings.EmbeddingService
	sink             Sink
	model            string
	config           *Config
	logger           *zap.Logger
	stats            *ProcessingStats
	nextReport       int64
	mu               sync.RWMutex
}

// NewPipeline creates a new ETL pipeline
func NewPipeline(
	embeddingService embeddings.EmbeddingService,
	sink Sink,
	model string,
	config *Config,
	logger *zap.Logger,
) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		embeddingService: embeddingService,
		sink:             sink,
		model:            model,
		config:           config,
		logger:           logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      256,
		ValidateData:   true,
		MaxTextLength:  10000,
		CreateIndex:    true,
		ProgressReport: 1000,
		Output:         "store",
	}
}

// ProcessFile processes a dataset file (CSV, Parquet, or JSONL)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	format := DetectFileFormat(filePath)
	p.logger.Info("Starting ETL pipeline",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize))

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file: %w", format, err)
	}
	defer file.Close()

	start := time.Now()
	result := &ProcessingResult{}
	p.resetStats()

	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, file, result)
	case FormatParquet:
		err = p.processParquet(ctx, file, result)
	case FormatJSONL:
		err = p.processJSONL(ctx, file, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	if p.config.CreateIndex && result.Written > 0 {
		if ix, ok := p.sink.(Indexer); ok {
			indexStart := time.Now()
			if err := ix.CreateIndex(ctx); err != nil {
				p.logger.Warn("Failed to create vector index", zap.Error(err))
			} else {
				p.logger.Info("Vector index checked", zap.Duration("duration", time.Since(indexStart)))
			}
		}
	}

	p.logger.Info("ETL pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("invalid_records", result.InvalidRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("written", result.Written),
		zap.Int64("duplicates", result.Duplicates),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("embedding_time", result.EmbeddingTime),
		zap.Duration("sink_time", result.SinkTime))

	return result, nil
}

// processCSV reads text[,label] rows. A first row naming a "text" column is
// treated as a header and may place text and label in any column.
func (p *Pipeline) processCSV(ctx context.Context, file io.Reader, result *ProcessingResult) error {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	textCol, labelCol := 0, 1
	first, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	var pending []string
	if t, l, ok := csvColumns(first); ok {
		textCol, labelCol = t, l
		p.logger.Info("CSV header detected", zap.Strings("columns", first))
	} else {
		pending = first
	}

	toRecord := func(row []string) *DataRecord {
		if textCol >= len(row) {
			return &DataRecord{}
		}
		rec := &DataRecord{Text: strings.TrimSpace(row[textCol])}
		if labelCol >= 0 && labelCol < len(row) {
			rec.Label = strings.TrimSpace(row[labelCol])
		}
		return rec
	}

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		if pending != nil {
			p.accept(toRecord(pending), &batch, result)
			pending = nil
		}

		for len(batch) < p.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				var perr *csv.ParseError
				if !errors.As(err, &perr) {
					return nil, err
				}
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				result.TotalRecords++
				result.InvalidRecords++
				continue
			}
			p.accept(toRecord(row), &batch, result)
		}
		return batch, nil
	}, result)
}

// csvColumns locates the text and label columns of a header row.
func csvColumns(header []string) (textCol, labelCol int, ok bool) {
	textCol, labelCol = -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "text":
			textCol = i
		case "label", "label_text":
			if labelCol < 0 {
				labelCol = i
			}
		}
	}
	return textCol, labelCol, textCol >= 0
}

// processParquet processes Parquet files with text and label columns
func (p *Pipeline) processParquet(ctx context.Context, file *os.File, result *ProcessingResult) error {
	reader := parquet.NewReader(file)
	defer reader.Close()

	p.logger.Info("Parquet file opened", zap.Int64("rows", reader.NumRows()))

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord

		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			p.accept(&record, &batch, result)
		}

		return batch, nil
	}, result)
}

// processJSONL processes JSON files (one JSON object per line)
func (p *Pipeline) processJSONL(ctx context.Context, file io.Reader, result *ProcessingResult) error {
	decoder := json.NewDecoder(file)

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord

		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				// A syntax error leaves the decoder unusable.
				return nil, fmt.Errorf("failed to read JSON record: %w", err)
			}
			p.accept(&record, &batch, result)
		}

		return batch, nil
	}, result)
}

// accept counts a read record and appends it to batch when it is valid
func (p *Pipeline) accept(record *DataRecord, batch *[]*DataRecord, result *ProcessingResult) {
	result.TotalRecords++
	p.mu.Lock()
	p.stats.RecordsRead++
	p.mu.Unlock()

	if !p.validateRecord(record) {
		result.InvalidRecords++
		p.mu.Lock()
		p.stats.RecordsInvalid++
		p.mu.Unlock()
		return
	}
	*batch = append(*batch, record)
}

// processBatches processes data in batches using the provided reader function
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*DataRecord, error), result *ProcessingResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		readBefore := result.TotalRecords
		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) == 0 {
			if result.TotalRecords == readBefore {
				break // End of file
			}
			continue // every record of this chunk was invalid
		}

		if err := p.processBatch(ctx, batch, result); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("Batch processing failed", zap.Error(err))
			result.ProcessedFailed += int64(len(batch))
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.ProcessedOK += int64(len(batch))
		}
		result.Batches++

		p.reportProgress(result)
	}

	return nil
}

// processBatch embeds a single batch of records and writes it to the sink
func (p *Pipeline) processBatch(ctx context.Context, batch []*DataRecord, result *ProcessingResult) error {
	texts := make([]string, len(batch))
	for i, record := range batch {
		texts[i] = record.Text
	}

	embeddingStart := time.Now()
	embeddingResult, err := p.embeddingService.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("batch embedding generation failed: %w", err)
	}
	result.EmbeddingTime += time.Since(embeddingStart)

	if len(embeddingResult.Embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d",
			len(embeddingResult.Embeddings), len(batch))
	}

	records := make([]EmbeddedRecord, len(batch))
	for i, record := range batch {
		records[i] = EmbeddedRecord{
			Text:      record.Text,
			Label:     record.Label,
			Model:     p.model,
			Embedding: embeddingResult.Embeddings[i],
		}
		if i < len(embeddingResult.TokenCounts) {
			records[i].TokenCount = int32(embeddingResult.TokenCounts[i])
		}
	}

	sinkStart := time.Now()
	written, err := p.sink.Write(ctx, records)
	if err != nil {
		return fmt.Errorf("sink write failed: %w", err)
	}
	result.SinkTime += time.Since(sinkStart)
	result.Written += written.Written
	result.Duplicates += written.Duplicates

	p.mu.Lock()
	p.stats.RecordsValid += int64(len(batch))
	p.stats.EmbeddingsGen += int64(len(records))
	p.stats.SinkWrites += written.Written
	p.stats.CurrentBatch++
	p.mu.Unlock()

	p.logger.Debug("Batch processed successfully",
		zap.Int("batch_size", len(batch)),
		zap.Int64("written", written.Written),
		zap.Int64("duplicates", written.Duplicates),
		zap.Duration("embedding_time", sinkStart.Sub(embeddingStart)),
		zap.Duration("sink_time", time.Since(sinkStart)))

	return nil
}

// validateRecord validates a data record
func (p *Pipeline) validateRecord(record *DataRecord) bool {
	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text")
		return false
	}
	if !utf8.ValidString(record.Text) || !utf8.ValidString(record.Label) {
		p.logger.Debug("Invalid record: text is not valid UTF-8")
		return false
	}

	if !p.config.ValidateData {
		return true
	}

	if p.config.MaxTextLength > 0 && len(record.Text) > p.config.MaxTextLength {
		p.logger.Debug("Invalid record: text too long", zap.Int("length", len(record.Text)))
		return false
	}

	return true
}

// reportProgress logs progress each time another ProgressReport records have been read
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	if p.config.ProgressReport <= 0 || result.TotalRecords < p.nextReport {
		return
	}
	p.nextReport = result.TotalRecords + int64(p.config.ProgressReport)

	p.mu.Lock()
	elapsed := time.Since(p.stats.StartTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(result.TotalRecords) / elapsed.Seconds()
	}
	p.stats.ProcessingRate = rate
	p.mu.Unlock()

	fields := []zap.Field{
		zap.Int64("records_read", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Int64("records_invalid", result.InvalidRecords),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed),
	}
	if done := result.ProcessedOK + result.ProcessedFailed; done > 0 {
		fields = append(fields,
			zap.Duration("avg_embedding_time", result.EmbeddingTime/time.Duration(done)),
			zap.Duration("avg_sink_time", result.SinkTime/time.Duration(done)))
	}
	p.logger.Info("Processing progress", fields...)
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
	p.nextReport = int64(p.config.ProgressReport)
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
