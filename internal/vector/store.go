// Package vector persists embedded documents in PostgreSQL with the pgvector
// extension and answers cosine-distance nearest neighbour queries.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/embederr"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "documents"

// indexThreshold is the row count below which an ivfflat index is not worth building
const indexThreshold = 1000

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store handles vector storage operations with PostgreSQL + pgvector
type Store struct {
	db         *sqlx.DB
	table      string
	dimensions int
	logger     *zap.Logger
}

// NewStore creates a new vector store instance
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	table := config.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", embederr.ErrStore, table)
	}

	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", embederr.ErrStore, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:         db,
		table:      table,
		dimensions: config.Dimensions,
		logger:     logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if config.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := store.initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize store: %v", embederr.ErrStore, err)
	}

	logger.Info("Vector store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.String("table", table),
		zap.Int("dimensions", config.Dimensions),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return store, nil
}

// initialize checks database connection and ensures pgvector extension
func (s *Store) initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var extensionExists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"
	if err := s.db.GetContext(ctx, &extensionExists, query); err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !extensionExists {
		return fmt.Errorf("pgvector extension is not installed")
	}

	s.logger.Info("Database initialized with pgvector extension")
	return nil
}

// EnsureSchema creates the pgvector extension and the documents table if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table, s.dimensions) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: schema migration failed: %v", embederr.ErrStore, err)
		}
	}
	s.logger.Info("Vector store schema ensured", zap.String("table", s.table))
	return nil
}

func schemaStatements(table string, dimensions int) []string {
	column := "vector"
	if dimensions > 0 {
		column = fmt.Sprintf("vector(%d)", dimensions)
	}
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			text TEXT NOT NULL,
			text_hash TEXT NOT NULL UNIQUE,
			label TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			embedding %s NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table, column),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_label ON %s (label)", table, table),
	}
}

// Insert adds a new document to the database
func (s *Store) Insert(ctx context.Context, doc *Document) error {
	if err := s.checkDimensions(doc.Embedding); err != nil {
		return err
	}
	if doc.TextHash == "" {
		doc.TextHash = HashText(doc.Text)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (text, text_hash, label, source, model, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (text_hash) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`, s.table)

	err := s.db.QueryRowxContext(ctx, query,
		doc.Text,
		doc.TextHash,
		doc.Label,
		doc.Source,
		doc.Model,
		formatEmbedding(doc.Embedding),
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		s.logger.Error("Failed to insert document", zap.Error(err), zap.String("label", doc.Label))
		return fmt.Errorf("%w: failed to insert document: %v", embederr.ErrStore, err)
	}

	s.logger.Debug("Document inserted", zap.Int64("id", doc.ID))
	return nil
}

// BatchInsert adds multiple documents in one statement. Documents whose text
// hash already exists are skipped and counted as duplicates.
func (s *Store) BatchInsert(ctx context.Context, docs []*Document) (*BatchInsertResult, error) {
	if len(docs) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	query, args, err := s.buildBatchInsert(docs)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Batch insert failed", zap.Error(err))
		return nil, fmt.Errorf("%w: batch insert failed: %v", embederr.ErrStore, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(docs))
	}

	result := &BatchInsertResult{
		Inserted:   inserted,
		Duplicates: int64(len(docs)) - inserted,
		Duration:   time.Since(start),
	}

	s.logger.Debug("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (s *Store) buildBatchInsert(docs []*Document) (string, []interface{}, error) {
	const cols = 6
	valueStrings := make([]string, 0, len(docs))
	valueArgs := make([]interface{}, 0, len(docs)*cols)
	seen := make(map[string]bool, len(docs))

	for _, doc := range docs {
		if err := s.checkDimensions(doc.Embedding); err != nil {
			return "", nil, err
		}
		if doc.TextHash == "" {
			doc.TextHash = HashText(doc.Text)
		}
		// Postgres rejects duplicate conflict targets within one statement
		if seen[doc.TextHash] {
			continue
		}
		seen[doc.TextHash] = true

		n := len(valueStrings) * cols
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6))
		valueArgs = append(valueArgs,
			doc.Text,
			doc.TextHash,
			doc.Label,
			doc.Source,
			doc.Model,
			formatEmbedding(doc.Embedding),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (text, text_hash, label, source, model, embedding)
		VALUES %s
		ON CONFLICT (text_hash) DO NOTHING`,
		s.table, strings.Join(valueStrings, ","))

	return query, valueArgs, nil
}

// similarityRow is the scan target for FindSimilar
type similarityRow struct {
	Document
	EmbeddingText string  `db:"embedding"`
	Similarity    float32 `db:"similarity"`
	Distance      float32 `db:"distance"`
}

// FindSimilar finds documents closest to embedding by cosine distance
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, options *SearchOptions) ([]*SimilarityResult, error) {
	if err := s.checkDimensions(embedding); err != nil {
		return nil, err
	}
	if options == nil {
		options = &SearchOptions{Limit: 5}
	}
	if options.Limit <= 0 {
		options.Limit = 5
	}

	query, args := buildSearchQuery(s.table, formatEmbedding(embedding), options)

	start := time.Now()
	var rows []similarityRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.Error("Similarity search failed", zap.Error(err))
		return nil, fmt.Errorf("%w: similarity search failed: %v", embederr.ErrStore, err)
	}

	results := make([]*SimilarityResult, 0, len(rows))
	for i := range rows {
		doc := rows[i].Document
		if options.IncludeEmbedding {
			vec, err := parseEmbedding(rows[i].EmbeddingText)
			if err != nil {
				s.logger.Error("Failed to parse embedding", zap.Error(err), zap.Int64("id", doc.ID))
				continue
			}
			doc.Embedding = vec
		}
		results = append(results, &SimilarityResult{
			Document:   &doc,
			Similarity: rows[i].Similarity,
			Distance:   rows[i].Distance,
		})
	}

	s.logger.Debug("Similarity search completed",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
		zap.Float32("min_similarity", options.MinSimilarity))

	return results, nil
}

func buildSearchQuery(table, embedding string, options *SearchOptions) (string, []interface{}) {
	whereClause := "WHERE (1 - (embedding <=> $1)) >= $2"
	args := []interface{}{embedding, options.MinSimilarity}
	argIndex := 3

	if options.LabelFilter != "" {
		whereClause += fmt.Sprintf(" AND label = $%d", argIndex)
		args = append(args, options.LabelFilter)
		argIndex++
	}
	if options.ModelFilter != "" {
		whereClause += fmt.Sprintf(" AND model = $%d", argIndex)
		args = append(args, options.ModelFilter)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT
			id, text, text_hash, label, source, model, embedding::text AS embedding,
			created_at, updated_at,
			(1 - (embedding <=> $1)) AS similarity,
			(embedding <=> $1) AS distance
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, table, whereClause, argIndex)

	args = append(args, options.Limit)
	return query, args
}

// GetStats returns database statistics
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByLabel: make(map[string]int64), Dimensions: s.dimensions}

	var counts []struct {
		Label string `db:"label"`
		Count int64  `db:"count"`
	}
	query := fmt.Sprintf("SELECT label, COUNT(*) AS count FROM %s GROUP BY label", s.table)
	if err := s.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("%w: failed to get document stats: %v", embederr.ErrStore, err)
	}
	for _, c := range counts {
		stats.ByLabel[c.Label] = c.Count
		stats.TotalDocuments += c.Count
	}
	return stats, nil
}

// CreateIndex creates the ivfflat cosine index once the table is large enough.
func (s *Store) CreateIndex(ctx context.Context) error {
	var count int64
	if err := s.db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)); err != nil {
		return fmt.Errorf("%w: failed to count documents: %v", embederr.ErrStore, err)
	}

	if count < indexThreshold {
		s.logger.Info("Skipping index creation, not enough documents", zap.Int64("count", count))
		return nil
	}

	s.logger.Info("Creating vector similarity index...", zap.Int64("document_count", count))

	query := fmt.Sprintf(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_%s_embedding
		ON %s USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`, s.table, s.table, ivfflatLists(count))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("%w: failed to create vector index: %v", embederr.ErrStore, err)
	}

	s.logger.Info("Vector similarity index created successfully")
	return nil
}

// ivfflatLists follows the pgvector guidance of rows/1000 lists, at least 100.
func ivfflatLists(rows int64) int64 {
	lists := rows / 1000
	if lists < 100 {
		lists = 100
	}
	return lists
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) checkDimensions(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", embederr.ErrStore)
	}
	if s.dimensions > 0 && len(embedding) != s.dimensions {
		return fmt.Errorf("%w: store holds %d dimensions, got %d", embederr.ErrDimensionMismatch, s.dimensions, len(embedding))
	}
	return nil
}

// HashText returns the hex sha256 of text, the document dedupe key.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// formatEmbedding converts float32 slice to PostgreSQL vector format
func formatEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	var b strings.Builder
	b.Grow(len(embedding) * 10)
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseEmbedding converts PostgreSQL vector format back to float32 slice
func parseEmbedding(embeddingStr string) ([]float32, error) {
	embeddingStr = strings.Trim(strings.TrimSpace(embeddingStr), "[]")
	if embeddingStr == "" {
		return []float32{}, nil
	}

	parts := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedding value %q: %w", part, err)
		}
		embedding[i] = float32(val)
	}
	return embedding, nil
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
