package vector

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/sentinel-embed/internal/embederr"
)

func TestFormatParseEmbedding(t *testing.T) {
	in := []float32{0.5, -0.25, 1e-7, 3}
	s := formatEmbedding(in)
	assert.Equal(t, "[0.5,-0.25,1e-07,3]", s)

	out, err := parseEmbedding(s)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = parseEmbedding(" [1, 2] ")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, out)

	empty, err := parseEmbedding(formatEmbedding(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parseEmbedding("[1,abc]")
	assert.Error(t, err)
}

func TestBuildSearchQuery(t *testing.T) {
	t.Run("no filters", func(t *testing.T) {
		q, args := buildSearchQuery("documents", "[1,0]", &SearchOptions{Limit: 3, MinSimilarity: 0.5})
		assert.Contains(t, q, "FROM documents")
		assert.Contains(t, q, "ORDER BY embedding <=> $1")
		assert.Contains(t, q, "LIMIT $3")
		assert.Equal(t, []interface{}{"[1,0]", float32(0.5), 3}, args)
	})

	t.Run("label and model filters", func(t *testing.T) {
		q, args := buildSearchQuery("docs", "[1]", &SearchOptions{Limit: 10, LabelFilter: "legal", ModelFilter: "minilm"})
		assert.Contains(t, q, "AND label = $3")
		assert.Contains(t, q, "AND model = $4")
		assert.Contains(t, q, "LIMIT $5")
		assert.Equal(t, []interface{}{"[1]", float32(0), "legal", "minilm", 10}, args)
	})
}

func TestBuildBatchInsert(t *testing.T) {
	s := &Store{table: "documents", dimensions: 2}
	docs := []*Document{
		{Text: "a", Label: "x", Embedding: []float32{1, 0}},
		{Text: "b", Embedding: []float32{0, 1}},
		{Text: "a", Embedding: []float32{1, 0}},
	}

	q, args, err := s.buildBatchInsert(docs)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(q, "ON CONFLICT (text_hash) DO NOTHING"))
	assert.Contains(t, q, "($7, $8, $9, $10, $11, $12)")
	assert.NotContains(t, q, "$13", "duplicate text within a batch is sent once")
	assert.Len(t, args, 12)
	assert.Equal(t, HashText("a"), docs[0].TextHash)

	_, _, err = s.buildBatchInsert([]*Document{{Text: "c", Embedding: []float32{1, 2, 3}}})
	assert.True(t, errors.Is(err, embederr.ErrDimensionMismatch))

	_, _, err = s.buildBatchInsert([]*Document{{Text: "d"}})
	assert.True(t, errors.Is(err, embederr.ErrStore))
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements("documents", 384)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE EXTENSION IF NOT EXISTS vector")
	assert.Contains(t, stmts[1], "embedding vector(384) NOT NULL")
	assert.Contains(t, stmts[1], "text_hash TEXT NOT NULL UNIQUE")

	assert.Contains(t, schemaStatements("documents", 0)[1], "embedding vector NOT NULL")
}

func TestIvfflatLists(t *testing.T) {
	assert.Equal(t, int64(100), ivfflatLists(1000))
	assert.Equal(t, int64(250), ivfflatLists(250000))
}

func TestHashText(t *testing.T) {
	assert.Equal(t, HashText("hello"), HashText("hello"))
	assert.NotEqual(t, HashText("hello"), HashText("Hello"))
	assert.Len(t, HashText(""), 64)
}

func TestNewStoreRejectsBadTable(t *testing.T) {
	s, err := NewStore(&Config{DatabaseURL: "postgres://localhost/x", Table: "docs; DROP TABLE x"}, nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, embederr.ErrStore)
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://app:***@db:5432/embed", maskDatabaseURL("postgres://app:secret@db:5432/embed"))
	assert.Equal(t, "postgres://db:5432/embed", maskDatabaseURL("postgres://db:5432/embed"))
}
