package output

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEmbedding(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	vec := []float32{0.25, -0.5, 1e-3}

	require.NoError(t, WriteEmbedding(path, vec))

	got, err := ReadEmbedding(path)
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	// overwrite in place
	require.NoError(t, WriteEmbedding(path, []float32{1}))
	got, err = ReadEmbedding(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestWriteEmbeddings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "all.json")
	require.NoError(t, WriteEmbeddings(path, [][]float32{{1, 0}, {0, 1}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got [][]float32
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, got)
}

func TestWriteRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, WriteEmbedding(filepath.Join(dir, "a.json"), nil))
	assert.Error(t, WriteEmbeddings(filepath.Join(dir, "b.json"), nil))
	assert.Error(t, WriteEmbedding(filepath.Join(dir, "c.json"), []float32{float32(math.NaN())}))
	assert.Error(t, WriteEmbedding(filepath.Join(dir, "missing", "d.json"), []float32{1}))

	_, err := os.Stat(filepath.Join(dir, "c.json"))
	assert.True(t, os.IsNotExist(err))
}
