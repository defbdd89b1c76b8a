// Package output persists embeddings as JSON float arrays.
package output

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// DefaultPath is where the CLI writes an embedding when no path is given
const DefaultPath = "embedding.json"

// WriteEmbedding writes a single embedding as a JSON array of numbers
func WriteEmbedding(path string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("refusing to write empty embedding to %s", path)
	}
	return writeJSON(path, embedding)
}

// WriteEmbeddings writes embeddings as a JSON array of arrays, in input order
func WriteEmbeddings(path string, embeddings [][]float32) error {
	if len(embeddings) == 0 {
		return fmt.Errorf("refusing to write empty embedding list to %s", path)
	}
	return writeJSON(path, embeddings)
}

// ReadEmbedding loads a file written by WriteEmbedding
func ReadEmbedding(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, fmt.Errorf("failed to parse embedding file %s: %w", path, err)
	}
	return embedding, nil
}

// writeJSON writes to a temp file in the target directory, then renames it into place.
func writeJSON(path string, v interface{}) error {
	if err := checkFinite(v); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode embeddings: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// checkFinite rejects NaN and Inf, which encoding/json cannot represent.
func checkFinite(v interface{}) error {
	check := func(vec []float32, row int) error {
		for i, x := range vec {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return fmt.Errorf("embedding %d has non-finite value at index %d", row, i)
			}
		}
		return nil
	}
	switch t := v.(type) {
	case []float32:
		return check(t, 0)
	case [][]float32:
		for row, vec := range t {
			if err := check(vec, row); err != nil {
				return err
			}
		}
	}
	return nil
}
