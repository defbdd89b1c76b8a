// Package tensor shapes padded encodings into the rectangular [batch, sequence]
// integer tensors a transformer graph consumes.
package tensor

import (
	"fmt"

	"github.com/raaihank/sentinel-embed/internal/embederr"
	"github.com/raaihank/sentinel-embed/internal/tokenizer"
)

// Int64Tensor is a row-major rank-2 tensor
type Int64Tensor struct {
	Rows int
	Cols int
	Data []int64
}

// Shape returns the tensor shape as [rows, cols].
func (t *Int64Tensor) Shape() []int64 {
	return []int64{int64(t.Rows), int64(t.Cols)}
}

// Row returns a view of row i; the slice aliases the tensor data.
func (t *Int64Tensor) Row(i int) []int64 {
	start := i * t.Cols
	return t.Data[start : start+t.Cols : start+t.Cols]
}

// At returns the element at (row, col).
func (t *Int64Tensor) At(row, col int) int64 {
	return t.Data[row*t.Cols+col]
}

// InputSet holds the three model inputs for one batch; row i of each tensor
// belongs to encoding i.
type InputSet struct {
	IDs           *Int64Tensor
	AttentionMask *Int64Tensor
	TypeIDs       *Int64Tensor
}

// BatchSize returns N.
func (s *InputSet) BatchSize() int {
	return s.IDs.Rows
}

// SeqLen returns L.
func (s *InputSet) SeqLen() int {
	return s.IDs.Cols
}

// Build flattens encodings into three [N, L] tensors. All encodings must
// share the same length; anything else is a programming error reported as
// embederr.ErrShapeMismatch.
func Build(encodings []tokenizer.Encoding) (*InputSet, error) {
	if len(encodings) == 0 {
		return nil, fmt.Errorf("%w: no encodings", embederr.ErrShapeMismatch)
	}

	batch := len(encodings)
	seqLen := encodings[0].Len()
	if seqLen == 0 {
		return nil, fmt.Errorf("%w: encoding 0 is empty", embederr.ErrShapeMismatch)
	}

	ids := make([]int64, 0, batch*seqLen)
	mask := make([]int64, 0, batch*seqLen)
	types := make([]int64, 0, batch*seqLen)
	for i, enc := range encodings {
		if enc.Len() != seqLen || len(enc.AttentionMask) != seqLen || len(enc.TypeIDs) != seqLen {
			return nil, fmt.Errorf("%w: encoding %d has lengths ids=%d mask=%d types=%d, want %d",
				embederr.ErrShapeMismatch, i, enc.Len(), len(enc.AttentionMask), len(enc.TypeIDs), seqLen)
		}
		ids = append(ids, enc.IDs...)
		mask = append(mask, enc.AttentionMask...)
		types = append(types, enc.TypeIDs...)
	}

	return &InputSet{
		IDs:           FromFlat(batch, seqLen, ids),
		AttentionMask: FromFlat(batch, seqLen, mask),
		TypeIDs:       FromFlat(batch, seqLen, types),
	}, nil
}

// FromFlat wraps data as a [rows, cols] tensor without copying.
// The caller guarantees len(data) == rows*cols.
func FromFlat(rows, cols int, data []int64) *Int64Tensor {
	return &Int64Tensor{Rows: rows, Cols: cols, Data: data}
}
