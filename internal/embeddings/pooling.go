package embeddings

import (
	"fmt"
	"strings"

	"github.com/raaihank/sentinel-embed/internal/embederr"
	"github.com/raaihank/sentinel-embed/internal/engine"
	"github.com/raaihank/sentinel-embed/internal/tensor"
)

// PoolingStrategy selects how per-token hidden states collapse into one vector
type PoolingStrategy string

const (
	// PoolingMean averages hidden states over positions where the attention mask is 1
	PoolingMean PoolingStrategy = "mean"
	// PoolingCLS takes the hidden state at position 0
	PoolingCLS PoolingStrategy = "cls"
)

// ParsePoolingStrategy accepts "mean", "cls" or "" (mean).
func ParsePoolingStrategy(s string) (PoolingStrategy, error) {
	switch PoolingStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case PoolingMean, "":
		return PoolingMean, nil
	case PoolingCLS:
		return PoolingCLS, nil
	default:
		return "", fmt.Errorf("unknown pooling strategy %q (must be one of: mean, cls)", s)
	}
}

// Pool reduces a raw graph output to one vector per batch row.
//
// Pooled outputs ([N, H]) are used row by row regardless of strategy.
// Token outputs ([N, L, H]) are pooled with the given strategy; under mean
// pooling a row whose mask has no ones yields the zero vector.
func Pool(out *engine.RawOutput, kind engine.OutputKind, mask *tensor.Int64Tensor, strategy PoolingStrategy) ([][]float32, error) {
	if out == nil {
		return nil, fmt.Errorf("%w: no model output", embederr.ErrShapeMismatch)
	}
	if mask == nil {
		return nil, fmt.Errorf("%w: no attention mask", embederr.ErrShapeMismatch)
	}

	switch kind {
	case engine.OutputPooled:
		return splitPooled(out, mask.Rows)
	case engine.OutputTokenHidden:
		if strategy == PoolingCLS {
			return firstToken(out, mask)
		}
		return meanPool(out, mask)
	default:
		return nil, fmt.Errorf("%w: unknown output kind %d", embederr.ErrShapeMismatch, kind)
	}
}

func splitPooled(out *engine.RawOutput, batch int) ([][]float32, error) {
	if len(out.Shape) != 2 {
		return nil, fmt.Errorf("%w: pooled output has shape %v", embederr.ErrShapeMismatch, out.Shape)
	}
	n, h := int(out.Shape[0]), int(out.Shape[1])
	if n != batch || h <= 0 || len(out.Data) != n*h {
		return nil, fmt.Errorf("%w: pooled output %v with %d values for batch %d",
			embederr.ErrShapeMismatch, out.Shape, len(out.Data), batch)
	}

	res := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, h)
		copy(row, out.Data[i*h:(i+1)*h])
		res[i] = row
	}
	return res, nil
}

func tokenDims(out *engine.RawOutput, mask *tensor.Int64Tensor) (n, l, h int, err error) {
	if len(out.Shape) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: token output has shape %v", embederr.ErrShapeMismatch, out.Shape)
	}
	n, l, h = int(out.Shape[0]), int(out.Shape[1]), int(out.Shape[2])
	if n != mask.Rows || l != mask.Cols || h <= 0 || len(out.Data) != n*l*h {
		return 0, 0, 0, fmt.Errorf("%w: token output %v with %d values for mask %v",
			embederr.ErrShapeMismatch, out.Shape, len(out.Data), mask.Shape())
	}
	return n, l, h, nil
}

func meanPool(out *engine.RawOutput, mask *tensor.Int64Tensor) ([][]float32, error) {
	n, l, h, err := tokenDims(out, mask)
	if err != nil {
		return nil, err
	}

	res := make([][]float32, n)
	sum := make([]float64, h)
	for b := 0; b < n; b++ {
		for d := range sum {
			sum[d] = 0
		}
		valid := 0
		maskRow := mask.Row(b)
		for s := 0; s < l; s++ {
			if maskRow[s] != 1 {
				continue
			}
			valid++
			offset := (b*l + s) * h
			for d := 0; d < h; d++ {
				sum[d] += float64(out.Data[offset+d])
			}
		}

		pooled := make([]float32, h)
		if valid > 0 {
			inv := 1.0 / float64(valid)
			for d := 0; d < h; d++ {
				pooled[d] = float32(sum[d] * inv)
			}
		}
		res[b] = pooled
	}
	return res, nil
}

func firstToken(out *engine.RawOutput, mask *tensor.Int64Tensor) ([][]float32, error) {
	n, l, h, err := tokenDims(out, mask)
	if err != nil {
		return nil, err
	}

	res := make([][]float32, n)
	for b := 0; b < n; b++ {
		row := make([]float32, h)
		offset := b * l * h
		copy(row, out.Data[offset:offset+h])
		res[b] = row
	}
	return res, nil
}
