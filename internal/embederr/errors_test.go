package embederr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageOf(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		stage Stage
		ok    bool
	}{
		{"tokenize", fmt.Errorf("%w: empty batch", ErrTokenization), StageTokenize, true},
		{"load", fmt.Errorf("%w: missing file", ErrModelLoad), StageLoad, true},
		{"double wrapped", fmt.Errorf("generate: %w", fmt.Errorf("%w: run failed", ErrInference)), StageInference, true},
		{"dimension", ErrDimensionMismatch, StageScoring, true},
		{"plain", errors.New("boom"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, ok := StageOf(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.stage, stage)
		})
	}
}

func TestSentinelsMatchWithErrorsIs(t *testing.T) {
	err := fmt.Errorf("%w: tensor rows differ", ErrShapeMismatch)

	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.False(t, errors.Is(err, ErrInference))
	assert.Equal(t, "shape_mismatch", KindOf(err))
	assert.Equal(t, "", KindOf(errors.New("other")))
}
