package embederr

import (
	"errors"
)

// Stage identifies the pipeline stage an error originated from
type Stage string

const (
	StageInput     Stage = "input"
	StageTokenize  Stage = "tokenize"
	StageTensor    Stage = "tensor"
	StageLoad      Stage = "load"
	StageInference Stage = "inference"
	StagePooling   Stage = "pooling"
	StageScoring   Stage = "scoring"
	StageCache     Stage = "cache"
	StageStore     Stage = "store"
)

// EmbeddingError is the sentinel type wrapped by every pipeline failure
type EmbeddingError struct {
	Type    string `json:"type"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *EmbeddingError) Error() string {
	return e.Message
}

// Common error types
var (
	ErrInvalidInput       = &EmbeddingError{Type: "invalid_input", Stage: StageInput, Message: "invalid input text", Code: 1001}
	ErrModelLoad          = &EmbeddingError{Type: "model_load_failed", Stage: StageLoad, Message: "model load failed", Code: 1002}
	ErrInference          = &EmbeddingError{Type: "inference_failed", Stage: StageInference, Message: "inference failed", Code: 1003}
	ErrCache              = &EmbeddingError{Type: "cache_error", Stage: StageCache, Message: "cache operation failed", Code: 1004}
	ErrStore              = &EmbeddingError{Type: "store_error", Stage: StageStore, Message: "vector store operation failed", Code: 1005}
	ErrShapeMismatch      = &EmbeddingError{Type: "shape_mismatch", Stage: StageTensor, Message: "tensor shape mismatch", Code: 1006}
	ErrDimensionMismatch  = &EmbeddingError{Type: "dimension_mismatch", Stage: StageScoring, Message: "vector dimension mismatch", Code: 1007}
	ErrTokenization       = &EmbeddingError{Type: "tokenization_failed", Stage: StageTokenize, Message: "tokenization failed", Code: 1008}
	ErrPoolingShape       = &EmbeddingError{Type: "pooling_shape_mismatch", Stage: StagePooling, Message: "model output does not match batch shape", Code: 1009}
	ErrEngineNotAvailable = &EmbeddingError{Type: "engine_not_available", Stage: StageLoad, Message: "inference engine not available in this build", Code: 1010}
)

// StageOf returns the stage of the first EmbeddingError in err's chain.
func StageOf(err error) (Stage, bool) {
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return ee.Stage, true
	}
	return "", false
}

// KindOf returns the Type of the first EmbeddingError in err's chain, or "" if none.
func KindOf(err error) string {
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return ee.Type
	}
	return ""
}
