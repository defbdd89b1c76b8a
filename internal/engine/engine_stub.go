//go:build !onnx
// +build !onnx

package engine

import (
	"github.com/raaihank/sentinel-embed/internal/embederr"
)

// Stub runtime used when the 'onnx' build tag is not set.

func acquireRuntime(string) error {
	return embederr.ErrEngineNotAvailable
}

func releaseRuntime() {}

func inspectModel(string) (*Signature, error) {
	return nil, embederr.ErrEngineNotAvailable
}

func openSession(Options, plan) (backend, error) {
	return nil, embederr.ErrEngineNotAvailable
}
