//go:build onnx
// +build onnx

package engine

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/raaihank/sentinel-embed/internal/tensor"
)

var ortRuntime = &runtimeRefs{
	isInitialized: ort.IsInitialized,
	initialize:    func() error { return ort.InitializeEnvironment() },
	destroy:       ort.DestroyEnvironment,
}

func acquireRuntime(sharedLibraryPath string) error {
	return ortRuntime.acquire(func() {
		switch {
		case sharedLibraryPath != "":
			ort.SetSharedLibraryPath(sharedLibraryPath)
		case os.Getenv("ONNXRUNTIME_SHARED_LIB") != "":
			ort.SetSharedLibraryPath(os.Getenv("ONNXRUNTIME_SHARED_LIB"))
		case os.Getenv("ORT_SHLIB") != "":
			ort.SetSharedLibraryPath(os.Getenv("ORT_SHLIB"))
		}
	})
}

func releaseRuntime() {
	ortRuntime.release()
}

func inspectModel(path string) (*Signature, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, err
	}

	sig := &Signature{
		Inputs:  make([]IOInfo, 0, len(inputs)),
		Outputs: make([]IOInfo, 0, len(outputs)),
	}
	for _, in := range inputs {
		sig.Inputs = append(sig.Inputs, IOInfo{
			Name: in.Name,
			Dims: []int64(in.Dimensions),
		})
	}
	for _, out := range outputs {
		sig.Outputs = append(sig.Outputs, IOInfo{
			Name:  out.Name,
			Dims:  []int64(out.Dimensions),
			Float: out.DataType == ort.TensorElementDataTypeFloat,
		})
	}
	return sig, nil
}

func openSession(opts Options, p plan) (backend, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer so.Destroy()

	if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
		return nil, fmt.Errorf("intra-op threads: %w", err)
	}
	if err := so.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
		return nil, fmt.Errorf("inter-op threads: %w", err)
	}
	level, _ := parseOptimizationLevel(opts.OptimizationLevel)
	if err := so.SetGraphOptimizationLevel(ortLevel(level)); err != nil {
		return nil, fmt.Errorf("optimization level: %w", err)
	}

	sess, err := ort.NewDynamicAdvancedSession(opts.ModelPath, p.inputNames[:], []string{p.outputName}, so)
	if err != nil {
		return nil, err
	}
	return &ortBackend{session: sess}, nil
}

func ortLevel(level int) ort.GraphOptimizationLevel {
	switch level {
	case 0:
		return ort.GraphOptimizationLevelDisableAll
	case 2:
		return ort.GraphOptimizationLevelEnableExtended
	case 99:
		return ort.GraphOptimizationLevelEnableAll
	default:
		return ort.GraphOptimizationLevelEnableBasic
	}
}

type ortBackend struct {
	session *ort.DynamicAdvancedSession
}

func (b *ortBackend) run(ids, mask, types *tensor.Int64Tensor) (*RawOutput, error) {
	shape := ort.NewShape(int64(ids.Rows), int64(ids.Cols))

	idsTensor, err := ort.NewTensor[int64](shape, ids.Data)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, mask.Data)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor[int64](shape, types.Data)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	// Session input names were bound in ids, mask, types order.
	inputs := []ort.Value{idsTensor, maskTensor, typeTensor}
	outputs := make([]ort.Value, 1)
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}

	// Runtime-owned memory does not outlive Destroy.
	data := outTensor.GetData()
	out := &RawOutput{
		Shape: append([]int64(nil), outTensor.GetShape()...),
		Data:  make([]float32, len(data)),
	}
	copy(out.Data, data)
	return out, nil
}

func (b *ortBackend) close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}
