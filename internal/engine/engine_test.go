package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/embederr"
	"github.com/raaihank/sentinel-embed/internal/tensor"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	closed  bool
	hidden  int
	pooled  bool
	failRun error
	short   bool
}

func (f *fakeBackend) run(ids, mask, types *tensor.Int64Tensor) (*RawOutput, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.failRun != nil {
		return nil, f.failRun
	}
	shape := []int64{int64(ids.Rows), int64(ids.Cols), int64(f.hidden)}
	if f.pooled {
		shape = []int64{int64(ids.Rows), int64(f.hidden)}
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	if f.short {
		n--
	}
	return &RawOutput{Shape: shape, Data: make([]float32, n)}, nil
}

func (f *fakeBackend) close() error {
	f.closed = true
	return nil
}

func inputs(rows, cols int) (*tensor.Int64Tensor, *tensor.Int64Tensor, *tensor.Int64Tensor) {
	return tensor.FromFlat(rows, cols, make([]int64, rows*cols)),
		tensor.FromFlat(rows, cols, make([]int64, rows*cols)),
		tensor.FromFlat(rows, cols, make([]int64, rows*cols))
}

func TestLoadMissingModel(t *testing.T) {
	e, err := Load(Options{ModelPath: filepath.Join(t.TempDir(), "absent.onnx")}, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, embederr.ErrModelLoad)

	stage, ok := embederr.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, embederr.StageLoad, stage)
}

func TestLoadRejectsDirectoryAndBadLevel(t *testing.T) {
	dir := t.TempDir()

	e, err := Load(Options{ModelPath: dir}, nil)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, embederr.ErrModelLoad)

	model := filepath.Join(dir, "model.onnx")
	require.NoError(t, os.WriteFile(model, []byte("not a graph"), 0o600))
	e, err = Load(Options{ModelPath: model, OptimizationLevel: "turbo"}, nil)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, embederr.ErrModelLoad)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultModelPath, o.ModelPath)
	assert.Equal(t, 1, o.IntraOpThreads)
	assert.Equal(t, 1, o.InterOpThreads)
	assert.Equal(t, "basic", o.OptimizationLevel)
}

func TestResolvePlan(t *testing.T) {
	hidden := IOInfo{Name: "last_hidden_state", Dims: []int64{-1, -1, 384}, Float: true}
	pooled := IOInfo{Name: "sentence_embedding", Dims: []int64{-1, 384}, Float: true}

	tests := []struct {
		name      string
		sig       *Signature
		wantNames [3]string
		wantKind  OutputKind
		wantErr   bool
	}{
		{
			name: "standard names",
			sig: &Signature{
				Inputs:  []IOInfo{{Name: "input_ids"}, {Name: "attention_mask"}, {Name: "token_type_ids"}},
				Outputs: []IOInfo{hidden},
			},
			wantNames: [3]string{"input_ids", "attention_mask", "token_type_ids"},
			wantKind:  OutputTokenHidden,
		},
		{
			name: "declared out of order",
			sig: &Signature{
				Inputs:  []IOInfo{{Name: "token_type_ids"}, {Name: "input_ids"}, {Name: "attention_mask"}},
				Outputs: []IOInfo{pooled},
			},
			wantNames: [3]string{"input_ids", "attention_mask", "token_type_ids"},
			wantKind:  OutputPooled,
		},
		{
			name: "positional fallback",
			sig: &Signature{
				Inputs:  []IOInfo{{Name: "a"}, {Name: "b"}, {Name: "c"}},
				Outputs: []IOInfo{hidden},
			},
			wantNames: [3]string{"a", "b", "c"},
			wantKind:  OutputTokenHidden,
		},
		{
			name: "partial fallback",
			sig: &Signature{
				Inputs:  []IOInfo{{Name: "x"}, {Name: "attention_mask"}, {Name: "y"}},
				Outputs: []IOInfo{hidden},
			},
			wantNames: [3]string{"x", "attention_mask", "y"},
			wantKind:  OutputTokenHidden,
		},
		{
			name:    "two inputs",
			sig:     &Signature{Inputs: []IOInfo{{Name: "input_ids"}, {Name: "attention_mask"}}, Outputs: []IOInfo{hidden}},
			wantErr: true,
		},
		{
			name: "duplicate role",
			sig: &Signature{
				Inputs:  []IOInfo{{Name: "input_ids"}, {Name: "attention_mask"}, {Name: "mask2"}},
				Outputs: []IOInfo{hidden},
			},
			wantErr: true,
		},
		{
			name: "rank 4 output",
			sig: &Signature{
				Inputs:  []IOInfo{{Name: "input_ids"}, {Name: "attention_mask"}, {Name: "token_type_ids"}},
				Outputs: []IOInfo{{Name: "o", Dims: []int64{1, 2, 3, 4}, Float: true}},
			},
			wantErr: true,
		},
		{
			name: "integer output",
			sig: &Signature{
				Inputs:  []IOInfo{{Name: "input_ids"}, {Name: "attention_mask"}, {Name: "token_type_ids"}},
				Outputs: []IOInfo{{Name: "o", Dims: []int64{1, 2}}},
			},
			wantErr: true,
		},
		{
			name:    "no outputs",
			sig:     &Signature{Inputs: []IOInfo{{Name: "input_ids"}, {Name: "attention_mask"}, {Name: "token_type_ids"}}},
			wantErr: true,
		},
		{name: "nil", sig: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := resolvePlan(tt.sig)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNames, p.inputNames)
			assert.Equal(t, tt.wantKind, p.kind)
		})
	}
}

func TestRunValidatesOutput(t *testing.T) {
	tests := []struct {
		name    string
		kind    OutputKind
		backend *fakeBackend
		wantErr error
	}{
		{"token hidden", OutputTokenHidden, &fakeBackend{hidden: 4}, nil},
		{"pooled", OutputPooled, &fakeBackend{hidden: 4, pooled: true}, nil},
		{"rank disagrees with kind", OutputPooled, &fakeBackend{hidden: 4}, embederr.ErrInference},
		{"short data", OutputTokenHidden, &fakeBackend{hidden: 4, short: true}, embederr.ErrInference},
		{"backend failure", OutputTokenHidden, &fakeBackend{failRun: errors.New("boom")}, embederr.ErrInference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(tt.backend, plan{kind: tt.kind}, "fake.onnx", zap.NewNop())
			ids, mask, types := inputs(2, 3)

			out, err := e.Run(ids, mask, types)
			if tt.wantErr != nil {
				assert.Nil(t, out)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(2), out.Shape[0])
		})
	}
}

func TestRunRejectsMismatchedInputs(t *testing.T) {
	e := newEngine(&fakeBackend{hidden: 2}, plan{kind: OutputTokenHidden}, "fake.onnx", zap.NewNop())
	ids, mask, _ := inputs(2, 3)
	types := tensor.FromFlat(2, 4, make([]int64, 8))

	_, err := e.Run(ids, mask, types)
	assert.ErrorIs(t, err, embederr.ErrShapeMismatch)

	_, err = e.Run(nil, mask, types)
	assert.ErrorIs(t, err, embederr.ErrInference)
}

func TestCloseLifecycle(t *testing.T) {
	b := &fakeBackend{hidden: 2}
	e := newEngine(b, plan{kind: OutputTokenHidden}, "fake.onnx", zap.NewNop())
	assert.True(t, e.IsReady())

	require.NoError(t, e.Close())
	assert.True(t, b.closed)
	assert.False(t, e.IsReady())
	require.NoError(t, e.Close(), "second close is a no-op")

	ids, mask, types := inputs(1, 2)
	_, err := e.Run(ids, mask, types)
	assert.ErrorIs(t, err, embederr.ErrInference)
}

func TestRunSerializesCalls(t *testing.T) {
	b := &fakeBackend{hidden: 2}
	e := newEngine(b, plan{kind: OutputTokenHidden}, "fake.onnx", zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, mask, types := inputs(1, 3)
			_, err := e.Run(ids, mask, types)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, b.calls)
}

func TestClassifyInput(t *testing.T) {
	assert.Equal(t, roleIDs, classifyInput("input_ids"))
	assert.Equal(t, roleMask, classifyInput("Attention_Mask"))
	assert.Equal(t, roleTypes, classifyInput("token_type_ids"))
	assert.Equal(t, roleTypes, classifyInput("segment_ids"))
	assert.Equal(t, roleUnknown, classifyInput("pixels"))
}
