// Package engine owns a compiled transformer graph and executes it against
// the three standard BERT-style inputs (input ids, attention mask, token type ids).
//
// The ONNX Runtime implementation is compiled in with the 'onnx' build tag;
// default builds keep the package free of cgo and report that no engine is
// available at load time.
package engine

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/embederr"
	"github.com/raaihank/sentinel-embed/internal/tensor"
)

// DefaultModelPath is used when Options.ModelPath is empty.
const DefaultModelPath = "./model.onnx"

// OutputKind tags the layout of the model's first output, resolved once at load.
type OutputKind int

const (
	// OutputTokenHidden is a [batch, seq, hidden] per-token tensor that still needs pooling
	OutputTokenHidden OutputKind = iota + 1
	// OutputPooled is a [batch, hidden] tensor already pooled by the graph
	OutputPooled
)

func (k OutputKind) String() string {
	switch k {
	case OutputTokenHidden:
		return "token_hidden"
	case OutputPooled:
		return "pooled"
	default:
		return "unknown"
	}
}

// Options configures how a graph is loaded
type Options struct {
	ModelPath         string `yaml:"model_path" mapstructure:"model_path"`
	SharedLibraryPath string `yaml:"shared_library_path" mapstructure:"shared_library_path"`
	IntraOpThreads    int    `yaml:"intra_op_threads" mapstructure:"intra_op_threads"`
	InterOpThreads    int    `yaml:"inter_op_threads" mapstructure:"inter_op_threads"`
	OptimizationLevel string `yaml:"optimization_level" mapstructure:"optimization_level"` // disable, basic, extended, all
}

func (o Options) withDefaults() Options {
	if o.ModelPath == "" {
		o.ModelPath = DefaultModelPath
	}
	if o.IntraOpThreads <= 0 {
		o.IntraOpThreads = 1
	}
	if o.InterOpThreads <= 0 {
		o.InterOpThreads = 1
	}
	if o.OptimizationLevel == "" {
		o.OptimizationLevel = "basic"
	}
	return o
}

// RawOutput is the first graph output copied out of the runtime
type RawOutput struct {
	Shape []int64
	Data  []float32
}

// IOInfo describes one declared graph input or output
type IOInfo struct {
	Name  string
	Dims  []int64
	Float bool
}

// Signature is the declared input/output list of a graph
type Signature struct {
	Inputs  []IOInfo
	Outputs []IOInfo
}

// plan is a Signature resolved against the three-input contract
type plan struct {
	inputNames [3]string // ids, mask, types
	outputName string
	kind       OutputKind
}

// backend is the build-specific session
type backend interface {
	run(ids, mask, types *tensor.Int64Tensor) (*RawOutput, error)
	close() error
}

// Engine is a loaded graph. Run calls on one Engine are serialized.
type Engine struct {
	mu       sync.Mutex
	backend  backend
	plan     plan
	path     string
	logger   *zap.Logger
	loadTime time.Duration
	closed   bool
}

// Load reads the graph at opts.ModelPath, checks it against the three-input
// contract, and resolves the output kind. On error no handle is returned and
// every acquired runtime resource is released.
func Load(opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	start := time.Now()

	info, err := os.Stat(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: model resource %s: %v", embederr.ErrModelLoad, opts.ModelPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: model resource %s is a directory", embederr.ErrModelLoad, opts.ModelPath)
	}
	if _, err := parseOptimizationLevel(opts.OptimizationLevel); err != nil {
		return nil, fmt.Errorf("%w: %v", embederr.ErrModelLoad, err)
	}

	if err := acquireRuntime(opts.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("%w: %w", embederr.ErrModelLoad, err)
	}

	sig, err := inspectModel(opts.ModelPath)
	if err != nil {
		releaseRuntime()
		return nil, fmt.Errorf("%w: failed to inspect %s: %v", embederr.ErrModelLoad, opts.ModelPath, err)
	}

	p, err := resolvePlan(sig)
	if err != nil {
		releaseRuntime()
		return nil, fmt.Errorf("%w: %s: %v", embederr.ErrModelLoad, opts.ModelPath, err)
	}

	b, err := openSession(opts, p)
	if err != nil {
		releaseRuntime()
		return nil, fmt.Errorf("%w: failed to create session for %s: %v", embederr.ErrModelLoad, opts.ModelPath, err)
	}

	e := newEngine(b, p, opts.ModelPath, logger)
	e.loadTime = time.Since(start)

	logger.Info("Inference engine ready",
		zap.String("model", opts.ModelPath),
		zap.Strings("inputs", p.inputNames[:]),
		zap.String("output", p.outputName),
		zap.Stringer("output_kind", p.kind),
		zap.Int("intra_op_threads", opts.IntraOpThreads),
		zap.String("optimization_level", opts.OptimizationLevel),
		zap.Duration("load_time", e.loadTime))

	return e, nil
}

func newEngine(b backend, p plan, path string, logger *zap.Logger) *Engine {
	return &Engine{
		backend: b,
		plan:    p,
		path:    path,
		logger:  logger,
	}
}

// OutputKind returns the output layout resolved at load time.
func (e *Engine) OutputKind() OutputKind {
	return e.plan.kind
}

// ModelPath returns the path the graph was loaded from.
func (e *Engine) ModelPath() string {
	return e.path
}

// LoadTime returns how long Load took.
func (e *Engine) LoadTime() time.Duration {
	return e.loadTime
}

// InputNames returns the graph input names in ids, mask, types order.
func (e *Engine) InputNames() []string {
	names := e.plan.inputNames
	return names[:]
}

// IsReady reports whether the engine can run.
func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && e.backend != nil
}

// Run executes the graph synchronously. All three tensors must share the
// same [N, L] shape. Failures wrap embederr.ErrInference.
func (e *Engine) Run(ids, mask, types *tensor.Int64Tensor) (*RawOutput, error) {
	if ids == nil || mask == nil || types == nil {
		return nil, fmt.Errorf("%w: nil input tensor", embederr.ErrInference)
	}
	if ids.Rows != mask.Rows || ids.Rows != types.Rows || ids.Cols != mask.Cols || ids.Cols != types.Cols {
		return nil, fmt.Errorf("%w: input tensors disagree on shape: ids=%v mask=%v types=%v",
			embederr.ErrShapeMismatch, ids.Shape(), mask.Shape(), types.Shape())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.backend == nil {
		return nil, fmt.Errorf("%w: engine is closed", embederr.ErrInference)
	}

	out, err := e.backend.run(ids, mask, types)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embederr.ErrInference, err)
	}
	if err := e.checkOutput(out, ids.Rows, ids.Cols); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) checkOutput(out *RawOutput, batch, seqLen int) error {
	if out == nil {
		return fmt.Errorf("%w: graph returned no output", embederr.ErrInference)
	}

	wantRank := 3
	if e.plan.kind == OutputPooled {
		wantRank = 2
	}
	if len(out.Shape) != wantRank {
		return fmt.Errorf("%w: output rank %d, want %d for %s output", embederr.ErrInference, len(out.Shape), wantRank, e.plan.kind)
	}
	if out.Shape[0] != int64(batch) {
		return fmt.Errorf("%w: output batch %d, want %d", embederr.ErrInference, out.Shape[0], batch)
	}
	if e.plan.kind == OutputTokenHidden && out.Shape[1] != int64(seqLen) {
		return fmt.Errorf("%w: output sequence length %d, want %d", embederr.ErrInference, out.Shape[1], seqLen)
	}

	elements := int64(1)
	for _, d := range out.Shape {
		elements *= d
	}
	if int64(len(out.Data)) != elements {
		return fmt.Errorf("%w: output has %d values for shape %v", embederr.ErrInference, len(out.Data), out.Shape)
	}
	return nil
}

// Close releases the session. Further Run calls fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var err error
	if e.backend != nil {
		err = e.backend.close()
		e.backend = nil
		releaseRuntime()
	}
	e.logger.Info("Inference engine closed", zap.String("model", e.path))
	return err
}

type inputRole int

const (
	roleIDs inputRole = iota
	roleMask
	roleTypes
	roleUnknown
)

// classifyInput maps a declared input name onto the three-input contract.
func classifyInput(rawName string) inputRole {
	name := strings.ToLower(rawName)
	switch {
	case name == "attention_mask" || strings.Contains(name, "attention") || strings.Contains(name, "mask"):
		return roleMask
	case name == "token_type_ids" || strings.Contains(name, "token_type") || strings.Contains(name, "segment"):
		return roleTypes
	case name == "input_ids" || name == "input" || strings.Contains(name, "input_ids") || strings.Contains(name, "ids"):
		return roleIDs
	default:
		return roleUnknown
	}
}

// resolvePlan checks a signature against the three-input contract and tags the output kind.
func resolvePlan(sig *Signature) (plan, error) {
	var p plan
	if sig == nil {
		return p, fmt.Errorf("empty signature")
	}
	if len(sig.Inputs) != 3 {
		return p, fmt.Errorf("graph declares %d inputs, want 3 (input ids, attention mask, token type ids)", len(sig.Inputs))
	}

	assigned := [3]bool{}
	var unknown []int
	for i, in := range sig.Inputs {
		role := classifyInput(in.Name)
		if role == roleUnknown {
			unknown = append(unknown, i)
			continue
		}
		if assigned[role] {
			return p, fmt.Errorf("graph input %q duplicates role of %q", in.Name, p.inputNames[role])
		}
		assigned[role] = true
		p.inputNames[role] = in.Name
	}
	// Unrecognised names take the remaining roles in declared order.
	for _, idx := range unknown {
		for role := roleIDs; role <= roleTypes; role++ {
			if !assigned[role] {
				assigned[role] = true
				p.inputNames[role] = sig.Inputs[idx].Name
				break
			}
		}
	}

	if len(sig.Outputs) == 0 {
		return p, fmt.Errorf("graph declares no outputs")
	}
	out := sig.Outputs[0]
	if !out.Float {
		return p, fmt.Errorf("output %q is not a float tensor", out.Name)
	}
	switch len(out.Dims) {
	case 3:
		p.kind = OutputTokenHidden
	case 2:
		p.kind = OutputPooled
	default:
		return p, fmt.Errorf("output %q has rank %d, want 2 or 3", out.Name, len(out.Dims))
	}
	p.outputName = out.Name
	return p, nil
}

func parseOptimizationLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "disable", "none":
		return 0, nil
	case "basic", "":
		return 1, nil
	case "extended":
		return 2, nil
	case "all":
		return 99, nil
	default:
		return 0, fmt.Errorf("unknown optimization level %q (want disable, basic, extended or all)", level)
	}
}
