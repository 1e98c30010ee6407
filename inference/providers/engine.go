package providers

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/models/model"
)

// EngineConfig holds the arguments for creating an ONNX engine.
type EngineConfig struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string
	// SharedLibraryPath overrides GetSharedLibPath.
	SharedLibraryPath string
	// Layout describes the model's input and outputs.
	Layout model.Layout
	// Optimization tunes the runtime session.
	Optimization Optimization
}

// ONNXEngine runs a segmentation model through ONNX Runtime. It implements
// inference.Engine.
type ONNXEngine struct {
	mu       sync.Mutex
	closed   bool
	provider ExecutionProvider
	layout   model.Layout

	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	detections *ort.Tensor[float32]
	prototypes *ort.Tensor[float32]
}

var _ inference.Engine = (*ONNXEngine)(nil)

// NewONNXEngine creates a new ONNX Runtime engine.
//
// Order of operations:
//  1. Layout and model file checks, before any native call.
//  2. Environment setup: loads the shared library once per process.
//  3. Tensor allocation: fixed-shape buffers for the input and both outputs.
//  4. Session options and the execution provider.
//  5. Session creation, binding the preallocated tensors.
//
// Arguments:
//   - provider: The execution provider.
//   - config: The engine configuration.
//
// Returns:
//   - *ONNXEngine: The engine; the caller closes it.
//   - error: If any step fails. Nothing native survives a failure.
func NewONNXEngine(provider ExecutionProvider, config EngineConfig) (*ONNXEngine, error) {
	if provider == nil {
		return nil, errors.New("execution provider is nil")
	}
	if err := config.Layout.Validate(); err != nil {
		return nil, err
	}
	if err := config.Optimization.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model not found at %q", config.ModelPath)
	}

	if err := initEnvironment(config.SharedLibraryPath); err != nil {
		return nil, err
	}

	e := &ONNXEngine{provider: provider, layout: config.Layout}
	if err := e.allocate(); err != nil {
		e.destroyTensors()
		return nil, err
	}

	options, err := newSessionOptions(config.Optimization, provider)
	if err != nil {
		e.destroyTensors()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		config.ModelPath,
		[]string{config.Layout.InputName},
		[]string{config.Layout.DetectionsName, config.Layout.PrototypesName},
		[]ort.Value{e.input},
		[]ort.Value{e.detections, e.prototypes},
		options,
	)
	if err != nil {
		e.destroyTensors()
		return nil, errors.Wrap(err, "error creating ORT session")
	}
	e.session = session
	return e, nil
}

// initEnvironment loads the onnxruntime library unless a previous engine already did.
func initEnvironment(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		p, err := GetSharedLibPath()
		if err != nil {
			return err
		}
		libPath = p
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

func (e *ONNXEngine) allocate() error {
	var err error
	e.input, err = ort.NewEmptyTensor[float32](ort.NewShape(e.layout.InputShape()...))
	if err != nil {
		return errors.Wrap(err, "error creating input tensor")
	}
	e.detections, err = ort.NewEmptyTensor[float32](ort.NewShape(e.layout.DetectionsShape()...))
	if err != nil {
		return errors.Wrap(err, "error creating detections tensor")
	}
	e.prototypes, err = ort.NewEmptyTensor[float32](ort.NewShape(e.layout.PrototypesShape()...))
	if err != nil {
		return errors.Wrap(err, "error creating prototypes tensor")
	}
	return nil
}

func (e *ONNXEngine) destroyTensors() {
	for _, t := range []*ort.Tensor[float32]{e.input, e.detections, e.prototypes} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	e.input, e.detections, e.prototypes = nil, nil, nil
}

// Run copies input into the bound input tensor and runs the model. The returned
// slices alias the output tensors until the next Run or Close.
func (e *ONNXEngine) Run(ctx context.Context, input []float32) (inference.Outputs, error) {
	if err := ctx.Err(); err != nil {
		return inference.Outputs{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return inference.Outputs{}, errors.New("engine closed")
	}

	dst := e.input.GetData()
	if len(input) != len(dst) {
		return inference.Outputs{}, errors.Errorf("input has %d floats, want %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := e.session.Run(); err != nil {
		return inference.Outputs{}, errors.Wrap(err, "failed to run inference")
	}

	return inference.Outputs{
		Detections: e.detections.GetData(),
		Prototypes: e.prototypes.GetData(),
	}, nil
}

// Layout returns the model layout.
func (e *ONNXEngine) Layout() model.Layout {
	return e.layout
}

// Provider returns the execution provider the engine was created with.
func (e *ONNXEngine) Provider() ExecutionProvider {
	return e.provider
}

// Close releases the session and its tensors.
//
// Returns:
//   - error: An error if the session could not be destroyed.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var err error
	if e.session != nil {
		if derr := e.session.Destroy(); derr != nil {
			err = errors.Wrap(derr, "error destroying ORT session")
		}
		e.session = nil
	}
	e.destroyTensors()
	return err
}
