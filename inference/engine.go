// Package inference - Segmentation sessions: engine contract, results, timing and labels.
package inference

import (
	"context"

	"github.com/nvr-ai/go-seg/models/model"
)

// Outputs are the two raw buffers one engine run produces.
type Outputs struct {
	// Detections is the batched detection buffer, model.Layout.DetectionStride()
	// floats per image.
	Detections []float32
	// Prototypes is the batched prototype buffer, model.Layout.PrototypeSize()
	// floats per image.
	Prototypes []float32
}

// Engine defines the contract of the model runtime.
//
// Run must not return before both output buffers are completely written. The
// returned slices may alias engine memory that the next Run overwrites; callers copy
// what they keep.
type Engine interface {
	// Run executes the model on a preprocessed input of Layout().InputShape().
	Run(ctx context.Context, input []float32) (Outputs, error)
	// Layout describes the input and output tensors.
	Layout() model.Layout
	// Close releases the runtime resources. It is safe to call more than once.
	Close() error
}

// EngineInfo reports the buffer sizes of a session, in floats.
type EngineInfo struct {
	// Layout is the engine's tensor layout.
	Layout model.Layout `json:"layout"`
	// InputSize is the size of the whole input tensor.
	InputSize int `json:"input_size"`
	// DetectionsSize is the size of the whole detection output.
	DetectionsSize int `json:"detections_size"`
	// PrototypesSize is the size of the whole prototype output.
	PrototypesSize int `json:"prototypes_size"`
}

// NewEngineInfo derives buffer sizes from a layout.
func NewEngineInfo(layout model.Layout) EngineInfo {
	return EngineInfo{
		Layout:         layout,
		InputSize:      layout.Batch * layout.ImageInputSize(),
		DetectionsSize: layout.Batch * layout.DetectionStride(),
		PrototypesSize: layout.Batch * layout.PrototypeSize(),
	}
}
