// Package model - Tensor layout of a YOLO-style instance segmentation model.
package model

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-seg/models/postprocess"
)

const (
	// DefaultInputName is the input tensor name exported by the model.
	DefaultInputName = "images"
	// DefaultDetectionsName is the detection buffer output tensor name.
	DefaultDetectionsName = "output0"
	// DefaultPrototypesName is the prototype mask output tensor name.
	DefaultPrototypesName = "output1"
	// PrototypeDownsample is the ratio between the model input and the prototype grid.
	PrototypeDownsample = 4
	// InputChannels is the number of color channels of the model input.
	InputChannels = 3
)

// Layout describes the input and the two outputs of the model for a fixed input size
// and batch.
type Layout struct {
	// InputWidth is the model input width in pixels.
	InputWidth int `json:"input_width" yaml:"input_width"`
	// InputHeight is the model input height in pixels.
	InputHeight int `json:"input_height" yaml:"input_height"`
	// Batch is the number of images per engine run.
	Batch int `json:"batch" yaml:"batch"`
	// MaxDetections is the record capacity of each image's detection buffer.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
	// InputName is the name of the input tensor.
	InputName string `json:"input_name" yaml:"input_name"`
	// DetectionsName is the name of the detection buffer output.
	DetectionsName string `json:"detections_name" yaml:"detections_name"`
	// PrototypesName is the name of the prototype mask output.
	PrototypesName string `json:"prototypes_name" yaml:"prototypes_name"`
}

// DefaultLayout returns the layout of a 640x640, batch 1 export.
func DefaultLayout() Layout {
	return Layout{
		InputWidth:     640,
		InputHeight:    640,
		Batch:          1,
		MaxDetections:  postprocess.DefaultMaxDetections,
		InputName:      DefaultInputName,
		DetectionsName: DefaultDetectionsName,
		PrototypesName: DefaultPrototypesName,
	}
}

// Validate checks the layout for values no engine could serve.
func (l Layout) Validate() error {
	var problems []string
	if l.InputWidth <= 0 || l.InputHeight <= 0 {
		problems = append(problems, fmt.Sprintf("input size %dx%d", l.InputWidth, l.InputHeight))
	}
	if l.InputWidth%PrototypeDownsample != 0 || l.InputHeight%PrototypeDownsample != 0 {
		problems = append(problems, fmt.Sprintf(
			"input size %dx%d not divisible by %d", l.InputWidth, l.InputHeight, PrototypeDownsample,
		))
	}
	if l.Batch <= 0 {
		problems = append(problems, fmt.Sprintf("batch %d", l.Batch))
	}
	if l.MaxDetections <= 0 {
		problems = append(problems, fmt.Sprintf("max detections %d", l.MaxDetections))
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid model layout: %v", problems)
	}
	return nil
}

// PrototypeWidth returns the prototype grid width.
func (l Layout) PrototypeWidth() int { return l.InputWidth / PrototypeDownsample }

// PrototypeHeight returns the prototype grid height.
func (l Layout) PrototypeHeight() int { return l.InputHeight / PrototypeDownsample }

// ImageInputSize returns the floats of one image in the input tensor.
func (l Layout) ImageInputSize() int {
	return InputChannels * l.InputWidth * l.InputHeight
}

// DetectionStride returns the floats of one image in the detection output.
func (l Layout) DetectionStride() int {
	return postprocess.BufferSize(l.MaxDetections)
}

// PrototypeSize returns the floats of one image in the prototype output.
func (l Layout) PrototypeSize() int {
	return postprocess.MaskCoefficients * l.PrototypeWidth() * l.PrototypeHeight()
}

// InputShape returns [batch, channels, height, width].
func (l Layout) InputShape() []int64 {
	return []int64{int64(l.Batch), InputChannels, int64(l.InputHeight), int64(l.InputWidth)}
}

// DetectionsShape returns [batch, 1 + max_detections*stride].
func (l Layout) DetectionsShape() []int64 {
	return []int64{int64(l.Batch), int64(l.DetectionStride())}
}

// PrototypesShape returns [batch, 32, height/4, width/4].
func (l Layout) PrototypesShape() []int64 {
	return []int64{
		int64(l.Batch),
		postprocess.MaskCoefficients,
		int64(l.PrototypeHeight()),
		int64(l.PrototypeWidth()),
	}
}
