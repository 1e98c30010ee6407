// Package postprocess - Postprocessing of raw segmentation model output.
package postprocess

import "github.com/nvr-ai/go-seg/images"

const (
	// MaskCoefficients is the number of prototype channels each detection weights.
	MaskCoefficients = 32
	// Stride is the number of floats in one detection record:
	// [x, y, w, h, confidence, class_id, coeff_0..coeff_31].
	Stride = 4 + 1 + 1 + MaskCoefficients
	// DefaultMaxDetections caps the count read from a detection buffer.
	DefaultMaxDetections = 1000

	offsetConfidence   = 4
	offsetClass        = 5
	offsetCoefficients = 6
)

// Detection represents a single parsed detection in model input space.
type Detection struct {
	// The bounding box, top-left corner plus size.
	Box images.Box
	// The confidence score of the detection.
	Confidence float32
	// The predicted class index of the detection.
	ClassID int
	// Coefficients weight the prototype channels for this detection's mask.
	Coefficients [MaskCoefficients]float32
}

// BufferSize returns the number of floats a detection buffer for maxDetections
// records occupies, including the leading count.
func BufferSize(maxDetections int) int {
	return 1 + maxDetections*Stride
}
