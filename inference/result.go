package inference

import (
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/models/postprocess"
)

// DetectionResult is one detection of a ResultSet.
type DetectionResult struct {
	// Box is the detection box in model input space.
	Box images.Box `json:"box"`
	// Confidence is the detection score.
	Confidence float32 `json:"confidence"`
	// ClassID is the predicted class.
	ClassID int `json:"class_id"`
	// Label is the class name, UnknownLabel if the label map has none.
	Label string `json:"label"`
	// Mask is the probability mask at prototype grid resolution. nil when masks were
	// skipped.
	Mask *images.Mask `json:"-"`
}

// ResultSet is the outcome of one inference call. The caller owns it and must call
// Release when done.
type ResultSet struct {
	// ID identifies the call in logs.
	ID uuid.UUID `json:"id"`
	// Detections in NMS output order. nil when there are none.
	Detections []DetectionResult `json:"detections"`
	// Count equals len(Detections).
	Count int `json:"count"`
	// Timing is the latency breakdown.
	Timing Timing `json:"timing"`
	// Letterbox maps model space back to the original image.
	Letterbox images.Letterbox `json:"letterbox"`
}

// Rect returns detection i's box in original image pixels. It is empty when i is
// out of range, including on a released result.
func (r *ResultSet) Rect(i int) image.Rectangle {
	if r == nil || i < 0 || i >= len(r.Detections) {
		return image.Rectangle{}
	}
	return r.Letterbox.UnletterboxRect(r.Detections[i].Box)
}

// ImageMask returns detection i's mask resized to the original image. The caller
// releases the returned mask.
//
// Arguments:
//   - i: The detection index.
//
// Returns:
//   - *images.Mask: The mask in original image space, nil if the detection has none.
//   - error: ErrInvalidArgument if i is out of range, or the letterbox or mask is invalid.
func (r *ResultSet) ImageMask(i int) (*images.Mask, error) {
	if r == nil || i < 0 || i >= len(r.Detections) {
		return nil, invalidArgument("detection %d out of range", i)
	}
	m := r.Detections[i].Mask
	if m == nil {
		return nil, nil
	}
	return r.Letterbox.UnletterboxMask(m)
}

// Release returns every mask buffer, drops the detections and resets Count. It is
// safe to call on a nil, zero or already released ResultSet.
func (r *ResultSet) Release() {
	if r == nil {
		return
	}
	for i := range r.Detections {
		r.Detections[i].Mask.Release()
		r.Detections[i].Mask = nil
	}
	r.Detections = nil
	r.Count = 0
}

// releaseMask frees a mask cloned by Build.
var releaseMask = (*images.Mask).Release

// ResultBuilder assembles a ResultSet from NMS survivors and decoded masks. Build
// either returns a complete result or releases everything it allocated.
type ResultBuilder struct {
	labels     LabelMap
	letterbox  images.Letterbox
	detections []postprocess.Detection
	masks      []*images.Mask
	timing     Timing
	err        error
}

// NewResultBuilder creates a builder for one image.
func NewResultBuilder(labels LabelMap, letterbox images.Letterbox) *ResultBuilder {
	return &ResultBuilder{labels: labels, letterbox: letterbox}
}

// WithDetections sets the detections and, optionally, one mask per detection. The
// masks are copied by Build; the caller keeps ownership of the ones passed in.
func (b *ResultBuilder) WithDetections(
	detections []postprocess.Detection,
	masks []*images.Mask,
) *ResultBuilder {
	if b.HasError() {
		return b
	}
	if masks != nil && len(masks) != len(detections) {
		b.err = invalidArgument("%d masks for %d detections", len(masks), len(detections))
		return b
	}
	b.detections = detections
	b.masks = masks
	return b
}

// WithTiming sets the timing breakdown.
func (b *ResultBuilder) WithTiming(timing Timing) *ResultBuilder {
	b.timing = timing
	return b
}

// HasError checks if the builder has errors.
func (b *ResultBuilder) HasError() bool {
	return b.err != nil
}

// Build allocates and populates the ResultSet.
//
// Returns:
//   - *ResultSet: The result, owned by the caller.
//   - error: If any mask could not be copied; nothing allocated survives the error.
func (b *ResultBuilder) Build() (*ResultSet, error) {
	if b.HasError() {
		return nil, b.err
	}

	result := &ResultSet{
		ID:        uuid.New(),
		Timing:    b.timing,
		Letterbox: b.letterbox,
	}
	if len(b.detections) == 0 {
		return result, nil
	}

	out := make([]DetectionResult, len(b.detections))
	for i, d := range b.detections {
		out[i] = DetectionResult{
			Box:        d.Box,
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
			Label:      b.labels.Name(d.ClassID),
		}
		if b.masks == nil {
			continue
		}

		m, err := b.masks[i].Clone()
		if err != nil {
			for j := 0; j < i; j++ {
				releaseMask(out[j].Mask)
			}
			return nil, categorize(ErrInternal, err, fmt.Sprintf("copy mask %d", i))
		}
		out[i].Mask = m
	}

	result.Detections = out
	result.Count = len(out)
	return result, nil
}
