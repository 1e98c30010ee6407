package images

import (
	"image"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// ErrInvalidDimensions is returned when a width or height is zero or negative.
var ErrInvalidDimensions = errors.New("dimensions must be positive")

// Letterbox describes an aspect-ratio preserving resize-and-pad from a source image
// into a fixed model input. It carries everything needed to invert the transform.
type Letterbox struct {
	// ModelWidth is the width of the model input.
	ModelWidth int `json:"model_width" yaml:"model_width"`
	// ModelHeight is the height of the model input.
	ModelHeight int `json:"model_height" yaml:"model_height"`
	// SourceWidth is the width of the original image.
	SourceWidth int `json:"source_width" yaml:"source_width"`
	// SourceHeight is the height of the original image.
	SourceHeight int `json:"source_height" yaml:"source_height"`
}

// NewLetterbox validates the dimensions and returns the transform between them.
//
// Arguments:
//   - modelW, modelH: The model input size.
//   - srcW, srcH: The original image size.
//
// Returns:
//   - Letterbox: The transform.
//   - error: ErrInvalidDimensions if any dimension is zero or negative.
func NewLetterbox(modelW, modelH, srcW, srcH int) (Letterbox, error) {
	if modelW <= 0 || modelH <= 0 || srcW <= 0 || srcH <= 0 {
		return Letterbox{}, errors.Wrapf(
			ErrInvalidDimensions,
			"model %dx%d, source %dx%d", modelW, modelH, srcW, srcH,
		)
	}
	return Letterbox{
		ModelWidth:   modelW,
		ModelHeight:  modelH,
		SourceWidth:  srcW,
		SourceHeight: srcH,
	}, nil
}

// Valid reports whether all four dimensions are positive.
func (l Letterbox) Valid() bool {
	return l.ModelWidth > 0 && l.ModelHeight > 0 && l.SourceWidth > 0 && l.SourceHeight > 0
}

func (l Letterbox) ratios() (rw, rh float32) {
	rw = float32(l.ModelWidth) / float32(l.SourceWidth)
	rh = float32(l.ModelHeight) / float32(l.SourceHeight)
	return rw, rh
}

// Scale returns the uniform factor applied to the source image.
func (l Letterbox) Scale() float32 {
	rw, rh := l.ratios()
	if rh > rw {
		return rw
	}
	return rh
}

// Pad returns the horizontal and vertical padding in model pixels. At most one of
// them is non-zero.
func (l Letterbox) Pad() (padX, padY float32) {
	rw, rh := l.ratios()
	if rh > rw {
		return 0, (float32(l.ModelHeight) - rw*float32(l.SourceHeight)) / 2
	}
	return (float32(l.ModelWidth) - rh*float32(l.SourceWidth)) / 2, 0
}

// UnletterboxRect maps a box from model input space to the original image.
//
// The pad offset is removed from the padded axis, both axes are divided by the
// uniform scale, left/top are clamped to 0 and width/height are clamped so the
// rectangle never leaves the original image.
//
// Arguments:
//   - b: The box in model input space.
//
// Returns:
//   - image.Rectangle: The box in original image pixels. Empty for degenerate input.
func (l Letterbox) UnletterboxRect(b Box) image.Rectangle {
	if !l.Valid() {
		return image.Rectangle{}
	}

	left, right := b.X, b.X+b.W
	top, bottom := b.Y, b.Y+b.H

	padX, padY := l.Pad()
	scale := l.Scale()
	left = (left - padX) / scale
	right = (right - padX) / scale
	top = (top - padY) / scale
	bottom = (bottom - padY) / scale

	left = math32.Max(0, left)
	top = math32.Max(0, top)

	x := roundInt(left)
	y := roundInt(top)
	w := max(0, min(roundInt(right-left), l.SourceWidth-x))
	h := max(0, min(roundInt(bottom-top), l.SourceHeight-y))

	return image.Rect(x, y, x+w, y+h)
}

// UnletterboxRect maps a box from a modelW x modelH letterboxed input back to an
// srcW x srcH original image.
//
// Arguments:
//   - b: The box in model input space.
//   - modelW, modelH: The model input size.
//   - srcW, srcH: The original image size.
//
// Returns:
//   - image.Rectangle: The box in original image pixels.
//   - error: ErrInvalidDimensions if any dimension is zero or negative.
func UnletterboxRect(b Box, modelW, modelH, srcW, srcH int) (image.Rectangle, error) {
	l, err := NewLetterbox(modelW, modelH, srcW, srcH)
	if err != nil {
		return image.Rectangle{}, err
	}
	return l.UnletterboxRect(b), nil
}

// ContentRect returns the region of the model input that holds image content, i.e.
// the model input minus the padding.
func (l Letterbox) ContentRect() image.Rectangle {
	if !l.Valid() {
		return image.Rectangle{}
	}

	rw, rh := l.ratios()
	if rh > rw {
		h := roundInt(rw * float32(l.SourceHeight))
		y := (l.ModelHeight - h) / 2
		return image.Rect(0, y, l.ModelWidth, y+h)
	}
	w := roundInt(rh * float32(l.SourceWidth))
	x := (l.ModelWidth - w) / 2
	return image.Rect(x, 0, x+w, l.ModelHeight)
}

// UnletterboxMask maps a mask from model space into the original image. The mask may
// be at any resolution proportional to the model input (typically the prototype grid);
// it is upsampled to the model input with OpenCV, cropped to ContentRect and then
// resized to the original image size.
//
// Arguments:
//   - m: The mask in model space.
//
// Returns:
//   - *Mask: A new SourceWidth x SourceHeight mask. The caller owns it.
//   - error: If the transform or the mask is invalid.
func (l Letterbox) UnletterboxMask(m *Mask) (*Mask, error) {
	if !l.Valid() {
		return nil, errors.Wrap(ErrInvalidDimensions, "letterbox")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return l.remapMask(m)
}

// roundLimit bounds float to int conversions so infinities stay well defined.
const roundLimit = 1 << 30

func roundInt(v float32) int {
	switch {
	case math32.IsNaN(v):
		return 0
	case v > roundLimit:
		return roundLimit
	case v < -roundLimit:
		return -roundLimit
	}
	return int(math32.Round(v))
}
