package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-seg/images"
)

// ErrInvalidPrototype is returned when a prototype buffer does not match its shape.
var ErrInvalidPrototype = errors.New("invalid prototype tensor")

// Prototype is a read-only view of the shared prototype mask tensor of one image.
// The channels are held as a [channels, height*width] matrix, one flattened plane
// per row.
type Prototype struct {
	planes *tensor.Dense
	height int
	width  int
}

// NewPrototype wraps a prototype buffer without copying it.
//
// Arguments:
//   - data: The buffer, laid out as data[c*height*width + y*width + x].
//   - channels: Must equal MaskCoefficients.
//   - height, width: The prototype grid size.
//
// Returns:
//   - *Prototype: The view.
//   - error: ErrInvalidPrototype if the shape or buffer length is wrong.
func NewPrototype(data []float32, channels, height, width int) (*Prototype, error) {
	if channels != MaskCoefficients {
		return nil, errors.Wrapf(
			ErrInvalidPrototype,
			"%d channels, detections carry %d coefficients", channels, MaskCoefficients,
		)
	}
	if height <= 0 || width <= 0 {
		return nil, errors.Wrapf(ErrInvalidPrototype, "grid %dx%d", width, height)
	}
	if len(data) != channels*height*width {
		return nil, errors.Wrapf(
			ErrInvalidPrototype,
			"buffer holds %d floats, shape needs %d", len(data), channels*height*width,
		)
	}

	planes := tensor.New(tensor.WithShape(channels, height*width), tensor.WithBacking(data))
	return &Prototype{planes: planes, height: height, width: width}, nil
}

// Shape returns the channel count and grid size.
func (p *Prototype) Shape() (channels, height, width int) {
	return p.planes.Shape()[0], p.height, p.width
}

// logits multiplies the [n, channels] coefficient matrix of the detections with the
// prototype planes and returns the [n, height*width] result, row-major.
func (p *Prototype) logits(detections []Detection) ([]float32, error) {
	coeffs := make([]float32, 0, len(detections)*MaskCoefficients)
	for i := range detections {
		coeffs = append(coeffs, detections[i].Coefficients[:]...)
	}
	weights := tensor.New(
		tensor.WithShape(len(detections), MaskCoefficients),
		tensor.WithBacking(coeffs),
	)

	product, err := weights.MatMul(p.planes)
	if err != nil {
		return nil, errors.Wrap(err, "coefficients x prototypes")
	}
	out, ok := product.Data().([]float32)
	if !ok || len(out) != len(detections)*p.height*p.width {
		return nil, errors.Wrapf(ErrInvalidPrototype, "product has shape %v", product.Shape())
	}
	return out, nil
}

// DecodeMasks reconstructs the probability mask of each detection at prototype grid
// resolution.
//
// The logits of all detections come from one coefficients x prototypes matrix
// product. The detection box is clamped to the model input, scaled down to the grid
// and clamped to the grid bounds. Inside that region every pixel is
// sigmoid(sum_j coeff[j] * proto[j][y][x]); pixels outside it stay 0.
//
// Arguments:
//   - proto: The prototype tensor of the image the detections belong to.
//   - detections: Detections in model input space.
//   - modelW, modelH: The model input size the boxes are expressed in.
//
// Returns:
//   - []*images.Mask: One mask per detection, same order. The caller releases them.
//   - error: If proto is nil, the model size is not positive or the product fails.
func DecodeMasks(
	proto *Prototype,
	detections []Detection,
	modelW, modelH int,
) ([]*images.Mask, error) {
	if proto == nil {
		return nil, errors.Wrap(ErrInvalidPrototype, "prototype is nil")
	}
	if modelW <= 0 || modelH <= 0 {
		return nil, errors.Wrapf(images.ErrInvalidDimensions, "model %dx%d", modelW, modelH)
	}
	if len(detections) == 0 {
		return nil, nil
	}

	_, gridH, gridW := proto.Shape()
	scaleX := float32(gridW) / float32(modelW)
	scaleY := float32(gridH) / float32(modelH)
	plane := gridW * gridH

	logits, err := proto.logits(detections)
	if err != nil {
		return nil, err
	}

	masks := make([]*images.Mask, len(detections))
	for i := range detections {
		m := images.NewMask(gridW, gridH)
		masks[i] = m
		row := logits[i*plane : (i+1)*plane]

		x0, y0, x1, y1 := gridRegion(detections[i].Box, modelW, modelH, scaleX, scaleY, gridW, gridH)
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				idx := y*gridW + x
				m.Data[idx] = sigmoid(row[idx])
			}
		}
	}

	return masks, nil
}

// gridRegion returns the half-open prototype grid region [x0,x1) x [y0,y1) covered by
// a model space box.
func gridRegion(
	b images.Box,
	modelW, modelH int,
	scaleX, scaleY float32,
	gridW, gridH int,
) (x0, y0, x1, y1 int) {
	left := math32.Max(0, b.X)
	top := math32.Max(0, b.Y)
	right := math32.Min(float32(modelW), b.X+b.W)
	bottom := math32.Min(float32(modelH), b.Y+b.H)

	x0 = gridCoord(left*scaleX, gridW)
	y0 = gridCoord(top*scaleY, gridH)
	x1 = gridCoord(right*scaleX, gridW)
	y1 = gridCoord(bottom*scaleY, gridH)
	return x0, y0, x1, y1
}

// gridCoord truncates v and clamps it to [0, limit]. NaN maps to 0.
func gridCoord(v float32, limit int) int {
	if !(v > 0) {
		return 0
	}
	if v >= float32(limit) {
		return limit
	}
	return int(v)
}

// sigmoid maps a logit into [0, 1]. Overflowing logits saturate instead of producing
// NaN.
func sigmoid(v float32) float32 {
	if math32.IsNaN(v) {
		return 0
	}
	p := 1 / (1 + math32.Exp(-v))
	return math32.Min(1, math32.Max(0, p))
}
