// Package preprocess - Letterbox preprocessing of decoded images into model input tensors.
package preprocess

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-seg/images"
)

// DefaultPadColor is the gray used for letterbox bars.
var DefaultPadColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Config defines preprocessing for a model input.
type Config struct {
	// InputWidth is the expected width of the model input.
	InputWidth int `json:"input_width" yaml:"input_width"`
	// InputHeight is the expected height of the model input.
	InputHeight int `json:"input_height" yaml:"input_height"`
	// PadColor fills the letterbox bars. Defaults to DefaultPadColor.
	PadColor color.Color `json:"-" yaml:"-"`
	// Interpolation is the resize kernel. The zero value (NearestNeighbor) selects
	// bilinear.
	Interpolation resize.InterpolationFunction `json:"-" yaml:"-"`
}

// Preprocessor letterboxes images into CHW, RGB, [0,1] normalized float32 tensors.
type Preprocessor struct {
	config Config
	pad    [3]float32
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model input configuration.
//
// Returns:
//   - *Preprocessor: A configured preprocessor.
//   - error: If the input size is not positive.
//
// @example
//
//	pre, err := NewPreprocessor(Config{InputWidth: 640, InputHeight: 640})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	lb, err := pre.Letterbox(img, input)
func NewPreprocessor(config Config) (*Preprocessor, error) {
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		return nil, errors.Wrapf(
			images.ErrInvalidDimensions,
			"model input %dx%d", config.InputWidth, config.InputHeight,
		)
	}
	if config.PadColor == nil {
		config.PadColor = DefaultPadColor
	}
	if config.Interpolation == 0 {
		config.Interpolation = resize.Bilinear
	}

	r, g, b, _ := config.PadColor.RGBA()
	return &Preprocessor{
		config: config,
		pad:    [3]float32{float32(r>>8) / 255, float32(g>>8) / 255, float32(b>>8) / 255},
	}, nil
}

// TensorSize returns the number of floats one letterboxed image occupies.
func (p *Preprocessor) TensorSize() int {
	return 3 * p.config.InputWidth * p.config.InputHeight
}

// Letterbox resizes img preserving its aspect ratio, centers it on a padded canvas of
// the model input size and writes it into dst in CHW order.
//
// Arguments:
//   - img: The decoded source image.
//   - dst: Destination of exactly TensorSize() floats.
//
// Returns:
//   - images.Letterbox: The transform, used later to map results back.
//   - error: If img is nil or empty, or dst has the wrong size.
func (p *Preprocessor) Letterbox(img image.Image, dst []float32) (images.Letterbox, error) {
	if img == nil {
		return images.Letterbox{}, errors.New("image is nil")
	}
	if len(dst) != p.TensorSize() {
		return images.Letterbox{}, errors.Errorf(
			"destination holds %d floats, want %d", len(dst), p.TensorSize(),
		)
	}

	bounds := img.Bounds()
	lb, err := images.NewLetterbox(
		p.config.InputWidth, p.config.InputHeight, bounds.Dx(), bounds.Dy(),
	)
	if err != nil {
		return images.Letterbox{}, errors.Wrap(err, "source image")
	}

	// Resize to the content rect so the pad matches what ContentRect reports.
	content := lb.ContentRect()
	newW := max(1, content.Dx())
	newH := max(1, content.Dy())

	resized := img
	if newW != bounds.Dx() || newH != bounds.Dy() {
		resized = resize.Resize(uint(newW), uint(newH), img, p.config.Interpolation)
	}

	p.fillPad(dst)
	p.writeContent(resized, content.Min.X, content.Min.Y, dst)

	return lb, nil
}

// fillPad sets every pixel of dst to the pad color.
func (p *Preprocessor) fillPad(dst []float32) {
	plane := p.config.InputWidth * p.config.InputHeight
	for c := 0; c < 3; c++ {
		ch := dst[c*plane : (c+1)*plane]
		for i := range ch {
			ch[i] = p.pad[c]
		}
	}
}

// writeContent copies img into dst at (offX, offY), normalized to [0,1].
func (p *Preprocessor) writeContent(img image.Image, offX, offY int, dst []float32) {
	w := p.config.InputWidth
	h := p.config.InputHeight
	plane := w * h
	b := img.Bounds()

	width := min(b.Dx(), w-offX)
	height := min(b.Dy(), h-offY)

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < height; y++ {
			row := rgba.Pix[y*rgba.Stride:]
			base := (offY+y)*w + offX
			for x := 0; x < width; x++ {
				px := row[x*4 : x*4+3]
				dst[base+x] = float32(px[0]) / 255
				dst[plane+base+x] = float32(px[1]) / 255
				dst[2*plane+base+x] = float32(px[2]) / 255
			}
		}
		return
	}

	for y := 0; y < height; y++ {
		base := (offY+y)*w + offX
		for x := 0; x < width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			dst[base+x] = float32(r>>8) / 255
			dst[plane+base+x] = float32(g>>8) / 255
			dst[2*plane+base+x] = float32(bl>>8) / 255
		}
	}
}
