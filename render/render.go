// Package render - Drawing segmentation results onto images with gocv.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference"
)

const (
	// MaskThreshold is the probability above which a mask pixel is painted.
	MaskThreshold = 0.5
	// BoxThickness is the rectangle stroke width in pixels.
	BoxThickness = 2
	// FontScale is the label text scale.
	FontScale = 1.2
)

// palette is the per-class color cycle, as RGB hex.
var palette = []uint32{
	0xFF3838, 0xFF9D97, 0xFF701F, 0xFFB21D, 0xCFD231,
	0x48F90A, 0x92CC17, 0x3DDB86, 0x1A9334, 0x00D4BB,
	0x2C99A8, 0x00C2FF, 0x344593, 0x6473FF, 0x0018EC,
	0x8438FF, 0x520085, 0xCB38FF, 0xFF95C8, 0xFF37C7,
}

// ClassColor returns the palette color of a class. Negative ids wrap like positive ones.
func ClassColor(classID int) color.RGBA {
	i := classID % len(palette)
	if i < 0 {
		i += len(palette)
	}
	hex := palette[i]
	return color.RGBA{R: uint8(hex >> 16), G: uint8(hex >> 8), B: uint8(hex), A: 255}
}

// SaveResultImage draws result onto the image at srcPath and writes it to dstPath.
//
// Arguments:
//   - srcPath: The original image the result was computed from.
//   - result: The inference result.
//   - labels: Overrides the result's label names when non-nil.
//   - dstPath: The output path; its extension selects the encoder.
//
// Returns:
//   - error: If the image cannot be read, does not match the result or cannot be written.
func SaveResultImage(
	srcPath string,
	result *inference.ResultSet,
	labels inference.LabelMap,
	dstPath string,
) error {
	img := gocv.IMRead(srcPath, gocv.IMReadColor)
	if img.Empty() {
		return errors.Errorf("error reading image: %s", srcPath)
	}
	defer img.Close()

	if err := DrawDetections(&img, result, labels); err != nil {
		return err
	}

	if !gocv.IMWrite(dstPath, img) {
		return errors.Errorf("failed to save image: %s", dstPath)
	}
	return nil
}

// DrawDetections blends every mask into img and draws boxes and labels on top.
// img must be an 8-bit BGR Mat of the result's source size.
//
// Arguments:
//   - img: The original image.
//   - result: The inference result.
//   - labels: Overrides the result's label names when non-nil.
//
// Returns:
//   - error: If img does not match the result.
func DrawDetections(img *gocv.Mat, result *inference.ResultSet, labels inference.LabelMap) error {
	if result == nil {
		return errors.New("result is nil")
	}
	lb := result.Letterbox
	if img.Cols() != lb.SourceWidth || img.Rows() != lb.SourceHeight {
		return errors.Errorf(
			"image is %dx%d, result was computed for %dx%d",
			img.Cols(), img.Rows(), lb.SourceWidth, lb.SourceHeight,
		)
	}
	if img.Type() != gocv.MatTypeCV8UC3 {
		return errors.Errorf("unsupported mat type %v", img.Type())
	}

	pix, err := img.DataPtrUint8()
	if err != nil {
		return errors.Wrap(err, "mat data")
	}

	// Masks first so the boxes stay visible.
	for i, d := range result.Detections {
		if d.Mask == nil || d.Mask.Threshold(MaskThreshold) == 0 {
			continue
		}
		m, err := result.ImageMask(i)
		if err != nil {
			return errors.Wrapf(err, "mask %d", i)
		}
		BlendMask(pix, img.Cols(), img.Rows(), m, result.Rect(i), ClassColor(d.ClassID))
		m.Release()
	}

	for i, d := range result.Detections {
		name := d.Label
		if labels != nil {
			name = labels.Name(d.ClassID)
		}
		drawBox(img, result.Rect(i), fmt.Sprintf("%s %.2f", name, d.Confidence), ClassColor(d.ClassID))
	}
	return nil
}

// BlendMask mixes c 50/50 into every pixel of a BGR buffer that lies inside bounds
// and whose mask probability exceeds MaskThreshold.
//
// Arguments:
//   - pix: The width x height BGR pixels, modified in place.
//   - width, height: The image size. The mask must have the same size.
//   - m: The mask in image space.
//   - bounds: The detection box; pixels outside it are left alone.
//   - c: The blend color.
func BlendMask(pix []uint8, width, height int, m *images.Mask, bounds image.Rectangle, c color.RGBA) {
	if m == nil || m.Width != width || m.Height != height || len(pix) < width*height*3 {
		return
	}
	bounds = bounds.Intersect(image.Rect(0, 0, width, height))
	bgr := [3]uint16{uint16(c.B), uint16(c.G), uint16(c.R)}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			i := y*width + x
			if m.Data[i] <= MaskThreshold {
				continue
			}
			px := pix[i*3 : i*3+3]
			for ch := 0; ch < 3; ch++ {
				px[ch] = uint8((uint16(px[ch]) + bgr[ch]) / 2)
			}
		}
	}
}

// drawBox draws a rectangle with a filled label tag above it, or inside it when the
// box touches the top edge.
func drawBox(img *gocv.Mat, r image.Rectangle, label string, c color.RGBA) {
	if r.Empty() {
		return
	}
	gocv.Rectangle(img, r, c, BoxThickness)

	size := gocv.GetTextSize(label, gocv.FontHersheyPlain, FontScale, 1)
	top := r.Min.Y - size.Y - 4
	if top < 0 {
		top = r.Min.Y
	}
	tag := image.Rect(r.Min.X, top, r.Min.X+size.X+4, top+size.Y+4)
	gocv.Rectangle(img, tag, c, -1)
	gocv.PutText(
		img, label, image.Pt(tag.Min.X+2, tag.Max.Y-2),
		gocv.FontHersheyPlain, FontScale, color.RGBA{255, 255, 255, 0}, 1,
	)
}
