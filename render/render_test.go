package render

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/models/postprocess"
)

func TestClassColor(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 0xFF, G: 0x38, B: 0x38, A: 255}, ClassColor(0))
	assert.Equal(t, color.RGBA{R: 0x00, G: 0xD4, B: 0xBB, A: 255}, ClassColor(9))
	assert.Equal(t, ClassColor(0), ClassColor(20))
	assert.Equal(t, ClassColor(19), ClassColor(-1))
}

func TestBlendMask(t *testing.T) {
	pix := make([]uint8, 2*1*3)
	for i := range pix {
		pix[i] = 100
	}
	m := images.NewMask(2, 1)
	defer m.Release()
	m.Set(0, 0, 0.9)
	m.Set(1, 0, 0.5)

	BlendMask(pix, 2, 1, m, image.Rect(0, 0, 2, 1), color.RGBA{R: 200, G: 0, B: 50, A: 255})

	// BGR order; only the first pixel is above the threshold.
	assert.Equal(t, []uint8{75, 50, 150, 100, 100, 100}, pix)

	t.Run("size mismatch is ignored", func(t *testing.T) {
		before := append([]uint8(nil), pix...)
		BlendMask(pix, 3, 1, m, image.Rect(0, 0, 3, 1), color.RGBA{R: 255})
		assert.Equal(t, before, pix)
	})
}

func TestBlendMask_ClipsToBounds(t *testing.T) {
	pix := make([]uint8, 4*2*3)
	m := images.NewMask(4, 2)
	defer m.Release()
	for i := range m.Data {
		m.Data[i] = 1
	}

	BlendMask(pix, 4, 2, m, image.Rect(1, 0, 3, 1), color.RGBA{R: 200, G: 100, B: 50, A: 255})

	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			px := pix[(y*4+x)*3 : (y*4+x)*3+3]
			if y == 0 && (x == 1 || x == 2) {
				assert.Equal(t, []uint8{25, 50, 100}, px, "(%d,%d)", x, y)
			} else {
				assert.Equal(t, []uint8{0, 0, 0}, px, "(%d,%d)", x, y)
			}
		}
	}

	t.Run("bounds outside the image", func(t *testing.T) {
		assert.NotPanics(t, func() {
			BlendMask(pix, 4, 2, m, image.Rect(-5, -5, 50, 50), color.RGBA{})
		})
	})
}

// maskedResult is one full-image detection with a fully set mask on a 64x32 source.
func maskedResult(t *testing.T) *inference.ResultSet {
	t.Helper()
	lb, err := images.NewLetterbox(32, 32, 64, 32)
	require.NoError(t, err)

	mask := images.NewMask(8, 8)
	defer mask.Release()
	for i := range mask.Data {
		mask.Data[i] = 1
	}

	result, err := inference.NewResultBuilder(inference.COCOLabels(), lb).
		WithDetections(
			[]postprocess.Detection{{Box: images.Box{X: 0, Y: 8, W: 32, H: 16}, Confidence: 0.9}},
			[]*images.Mask{mask},
		).
		Build()
	require.NoError(t, err)
	t.Cleanup(result.Release)
	return result
}

func TestDrawDetections(t *testing.T) {
	result := maskedResult(t)

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 32, 64, gocv.MatTypeCV8UC3)
	defer img.Close()

	require.NoError(t, DrawDetections(&img, result, nil))

	// (32, 26) is inside the mask, below the label tag and away from the outline.
	pix, err := img.DataPtrUint8()
	require.NoError(t, err)
	at := (26*64 + 32) * 3
	c := ClassColor(0)
	assert.Equal(t, []uint8{c.B / 2, c.G / 2, c.R / 2}, pix[at:at+3])

	t.Run("size mismatch", func(t *testing.T) {
		small := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
		defer small.Close()
		assert.Error(t, DrawDetections(&small, result, nil))
	})

	t.Run("nil result", func(t *testing.T) {
		assert.Error(t, DrawDetections(&img, nil, nil))
	})
}

func TestSaveResultImage(t *testing.T) {
	result := maskedResult(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "frame.png")
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 64, 32))))
	require.NoError(t, f.Close())

	dst := filepath.Join(dir, "frame_seg.png")
	require.NoError(t, SaveResultImage(src, result, inference.LabelMap{0: "intruder"}, dst))

	out := gocv.IMRead(dst, gocv.IMReadColor)
	defer out.Close()
	assert.False(t, out.Empty())
	assert.Equal(t, 64, out.Cols())
	assert.Equal(t, 32, out.Rows())

	assert.Error(t, SaveResultImage(filepath.Join(dir, "missing.png"), result, nil, dst))
}

func TestDrawDetections_SkipsEmptyMasks(t *testing.T) {
	lb, err := images.NewLetterbox(32, 32, 64, 32)
	require.NoError(t, err)

	mask := images.NewMask(8, 8)
	defer mask.Release()
	for i := range mask.Data {
		mask.Data[i] = 0.4
	}

	result, err := inference.NewResultBuilder(inference.COCOLabels(), lb).
		WithDetections(
			[]postprocess.Detection{{Box: images.Box{X: 0, Y: 8, W: 32, H: 16}, Confidence: 0.9}},
			[]*images.Mask{mask},
		).
		Build()
	require.NoError(t, err)
	defer result.Release()

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 32, 64, gocv.MatTypeCV8UC3)
	defer img.Close()
	require.NoError(t, DrawDetections(&img, result, nil))

	pix, err := img.DataPtrUint8()
	require.NoError(t, err)
	at := (26*64 + 32) * 3
	assert.Equal(t, []uint8{0, 0, 0}, pix[at:at+3])
}
