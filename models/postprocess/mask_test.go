package postprocess

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-seg/images"
)

// constantPrototype returns a prototype whose channel c holds value[c] everywhere.
func constantPrototype(t *testing.T, h, w int, value func(c int) float32) *Prototype {
	t.Helper()
	data := make([]float32, MaskCoefficients*h*w)
	for c := 0; c < MaskCoefficients; c++ {
		for i := 0; i < h*w; i++ {
			data[c*h*w+i] = value(c)
		}
	}
	proto, err := NewPrototype(data, MaskCoefficients, h, w)
	require.NoError(t, err)
	return proto
}

func TestNewPrototype_Validation(t *testing.T) {
	_, err := NewPrototype(make([]float32, 16*4*4), 16, 4, 4)
	assert.True(t, errors.Is(err, ErrInvalidPrototype))

	_, err = NewPrototype(make([]float32, 10), MaskCoefficients, 4, 4)
	assert.True(t, errors.Is(err, ErrInvalidPrototype))

	_, err = NewPrototype(nil, MaskCoefficients, 0, 4)
	assert.True(t, errors.Is(err, ErrInvalidPrototype))

	p, err := NewPrototype(make([]float32, MaskCoefficients*2*3), MaskCoefficients, 2, 3)
	require.NoError(t, err)
	c, h, w := p.Shape()
	assert.Equal(t, []int{MaskCoefficients, 2, 3}, []int{c, h, w})
}

func TestDecodeMasks_RegionAndValue(t *testing.T) {
	// 32x32 model input, 8x8 grid: downsample factor 4.
	proto := constantPrototype(t, 8, 8, func(c int) float32 {
		if c == 0 {
			return 1
		}
		return 0
	})

	det := Detection{Box: images.Box{X: 8, Y: 4, W: 8, H: 12}}
	det.Coefficients[0] = 2

	masks, err := DecodeMasks(proto, []Detection{det}, 32, 32)
	require.NoError(t, err)
	require.Len(t, masks, 1)
	m := masks[0]
	defer m.Release()

	assert.Equal(t, 8, m.Width)
	assert.Equal(t, 8, m.Height)

	expected := 1 / (1 + math32.Exp(-2))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			// Grid columns 2..3, rows 1..3.
			if x >= 2 && x < 4 && y >= 1 && y < 4 {
				assert.InDelta(t, expected, m.At(x, y), 1e-6, "(%d,%d)", x, y)
			} else {
				assert.Zero(t, m.At(x, y), "(%d,%d)", x, y)
			}
		}
	}
}

func TestDecodeMasks_ClampsOutOfRangeBoxes(t *testing.T) {
	proto := constantPrototype(t, 4, 4, func(int) float32 { return 1 })

	dets := []Detection{
		{Box: images.Box{X: -100, Y: -100, W: 1000, H: 1000}},
		{Box: images.Box{X: 50, Y: 50, W: 10, H: 10}},
		{Box: images.Box{X: math32.NaN(), Y: 0, W: 8, H: 8}},
		{Box: images.Box{X: 10, Y: 10, W: -5, H: -5}},
	}

	masks, err := DecodeMasks(proto, dets, 16, 16)
	require.NoError(t, err)
	require.Len(t, masks, 4)

	// Whole grid, coefficients all zero: sigmoid(0) = 0.5.
	assert.Equal(t, 16, masks[0].Threshold(0.49))
	assert.Zero(t, masks[1].Threshold(0))
	assert.Zero(t, masks[2].Threshold(0))
	assert.Zero(t, masks[3].Threshold(0))
}

func TestDecodeMasks_ProbabilitiesInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h, w := 16, 16
	data := make([]float32, MaskCoefficients*h*w)
	for i := range data {
		data[i] = (rng.Float32() - 0.5) * 200
	}
	proto, err := NewPrototype(data, MaskCoefficients, h, w)
	require.NoError(t, err)

	var dets []Detection
	for i := 0; i < 8; i++ {
		d := Detection{Box: images.Box{X: 0, Y: 0, W: 64, H: 64}}
		for j := range d.Coefficients {
			d.Coefficients[j] = (rng.Float32() - 0.5) * 1e4
		}
		dets = append(dets, d)
	}
	extreme := Detection{Box: images.Box{X: 0, Y: 0, W: 64, H: 64}}
	for j := range extreme.Coefficients {
		extreme.Coefficients[j] = math32.MaxFloat32
	}
	dets = append(dets, extreme)

	masks, err := DecodeMasks(proto, dets, 64, 64)
	require.NoError(t, err)
	for _, m := range masks {
		for _, v := range m.Data {
			require.False(t, math32.IsNaN(v))
			require.True(t, v >= 0 && v <= 1, "value %v", v)
		}
		m.Release()
	}
}

func TestDecodeMasks_OrderAndLength(t *testing.T) {
	proto := constantPrototype(t, 4, 4, func(c int) float32 { return float32(c) })

	dets := make([]Detection, 3)
	for i := range dets {
		dets[i].Box = images.Box{X: 0, Y: 0, W: 16, H: 16}
		dets[i].Coefficients[1] = float32(i) - 1 // logits -1, 0, 1
	}

	masks, err := DecodeMasks(proto, dets, 16, 16)
	require.NoError(t, err)
	require.Len(t, masks, 3)
	assert.Less(t, masks[0].At(0, 0), float32(0.5))
	assert.InDelta(t, 0.5, masks[1].At(0, 0), 1e-6)
	assert.Greater(t, masks[2].At(0, 0), float32(0.5))
}

func TestDecodeMasks_InvalidArguments(t *testing.T) {
	_, err := DecodeMasks(nil, []Detection{{}}, 640, 640)
	assert.True(t, errors.Is(err, ErrInvalidPrototype))

	proto := constantPrototype(t, 2, 2, func(int) float32 { return 0 })
	_, err = DecodeMasks(proto, []Detection{{}}, 0, 640)
	assert.True(t, errors.Is(err, images.ErrInvalidDimensions))

	masks, err := DecodeMasks(proto, nil, 640, 640)
	require.NoError(t, err)
	assert.Empty(t, masks)
}

func TestDecodeMasks_MatchesPerPixelSum(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	h, w := 6, 5
	data := make([]float32, MaskCoefficients*h*w)
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	proto, err := NewPrototype(data, MaskCoefficients, h, w)
	require.NoError(t, err)

	dets := make([]Detection, 3)
	for i := range dets {
		dets[i].Box = images.Box{X: 0, Y: 0, W: 20, H: 24}
		for j := range dets[i].Coefficients {
			dets[i].Coefficients[j] = rng.Float32()*2 - 1
		}
	}

	masks, err := DecodeMasks(proto, dets, 20, 24)
	require.NoError(t, err)
	require.Len(t, masks, 3)

	for i, m := range masks {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var logit float32
				for j := 0; j < MaskCoefficients; j++ {
					logit += dets[i].Coefficients[j] * data[j*h*w+y*w+x]
				}
				assert.InDelta(t, sigmoid(logit), m.At(x, y), 1e-5, "det %d (%d,%d)", i, x, y)
			}
		}
		m.Release()
	}
}
