package postprocess

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-seg/images"
)

// record is a test helper describing one raw detection.
type record struct {
	x, y, w, h float32
	conf       float32
	class      float32
}

// buildBuffer lays records out the way the detection output tensor does. The buffer
// is sized for capacity records so unused slots can be filled with garbage.
func buildBuffer(capacity int, count float32, records ...record) []float32 {
	raw := make([]float32, BufferSize(capacity))
	raw[0] = count
	for i, r := range records {
		off := 1 + i*Stride
		copy(raw[off:], []float32{r.x, r.y, r.w, r.h, r.conf, r.class})
		for j := 0; j < MaskCoefficients; j++ {
			raw[off+offsetCoefficients+j] = float32(i*100 + j)
		}
	}
	return raw
}

func nmsConfig(conf, iou float32) NMSConfig {
	cfg := DefaultNMSConfig()
	cfg.ConfidenceThreshold = conf
	cfg.IoUThreshold = iou
	return cfg
}

func TestParseAndSuppress_OverlappingPair(t *testing.T) {
	raw := buildBuffer(4, 2,
		record{10, 10, 50, 50, 0.9, 0},
		record{12, 12, 50, 50, 0.85, 0},
	)

	dets, err := ParseAndSuppress(raw, nmsConfig(0.25, 0.5))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, float32(0.9), dets[0].Confidence)
	assert.Equal(t, images.Box{X: 10, Y: 10, W: 50, H: 50}, dets[0].Box)
	assert.Equal(t, float32(31), dets[0].Coefficients[31])
}

func TestParseDetections_Threshold(t *testing.T) {
	raw := buildBuffer(3, 3,
		record{0, 0, 10, 10, 0.5, 0},
		record{100, 0, 10, 10, 0.5001, 0},
		record{200, 0, 10, 10, 0.2, 0},
	)

	dets, err := ParseDetections(raw, nmsConfig(0.5, 0.5))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, float32(100), dets[0].Box.X)
}

func TestParseDetections_NaNConfidence(t *testing.T) {
	raw := buildBuffer(3, 3,
		record{0, 0, 10, 10, 0.9, 0},
		record{100, 0, 10, 10, math32.NaN(), 0},
		record{200, 0, 10, 10, 0.8, 1},
	)

	dets, err := ParseDetections(raw, nmsConfig(0.25, 0.5))
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, float32(0), dets[0].Box.X)
	assert.Equal(t, float32(200), dets[1].Box.X)
}

func TestParseDetections_InvalidClassSkipped(t *testing.T) {
	raw := buildBuffer(2, 2,
		record{0, 0, 10, 10, 0.9, -1},
		record{100, 0, 10, 10, 0.9, math32.NaN()},
	)

	dets, err := ParseDetections(raw, nmsConfig(0.25, 0.5))
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestParseDetections_Count(t *testing.T) {
	recs := []record{
		{0, 0, 10, 10, 0.9, 0},
		{100, 0, 10, 10, 0.9, 0},
		{200, 0, 10, 10, 0.9, 0},
	}

	tests := []struct {
		name     string
		capacity int
		count    float32
		max      int
		expected int
	}{
		{"zero count", 3, 0, 10, 0},
		{"count below records", 3, 2, 10, 2},
		{"count capped by max detections", 3, 3, 1, 1},
		{"count capped by buffer length", 3, 50, 0, 3},
		{"negative count", 3, -4, 10, 0},
		{"NaN count", 3, math32.NaN(), 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := buildBuffer(tt.capacity, tt.count, recs...)
			cfg := nmsConfig(0.25, 0.5)
			cfg.MaxDetections = tt.max

			dets, err := ParseDetections(raw, cfg)
			require.NoError(t, err)
			assert.Len(t, dets, tt.expected)
		})
	}
}

func TestParseDetections_IgnoresEntriesBeyondCount(t *testing.T) {
	raw := buildBuffer(3, 1,
		record{0, 0, 10, 10, 0.9, 0},
		record{100, 0, 10, 10, 0.99, 0},
	)

	dets, err := ParseDetections(raw, nmsConfig(0.25, 0.5))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, float32(0.9), dets[0].Confidence)
}

func TestParseAndSuppress_EmptyBuffer(t *testing.T) {
	_, err := ParseAndSuppress(nil, DefaultNMSConfig())
	assert.True(t, errors.Is(err, ErrEmptyBuffer))

	_, err = ParseAndSuppress([]float32{}, DefaultNMSConfig())
	assert.True(t, errors.Is(err, ErrEmptyBuffer))

	dets, err := ParseAndSuppress([]float32{0}, DefaultNMSConfig())
	require.NoError(t, err)
	assert.Nil(t, dets)
}

func TestApplyGreedyNMS_IoUSuppression(t *testing.T) {
	// Boxes of width 100 shifted along x: shift 5 gives IoU 95/105 = 0.905,
	// shift 54 gives IoU 46/154 = 0.299.
	tests := []struct {
		name     string
		shift    float32
		expected int
	}{
		{"high overlap suppressed", 5, 1},
		{"low overlap kept", 54, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets := []Detection{
				{Box: images.Box{X: 0, Y: 0, W: 100, H: 100}, Confidence: 0.9},
				{Box: images.Box{X: tt.shift, Y: 0, W: 100, H: 100}, Confidence: 0.8},
			}
			out := ApplyGreedyNMS(dets, nmsConfig(0.25, 0.5))
			require.Len(t, out, tt.expected)
			assert.Equal(t, float32(0.9), out[0].Confidence)
		})
	}
}

func TestApplyGreedyNMS_TieBreak(t *testing.T) {
	dets := []Detection{
		{Box: images.Box{X: 20, Y: 0, W: 5, H: 5}, Confidence: 0.7},
		{Box: images.Box{X: 10, Y: 200, W: 5, H: 5}, Confidence: 0.7},
	}

	out := ApplyGreedyNMS(dets, nmsConfig(0.25, 0.5))
	require.Len(t, out, 2)
	assert.Equal(t, float32(10), out[0].Box.X)
	assert.Equal(t, float32(20), out[1].Box.X)
}

func TestApplyGreedyNMS_ClassIsolation(t *testing.T) {
	box := images.Box{X: 10, Y: 10, W: 50, H: 50}
	dets := []Detection{
		{Box: box, Confidence: 0.6, ClassID: 3},
		{Box: box, Confidence: 0.9, ClassID: 1},
		{Box: box, Confidence: 0.8, ClassID: 1},
		{Box: box, Confidence: 0.7, ClassID: 3},
	}

	out := ApplyGreedyNMS(dets, nmsConfig(0.25, 0.5))
	require.Len(t, out, 2)

	// Groups come out in ascending class order, not global confidence order.
	assert.Equal(t, 1, out[0].ClassID)
	assert.Equal(t, float32(0.9), out[0].Confidence)
	assert.Equal(t, 3, out[1].ClassID)
	assert.Equal(t, float32(0.7), out[1].Confidence)
}

func TestApplyGreedyNMS_DuplicateBoxesKeepHighest(t *testing.T) {
	box := images.Box{X: 0, Y: 0, W: 30, H: 30}
	dets := []Detection{
		{Box: box, Confidence: 0.4},
		{Box: box, Confidence: 0.95},
		{Box: box, Confidence: 0.6},
	}

	out := ApplyGreedyNMS(dets, nmsConfig(0.25, 0.5))
	require.Len(t, out, 1)
	assert.Equal(t, float32(0.95), out[0].Confidence)
}

func TestApplyGreedyNMS_DegenerateBoxesNeverSuppress(t *testing.T) {
	dets := []Detection{
		{Box: images.Box{X: 0, Y: 0, W: 0, H: 0}, Confidence: 0.9},
		{Box: images.Box{X: 0, Y: 0, W: 0, H: 0}, Confidence: 0.8},
		{Box: images.Box{X: 50, Y: 50, W: -10, H: -10}, Confidence: 0.7},
	}

	out := ApplyGreedyNMS(dets, nmsConfig(0.25, 0.5))
	assert.Len(t, out, 3)
}

func TestApplyGreedyNMS_Idempotent(t *testing.T) {
	var dets []Detection
	for i := 0; i < 60; i++ {
		dets = append(dets, Detection{
			Box: images.Box{
				X: float32((i * 37) % 400),
				Y: float32((i * 53) % 400),
				W: 40 + float32(i%7)*5,
				H: 40 + float32(i%5)*5,
			},
			Confidence: 0.3 + float32(i%10)*0.07,
			ClassID:    i % 4,
		})
	}

	cfg := nmsConfig(0.25, 0.45)
	once := ApplyGreedyNMS(dets, cfg)
	twice := ApplyGreedyNMS(once, cfg)
	assert.Equal(t, once, twice)
}

func TestApplyGreedyNMS_WorkersMatchSequential(t *testing.T) {
	var dets []Detection
	for i := 0; i < 200; i++ {
		dets = append(dets, Detection{
			Box: images.Box{
				X: float32((i * 13) % 300),
				Y: float32((i * 29) % 300),
				W: 60,
				H: 60,
			},
			Confidence: float32(i%17) / 17,
			ClassID:    i % 9,
		})
	}

	sequential := nmsConfig(0.25, 0.5)
	parallel := sequential
	parallel.NumWorkers = 4

	assert.Equal(t, ApplyGreedyNMS(dets, sequential), ApplyGreedyNMS(dets, parallel))
}

func TestApplyGreedyNMS_DoesNotReorderInput(t *testing.T) {
	dets := []Detection{
		{Box: images.Box{X: 0, Y: 0, W: 5, H: 5}, Confidence: 0.3},
		{Box: images.Box{X: 100, Y: 0, W: 5, H: 5}, Confidence: 0.9},
	}
	_ = ApplyGreedyNMS(dets, nmsConfig(0.25, 0.5))
	assert.Equal(t, float32(0.3), dets[0].Confidence)
}

func TestBatchParseAndSuppress(t *testing.T) {
	stride := BufferSize(2)
	first := buildBuffer(2, 2,
		record{10, 10, 50, 50, 0.9, 0},
		record{12, 12, 50, 50, 0.85, 0},
	)
	second := buildBuffer(2, 1,
		record{300, 300, 20, 20, 0.7, 5},
	)
	raw := append(append([]float32{}, first...), second...)

	results, err := BatchParseAndSuppress(raw, 2, stride, nmsConfig(0.25, 0.5))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results[0], 1)
	require.Len(t, results[1], 1)
	assert.Equal(t, 5, results[1][0].ClassID)
}

func TestBatchParseAndSuppress_InvalidGeometry(t *testing.T) {
	raw := buildBuffer(2, 0)

	_, err := BatchParseAndSuppress(raw, 0, len(raw), DefaultNMSConfig())
	assert.Error(t, err)

	_, err = BatchParseAndSuppress(raw, 2, len(raw), DefaultNMSConfig())
	assert.Error(t, err)

	_, err = BatchParseAndSuppress(nil, 1, 10, DefaultNMSConfig())
	assert.True(t, errors.Is(err, ErrEmptyBuffer))
}
