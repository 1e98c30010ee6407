package profiler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/logger"
)

func TestStageProfilerSummary(t *testing.T) {
	p := NewStageProfiler(10)
	p.RecordTiming(inference.Timing{Total: 10, Engine: 6, Preprocess: 2}, 1)
	p.RecordTiming(inference.Timing{Total: 30, Engine: 12, Preprocess: 4}, 3)

	s := p.Summary()
	assert.Equal(t, int64(2), s.Calls)
	assert.InDelta(t, 2, s.Detections, 1e-9)

	total := s.Stages[StageTotal]
	assert.InDelta(t, 20, total.Avg, 1e-9)
	assert.InDelta(t, 10, total.Min, 1e-9)
	assert.InDelta(t, 30, total.Max, 1e-9)
	assert.Equal(t, 2, total.Samples)

	assert.InDelta(t, 3, s.Stages[StagePreprocess].Avg, 1e-9)
	assert.InDelta(t, 50, s.FPS, 1e-9)
	assert.InDelta(t, 45, s.EnginePercentage, 1e-9)
	assert.Len(t, s.Stages, len(Stages))
}

func TestStageProfilerWindow(t *testing.T) {
	p := NewStageProfiler(2)
	for i := 1; i <= 5; i++ {
		p.RecordTiming(inference.Timing{Total: float64(i)}, 0)
	}

	s := p.Summary()
	assert.Equal(t, int64(5), s.Calls)
	assert.Equal(t, 2, s.Stages[StageTotal].Samples)
	assert.InDelta(t, 4.5, s.Stages[StageTotal].Avg, 1e-9)
	assert.InDelta(t, 4, s.Stages[StageTotal].Min, 1e-9)
}

func TestStageProfilerEmptyAndReset(t *testing.T) {
	p := NewStageProfiler(0)

	s := p.Summary()
	assert.Empty(t, s.Stages)
	assert.Zero(t, s.FPS)

	p.Record(&inference.ResultSet{Count: 2, Timing: inference.Timing{Total: 5}})
	p.Record(nil)
	require.Equal(t, int64(1), p.Summary().Calls)

	p.Reset()
	assert.Zero(t, p.Summary().Calls)
	assert.Empty(t, p.Summary().Stages)
}

func TestStageProfilerConcurrent(t *testing.T) {
	p := NewStageProfiler(100)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				p.RecordTiming(inference.Timing{Total: 1}, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), p.Summary().Calls)
	assert.Equal(t, 100, p.Summary().Stages[StageTotal].Samples)
}

func TestStageProfilerReport(t *testing.T) {
	p := NewStageProfiler(4)
	p.RecordTiming(inference.Timing{Total: 4, Engine: 2}, 1)

	assert.NotPanics(t, func() { p.Report(logger.NewNopLogger()) })
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))
}
