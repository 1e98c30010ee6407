// Package profiler - Aggregated stage timings over many inference calls.
package profiler

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/logger"
)

// Stage names, in pipeline order.
const (
	StageTotal       = "total"
	StageImageRead   = "image_read"
	StagePreprocess  = "preprocess"
	StageEngine      = "engine"
	StageResultCopy  = "result_copy"
	StagePostprocess = "postprocess"
)

// Stages lists every stage in pipeline order, total first.
var Stages = []string{
	StageTotal, StageImageRead, StagePreprocess, StageEngine, StageResultCopy, StagePostprocess,
}

// StageStats summarizes one stage over the sample window, in milliseconds.
type StageStats struct {
	Avg     float64 `json:"avg_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Samples int     `json:"samples"`
}

// Summary is a snapshot of the profiler.
type Summary struct {
	// Stages maps a stage name to its statistics.
	Stages map[string]StageStats `json:"stages"`
	// Calls counts every recorded call, including those outside the window.
	Calls int64 `json:"calls"`
	// Detections is the average detection count over the window.
	Detections float64 `json:"avg_detections"`
	// FPS is the throughput implied by the average total.
	FPS float64 `json:"fps"`
	// EnginePercentage is the share of the average total spent in the engine.
	EnginePercentage float64 `json:"engine_percentage"`
	// Uptime is the time since the profiler was created.
	Uptime time.Duration `json:"uptime"`
	// HeapAlloc is the live heap at snapshot time.
	HeapAlloc uint64 `json:"heap_alloc"`
	// NumGC is the number of completed GC cycles.
	NumGC uint32 `json:"num_gc"`
}

// StageProfiler keeps a rolling window of inference timings. It is safe for
// concurrent use.
type StageProfiler struct {
	mu         sync.Mutex
	maxSamples int
	startTime  time.Time
	timings    []inference.Timing
	detections []int
	calls      int64
}

// NewStageProfiler creates a profiler keeping the last maxSamples calls. Non-positive
// values default to 600.
//
// Arguments:
//   - maxSamples: The window size.
//
// Returns:
//   - *StageProfiler: The profiler.
func NewStageProfiler(maxSamples int) *StageProfiler {
	if maxSamples <= 0 {
		maxSamples = 600
	}
	return &StageProfiler{
		maxSamples: maxSamples,
		startTime:  time.Now(),
		timings:    make([]inference.Timing, 0, maxSamples),
		detections: make([]int, 0, maxSamples),
	}
}

// Record adds one result to the window.
func (p *StageProfiler) Record(result *inference.ResultSet) {
	if result == nil {
		return
	}
	p.RecordTiming(result.Timing, result.Count)
}

// RecordTiming adds a timing and its detection count to the window.
func (p *StageProfiler) RecordTiming(timing inference.Timing, detections int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timings = append(p.timings, timing)
	p.detections = append(p.detections, detections)
	if len(p.timings) > p.maxSamples {
		// Remove oldest sample
		p.timings = p.timings[1:]
		p.detections = p.detections[1:]
	}
	p.calls++
}

// Summary returns the statistics of the current window.
func (p *StageProfiler) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Summary{
		Stages:    make(map[string]StageStats, len(Stages)),
		Calls:     p.calls,
		Uptime:    time.Since(p.startTime),
		HeapAlloc: mem.HeapAlloc,
		NumGC:     mem.NumGC,
	}
	if len(p.timings) == 0 {
		return s
	}

	for _, stage := range Stages {
		s.Stages[stage] = p.stageStats(stage)
	}

	total := 0
	for _, d := range p.detections {
		total += d
	}
	s.Detections = float64(total) / float64(len(p.detections))

	avg := inference.Timing{
		Total:  s.Stages[StageTotal].Avg,
		Engine: s.Stages[StageEngine].Avg,
	}
	s.FPS = avg.FPS()
	s.EnginePercentage = avg.EnginePercentage()
	return s
}

func (p *StageProfiler) stageStats(stage string) StageStats {
	st := StageStats{Samples: len(p.timings)}
	var sum float64
	for i, t := range p.timings {
		v := stageValue(t, stage)
		sum += v
		if i == 0 || v < st.Min {
			st.Min = v
		}
		if i == 0 || v > st.Max {
			st.Max = v
		}
	}
	st.Avg = sum / float64(len(p.timings))
	return st
}

func stageValue(t inference.Timing, stage string) float64 {
	switch stage {
	case StageTotal:
		return t.Total
	case StageImageRead:
		return t.ImageRead
	case StagePreprocess:
		return t.Preprocess
	case StageEngine:
		return t.Engine
	case StageResultCopy:
		return t.ResultCopy
	case StagePostprocess:
		return t.Postprocess
	}
	return 0
}

// Reset clears the window and the call count.
func (p *StageProfiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timings = p.timings[:0]
	p.detections = p.detections[:0]
	p.calls = 0
	p.startTime = time.Now()
}

// Report logs the summary, one line per stage.
func (p *StageProfiler) Report(log *logger.Logger) {
	s := p.Summary()
	log.Info("profiler summary",
		"calls", s.Calls,
		"uptime", s.Uptime.Truncate(time.Millisecond).String(),
		"fps", s.FPS,
		"engine_percentage", s.EnginePercentage,
		"avg_detections", s.Detections,
		"heap_alloc", formatBytes(s.HeapAlloc),
		"num_gc", s.NumGC,
	)
	for _, stage := range Stages {
		st, ok := s.Stages[stage]
		if !ok {
			continue
		}
		log.Info("stage timing",
			"stage", stage,
			"avg_ms", st.Avg,
			"min_ms", st.Min,
			"max_ms", st.Max,
			"samples", st.Samples,
		)
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
