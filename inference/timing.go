package inference

import (
	"fmt"
	"time"
)

// Timing is the latency breakdown of one inference call, in fractional milliseconds.
type Timing struct {
	// Total is measured independently from the start to the end of the call.
	Total float64 `json:"total_ms"`
	// ImageRead is the time spent reading and decoding the image file. 0 for images
	// passed in memory.
	ImageRead float64 `json:"image_read_ms"`
	// Preprocess is the letterbox time.
	Preprocess float64 `json:"preprocess_ms"`
	// Engine is the model run time, up to the point both outputs are complete.
	Engine float64 `json:"engine_ms"`
	// Postprocess covers NMS, mask decoding and result construction.
	Postprocess float64 `json:"postprocess_ms"`
	// ResultCopy is the time spent copying engine outputs into host buffers.
	ResultCopy float64 `json:"result_copy_ms"`
}

// ElapsedMs returns the time since start in fractional milliseconds.
func ElapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}

// Stages returns the sum of the five stage fields.
func (t Timing) Stages() float64 {
	return t.ImageRead + t.Preprocess + t.Engine + t.Postprocess + t.ResultCopy
}

// FPS returns the throughput implied by Total, or 0 when Total is 0.
func (t Timing) FPS() float64 {
	if t.Total <= 0 {
		return 0
	}
	return 1000 / t.Total
}

// EnginePercentage returns the share of Total spent in the engine, or 0.
func (t Timing) EnginePercentage() float64 {
	if t.Total <= 0 {
		return 0
	}
	return t.Engine / t.Total * 100
}

func (t Timing) String() string {
	return fmt.Sprintf(
		"total=%.2fms read=%.2fms preprocess=%.2fms engine=%.2fms copy=%.2fms postprocess=%.2fms",
		t.Total, t.ImageRead, t.Preprocess, t.Engine, t.ResultCopy, t.Postprocess,
	)
}
