// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-seg/images"
)

// ErrEmptyBuffer is returned when a detection buffer is nil or has no count element.
var ErrEmptyBuffer = errors.New("detection buffer is empty")

// NMSConfig defines parameters for parsing and Non-Maximum Suppression.
type NMSConfig struct {
	// Detections with confidence at or below this value are dropped.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// Overlap threshold for suppression within a class.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Upper bound on the record count read from a buffer. 0 disables the cap.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
	// Number of goroutines suppressing class groups in parallel. Values below 2 run
	// sequentially.
	NumWorkers int `json:"num_workers" yaml:"num_workers"`
}

// DefaultNMSConfig returns the thresholds used when none are configured.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		ConfidenceThreshold: 0.5,
		IoUThreshold:        0.5,
		MaxDetections:       DefaultMaxDetections,
		NumWorkers:          1,
	}
}

// ParseDetections scans the records of a raw detection buffer and keeps those whose
// confidence is strictly above the threshold.
//
// The buffer starts with the record count, followed by records of Stride floats. The
// count is capped by config.MaxDetections and by the number of complete records the
// buffer holds; a NaN or negative count reads as 0. Records with NaN confidence or
// an invalid class id are skipped silently.
//
// Arguments:
//   - raw: The detection buffer of a single image.
//   - config: Parsing configuration.
//
// Returns:
//   - []Detection: The surviving records in buffer order.
//   - error: ErrEmptyBuffer if raw has no count element.
func ParseDetections(raw []float32, config NMSConfig) ([]Detection, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyBuffer
	}

	n := recordCount(raw, config.MaxDetections)
	if n == 0 {
		return nil, nil
	}

	detections := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		rec := raw[1+i*Stride : 1+(i+1)*Stride]

		conf := rec[offsetConfidence]
		if math32.IsNaN(conf) || conf <= config.ConfidenceThreshold {
			continue
		}

		class := rec[offsetClass]
		if math32.IsNaN(class) || class < 0 {
			continue
		}

		d := Detection{
			Box:        images.Box{X: rec[0], Y: rec[1], W: rec[2], H: rec[3]},
			Confidence: conf,
			ClassID:    int(class),
		}
		copy(d.Coefficients[:], rec[offsetCoefficients:])
		detections = append(detections, d)
	}

	return detections, nil
}

func recordCount(raw []float32, maxDetections int) int {
	count := raw[0]
	if math32.IsNaN(count) || count <= 0 {
		return 0
	}

	n := (len(raw) - 1) / Stride
	if maxDetections > 0 {
		n = min(n, maxDetections)
	}
	if count < float32(n) {
		n = int(count)
	}
	return n
}

// ApplyGreedyNMS performs class-wise greedy Non-Maximum Suppression.
//
// Detections are grouped by class id and groups are visited in ascending class order.
// Within a group, detections are ordered by descending confidence with exact ties
// broken by ascending box X. Each kept detection suppresses every later detection of
// the same class whose IoU with it exceeds config.IoUThreshold. Survivors are
// concatenated group by group without a global re-sort.
//
// Running ApplyGreedyNMS on its own output returns the same sequence.
//
// Arguments:
//   - detections: Detections in any order.
//   - config: NMS configuration.
//
// Returns:
//   - []Detection: Filtered detections. nil if there are none.
func ApplyGreedyNMS(detections []Detection, config NMSConfig) []Detection {
	if len(detections) == 0 {
		return nil
	}

	groups := groupByClass(detections)
	kept := make([][]Detection, len(groups))

	if config.NumWorkers < 2 || len(groups) < 2 {
		for i, g := range groups {
			kept[i] = suppress(g, config.IoUThreshold)
		}
	} else {
		// Every group writes only its own slot, so the output order does not depend
		// on scheduling.
		jobs := make(chan int, len(groups))
		for i := range groups {
			jobs <- i
		}
		close(jobs)

		var wg sync.WaitGroup
		for w := 0; w < min(config.NumWorkers, len(groups)); w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					kept[i] = suppress(groups[i], config.IoUThreshold)
				}
			}()
		}
		wg.Wait()
	}

	total := 0
	for _, k := range kept {
		total += len(k)
	}
	filtered := make([]Detection, 0, total)
	for _, k := range kept {
		filtered = append(filtered, k...)
	}
	return filtered
}

// groupByClass partitions detections by class id, ordered by ascending id. Each group
// is a fresh slice, so sorting it leaves the input untouched.
func groupByClass(detections []Detection) [][]Detection {
	byClass := make(map[int][]Detection)
	for _, d := range detections {
		byClass[d.ClassID] = append(byClass[d.ClassID], d)
	}

	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	groups := make([][]Detection, len(classes))
	for i, c := range classes {
		groups[i] = byClass[c]
	}
	return groups
}

// suppress sorts one class group and runs greedy suppression over it.
func suppress(group []Detection, iouThreshold float32) []Detection {
	sort.SliceStable(group, func(i, j int) bool {
		if group[i].Confidence != group[j].Confidence {
			return group[i].Confidence > group[j].Confidence
		}
		return group[i].Box.X < group[j].Box.X
	})

	n := len(group)
	used := make([]bool, n)
	filtered := make([]Detection, 0, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := group[i]
		filtered = append(filtered, anchor)
		used[i] = true
		anchorRect := anchor.Box.Rect()

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if images.CalculateIoU(anchorRect, group[j].Box.Rect()) > iouThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}

// ParseAndSuppress parses a single image's detection buffer and applies class-wise
// NMS to the result.
//
// Arguments:
//   - raw: The detection buffer.
//   - config: Thresholds and limits.
//
// Returns:
//   - []Detection: Survivors grouped by ascending class id, nil when there are none.
//   - error: ErrEmptyBuffer if raw is nil or empty.
func ParseAndSuppress(raw []float32, config NMSConfig) ([]Detection, error) {
	detections, err := ParseDetections(raw, config)
	if err != nil {
		return nil, err
	}
	return ApplyGreedyNMS(detections, config), nil
}

// BatchParseAndSuppress applies ParseAndSuppress to each image of a batched buffer.
// Image i's buffer starts at offset i*bufferStride.
//
// Arguments:
//   - raw: The batched detection buffer.
//   - batch: Number of images to process.
//   - bufferStride: Floats per image, normally BufferSize(maxDetections).
//   - config: Thresholds and limits.
//
// Returns:
//   - [][]Detection: One result per image.
//   - error: If the batch geometry is invalid or raw is too short.
func BatchParseAndSuppress(
	raw []float32,
	batch int,
	bufferStride int,
	config NMSConfig,
) ([][]Detection, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyBuffer
	}
	if batch <= 0 || bufferStride <= 0 {
		return nil, errors.Errorf("invalid batch geometry: batch=%d stride=%d", batch, bufferStride)
	}
	if len(raw) < batch*bufferStride {
		return nil, errors.Errorf(
			"detection buffer holds %d floats, batch of %d needs %d",
			len(raw), batch, batch*bufferStride,
		)
	}

	results := make([][]Detection, batch)
	for i := 0; i < batch; i++ {
		dets, err := ParseAndSuppress(raw[i*bufferStride:(i+1)*bufferStride], config)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		results[i] = dets
	}
	return results, nil
}
