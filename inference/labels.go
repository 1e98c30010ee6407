package inference

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// UnknownLabel is reported for class ids without a label.
const UnknownLabel = "unknown"

// LabelMap maps class ids to display names. It is read-only once a session owns it.
type LabelMap map[int]string

// Name returns the label of id, or UnknownLabel.
func (m LabelMap) Name(id int) string {
	if name, ok := m[id]; ok {
		return name
	}
	return UnknownLabel
}

// LoadLabels reads a label file: one class name per line, the 0-based line index is
// the class id.
//
// Arguments:
//   - path: Path to the label file.
//
// Returns:
//   - LabelMap: The labels.
//   - error: ErrResource if the file is missing, unreadable or has no labels.
func LoadLabels(path string) (LabelMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, categorize(ErrResource, err, "open label file")
	}
	defer f.Close()

	labels, err := ParseLabels(f)
	if err != nil {
		return nil, categorize(ErrResource, err, path)
	}
	return labels, nil
}

// ParseLabels reads newline-delimited labels. Trailing whitespace and carriage
// returns are trimmed; trailing empty lines are ignored.
func ParseLabels(r io.Reader) (LabelMap, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		names = append(names, strings.TrimRight(scanner.Text(), " \t\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}

	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return nil, errors.New("label file is empty")
	}

	labels := make(LabelMap, len(names))
	for i, name := range names {
		labels[i] = name
	}
	return labels, nil
}

// COCOLabels returns the 80 COCO class names in the order YOLO models emit them.
func COCOLabels() LabelMap {
	labels := make(LabelMap, len(cocoNames))
	for i, name := range cocoNames {
		labels[i] = name
	}
	return labels
}

var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
