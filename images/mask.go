package images

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrInvalidMask is returned when a mask's buffer does not match its dimensions.
var ErrInvalidMask = errors.New("invalid mask")

// maskPool recycles mask buffers between inference calls. Masks of one session are
// all the same size, so a buffer is almost always reusable as-is.
var maskPool = sync.Pool{
	New: func() interface{} {
		return new([]float32)
	},
}

// Mask is a dense row-major grid of probabilities in [0, 1].
type Mask struct {
	// Width is the number of columns.
	Width int
	// Height is the number of rows.
	Height int
	// Data holds Width*Height values, row-major.
	Data []float32
}

// NewMask returns a zeroed width x height mask backed by a pooled buffer. Call Release
// when done with it. Non-positive dimensions produce an empty mask.
func NewMask(width, height int) *Mask {
	if width <= 0 || height <= 0 {
		return &Mask{}
	}

	n := width * height
	buf := maskPool.Get().(*[]float32)
	data := *buf
	if cap(data) < n {
		data = make([]float32, n)
	} else {
		data = data[:n]
		clear(data)
	}

	return &Mask{Width: width, Height: height, Data: data}
}

// Validate checks that the mask has positive dimensions and a matching buffer.
func (m *Mask) Validate() error {
	if m == nil {
		return errors.Wrap(ErrInvalidMask, "mask is nil")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return errors.Wrapf(ErrInvalidMask, "dimensions %dx%d", m.Width, m.Height)
	}
	if len(m.Data) != m.Width*m.Height {
		return errors.Wrapf(
			ErrInvalidMask,
			"buffer holds %d values, want %d", len(m.Data), m.Width*m.Height,
		)
	}
	return nil
}

// Empty reports whether the mask holds no pixels.
func (m *Mask) Empty() bool {
	return m == nil || len(m.Data) == 0
}

// At returns the value at (x, y), or 0 outside the grid.
func (m *Mask) At(x, y int) float32 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Data[y*m.Width+x]
}

// Set writes v at (x, y). Out of range coordinates are ignored.
func (m *Mask) Set(x, y int, v float32) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Data[y*m.Width+x] = v
}

// Clone copies the mask into a new pooled buffer.
func (m *Mask) Clone() (*Mask, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := NewMask(m.Width, m.Height)
	copy(out.Data, m.Data)
	return out, nil
}

// Threshold counts the pixels strictly above t.
func (m *Mask) Threshold(t float32) int {
	n := 0
	for _, v := range m.Data {
		if v > t {
			n++
		}
	}
	return n
}

// Release returns the buffer to the pool and clears the mask. It is safe to call more
// than once and on a nil mask.
func (m *Mask) Release() {
	if m == nil || m.Data == nil {
		return
	}
	data := m.Data[:0]
	maskPool.Put(&data)
	m.Data = nil
	m.Width = 0
	m.Height = 0
}
