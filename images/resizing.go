package images

import (
	"image"
	"unsafe"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ToMat copies the mask into a single channel float32 Mat.
//
// Returns:
//   - gocv.Mat: A Height x Width CV32FC1 Mat. The caller closes it.
//   - error: If the mask is invalid or the Mat cannot be created.
func (m *Mask) ToMat() (gocv.Mat, error) {
	if err := m.Validate(); err != nil {
		return gocv.NewMat(), err
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(&m.Data[0])), len(m.Data)*4)
	buf := make([]byte, len(raw))
	copy(buf, raw)

	mat, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV32FC1, buf)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "mask to mat")
	}
	return mat, nil
}

// MaskFromMat copies a continuous CV32FC1 Mat into a new pooled mask.
//
// Arguments:
//   - mat: The source Mat.
//
// Returns:
//   - *Mask: A Cols x Rows mask. The caller releases it.
//   - error: If the Mat is empty, not CV32FC1 or not continuous.
func MaskFromMat(mat gocv.Mat) (*Mask, error) {
	if mat.Empty() {
		return nil, errors.Wrap(ErrInvalidMask, "mat is empty")
	}
	if mat.Type() != gocv.MatTypeCV32FC1 {
		return nil, errors.Wrapf(ErrInvalidMask, "mat type %v", mat.Type())
	}

	data, err := mat.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "mat data")
	}

	out := NewMask(mat.Cols(), mat.Rows())
	if len(data) != len(out.Data) {
		out.Release()
		return nil, errors.Wrapf(ErrInvalidMask, "mat holds %d values", len(data))
	}
	copy(out.Data, data)
	return out, nil
}

// Resize returns a width x height copy of the mask, bilinearly interpolated.
//
// Arguments:
//   - width, height: The output size.
//
// Returns:
//   - *Mask: The resized mask. The caller releases it.
//   - error: If the mask or the output size is invalid.
func (m *Mask) Resize(width, height int) (*Mask, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "resize to %dx%d", width, height)
	}

	src, err := m.ToMat()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	return MaskFromMat(dst)
}

// remapMask upsamples m to the model input, crops the content region and resizes it
// to the original image.
func (l Letterbox) remapMask(m *Mask) (*Mask, error) {
	content := l.ContentRect()
	if content.Empty() {
		return NewMask(l.SourceWidth, l.SourceHeight), nil
	}

	src, err := m.ToMat()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	full := gocv.NewMat()
	defer full.Close()
	gocv.Resize(src, &full, image.Pt(l.ModelWidth, l.ModelHeight), 0, 0, gocv.InterpolationLinear)

	region := full.Region(content)
	defer region.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(region, &dst, image.Pt(l.SourceWidth, l.SourceHeight), 0, 0, gocv.InterpolationLinear)

	return MaskFromMat(dst)
}
