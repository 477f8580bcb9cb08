// Package preprocess turns raw camera frames into the normalized NCHW tensors
// the nail-biting classifier consumes.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ErrMalformedFrame is returned when a frame cannot be resized or converted.
// The pipeline drops such frames without further handling.
var ErrMalformedFrame = errors.New("malformed frame")

// Per-channel normalization constants (ImageNet statistics), in RGB order.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Tensor is a 1x3xSizexSize planar RGB float32 buffer.
type Tensor struct {
	Size int
	Data []float32
}

// NewTensor allocates a zeroed tensor for a square image of the given size.
func NewTensor(size int) *Tensor {
	return &Tensor{
		Size: size,
		Data: make([]float32, 3*size*size),
	}
}

// Shape returns the NCHW shape of the tensor.
func (t *Tensor) Shape() []int {
	return []int{1, 3, t.Size, t.Size}
}

// Plane returns the slice holding channel c (0=R, 1=G, 2=B).
func (t *Tensor) Plane(c int) []float32 {
	n := t.Size * t.Size
	return t.Data[c*n : (c+1)*n]
}

// Preprocessor resizes frames to a fixed square size and normalizes them.
// Tensors are pooled; callers hand them back with Release once inference is done.
type Preprocessor struct {
	size int
	pool sync.Pool
}

// New creates a Preprocessor producing size x size tensors.
func New(size int) *Preprocessor {
	p := &Preprocessor{size: size}
	p.pool.New = func() any {
		return NewTensor(size)
	}
	return p
}

// Size returns the square edge length of produced tensors.
func (p *Preprocessor) Size() int {
	return p.size
}

// Process converts a BGR, BGRA or grayscale 8-bit frame into a normalized tensor.
// The frame is not modified or retained.
func (p *Preprocessor) Process(frame *gocv.Mat) (*Tensor, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrMalformedFrame
	}

	rgb := gocv.NewMat()
	defer rgb.Close()

	switch frame.Type() {
	case gocv.MatTypeCV8UC3:
		gocv.CvtColor(*frame, &rgb, gocv.ColorBGRToRGB)
	case gocv.MatTypeCV8UC4:
		gocv.CvtColor(*frame, &rgb, gocv.ColorBGRAToRGB)
	case gocv.MatTypeCV8UC1:
		gocv.CvtColor(*frame, &rgb, gocv.ColorGrayToBGR)
	default:
		return nil, fmt.Errorf("%w: unsupported mat type %v", ErrMalformedFrame, frame.Type())
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(rgb, &resized, image.Pt(p.size, p.size), 0, 0, gocv.InterpolationLinear)

	if resized.Empty() {
		return nil, fmt.Errorf("%w: resize produced an empty image", ErrMalformedFrame)
	}

	pix := resized.ToBytes()
	t := p.pool.Get().(*Tensor)
	if err := NormalizeRGB(pix, p.size, p.size, t); err != nil {
		p.Release(t)
		return nil, err
	}
	return t, nil
}

// Release returns a tensor to the pool. Tensors of a foreign size are dropped.
func (p *Preprocessor) Release(t *Tensor) {
	if t == nil || t.Size != p.size {
		return
	}
	p.pool.Put(t)
}

// NormalizeRGB writes interleaved 8-bit RGB pixels into t as planar
// (x/255 - mean_c) / std_c values.
func NormalizeRGB(pix []byte, width, height int, t *Tensor) error {
	n := width * height
	if width != t.Size || height != t.Size {
		return fmt.Errorf("%w: %dx%d does not fit a %d tensor", ErrMalformedFrame, width, height, t.Size)
	}
	if len(pix) != 3*n {
		return fmt.Errorf("%w: got %d bytes for %dx%d RGB", ErrMalformedFrame, len(pix), width, height)
	}

	var scale, offset [3]float32
	for c := 0; c < 3; c++ {
		scale[c] = 1 / (255 * Std[c])
		offset[c] = -Mean[c] / Std[c]
	}

	r, g, b := t.Plane(0), t.Plane(1), t.Plane(2)
	for i := 0; i < n; i++ {
		r[i] = float32(pix[3*i])*scale[0] + offset[0]
		g[i] = float32(pix[3*i+1])*scale[1] + offset[1]
		b[i] = float32(pix[3*i+2])*scale[2] + offset[2]
	}
	return nil
}
