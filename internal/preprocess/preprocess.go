// Package preprocess turns decoded images into the fixed-shape tensors the
// trained models were exported with.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"reflect"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/example/mushroom-check/internal/analysis"
)

const (
	// InputSize is the square spatial size expected by both models.
	InputSize = 224
	// Channels is the number of colour channels (RGB).
	Channels = 3
)

// ResizeFilter is the interpolation used to reach InputSize. The models were
// trained on bicubic resizes; changing this silently changes their accuracy.
var ResizeFilter = imaging.CatmullRom

// Layout describes the axis order of a 4D image tensor.
type Layout int

const (
	// NHWC is [batch, height, width, channels], the TFLite export layout.
	NHWC Layout = iota
	// NCHW is [batch, channels, height, width], common for ONNX exports.
	NCHW
)

// Tensor is a float32 image tensor with batch dimension 1.
type Tensor struct {
	Data   []float32
	Shape  []int64
	Layout Layout
}

// Decode reads an encoded image, applying any EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", analysis.ErrInvalidImage)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrInvalidImage, err)
	}
	if err := Validate(img); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate rejects absent and zero-area images.
func Validate(img image.Image) error {
	if isNil(img) {
		return fmt.Errorf("%w: no image provided", analysis.ErrInvalidImage)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: zero-area image %dx%d", analysis.ErrInvalidImage, b.Dx(), b.Dy())
	}
	return nil
}

// isNil also catches a nil pointer stored in the interface, such as a
// (*image.RGBA)(nil), whose Bounds method would dereference it.
func isNil(img image.Image) bool {
	if img == nil {
		return true
	}
	v := reflect.ValueOf(img)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return v.IsNil()
	}
	return false
}

// Preprocessor resizes images to a fixed square and scales pixels to [0,1].
type Preprocessor struct {
	size int
}

// New returns a preprocessor for InputSize×InputSize models.
func New() *Preprocessor {
	return &Preprocessor{size: InputSize}
}

// NewWithSize returns a preprocessor for size×size models.
func NewWithSize(size int) *Preprocessor {
	if size <= 0 {
		size = InputSize
	}
	return &Preprocessor{size: size}
}

// Size returns the spatial size of produced tensors.
func (p *Preprocessor) Size() int {
	return p.size
}

// Tensor produces an NHWC tensor of shape [1, size, size, 3]. The alpha
// channel, if any, is dropped.
func (p *Preprocessor) Tensor(img image.Image) (*Tensor, error) {
	if err := Validate(img); err != nil {
		return nil, err
	}

	resized := imaging.Resize(img, p.size, p.size, ResizeFilter)
	data := make([]float32, p.size*p.size*Channels)
	i := 0
	for y := 0; y < p.size; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+p.size*4]
		for x := 0; x < p.size; x++ {
			px := row[x*4 : x*4+3]
			data[i] = float32(px[0]) / 255.0
			data[i+1] = float32(px[1]) / 255.0
			data[i+2] = float32(px[2]) / 255.0
			i += Channels
		}
	}

	return &Tensor{
		Data:   data,
		Shape:  []int64{1, int64(p.size), int64(p.size), Channels},
		Layout: NHWC,
	}, nil
}

// ToNCHW returns a channel-first copy of an NHWC tensor. NCHW tensors are
// returned unchanged.
func (t *Tensor) ToNCHW() *Tensor {
	if t.Layout == NCHW {
		return t
	}
	h, w, c := int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3])
	plane := h * w
	out := make([]float32, len(t.Data))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := (y*w + x) * c
			dst := y*w + x
			for ch := 0; ch < c; ch++ {
				out[ch*plane+dst] = t.Data[src+ch]
			}
		}
	}
	return &Tensor{
		Data:   out,
		Shape:  []int64{t.Shape[0], int64(c), int64(h), int64(w)},
		Layout: NCHW,
	}
}
