package synth

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/example/latentwalk/api-go/internal/model"
)

// MaxRawSide bounds each side of a generator buffer. With three channels the
// sample count cannot overflow int.
const MaxRawSide = 16384

// Raw is a generator's native output: planar CHW samples in [-1, 1].
type Raw struct {
	Channels int       `json:"channels"`
	Height   int       `json:"height"`
	Width    int       `json:"width"`
	Data     []float32 `json:"data"`
}

// Frame is a packed RGB24 image, row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewFrame allocates a black frame.
func NewFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Pix: make([]uint8, width*height*3)}
}

// Image converts f to an *image.RGBA for encoders that need image.Image.
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FrameFromImage packs any image into RGB24, dropping alpha.
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	f := NewFrame(b.Dx(), b.Dy())
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		f.Pix[i] = rgba.Pix[j]
		f.Pix[i+1] = rgba.Pix[j+1]
		f.Pix[i+2] = rgba.Pix[j+2]
	}
	return f
}

func (r Raw) validate() error {
	if r.Channels != 3 {
		return fmt.Errorf("%w: expected 3 channels, got %d", model.ErrSynthesis, r.Channels)
	}
	if r.Height <= 0 || r.Width <= 0 || r.Height > MaxRawSide || r.Width > MaxRawSide {
		return fmt.Errorf("%w: invalid buffer size %dx%d", model.ErrSynthesis, r.Width, r.Height)
	}
	if want := r.Channels * r.Height * r.Width; len(r.Data) != want {
		return fmt.Errorf("%w: buffer holds %d samples, want %d", model.ErrSynthesis, len(r.Data), want)
	}
	for i, v := range r.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite sample at index %d", model.ErrSynthesis, i)
		}
	}
	return nil
}

// toFrame maps [-1, 1] to 0..255, clamping out-of-range samples.
func (r Raw) toFrame() Frame {
	f := NewFrame(r.Width, r.Height)
	plane := r.Width * r.Height
	for p := 0; p < plane; p++ {
		for c := 0; c < 3; c++ {
			f.Pix[p*3+c] = toByte(r.Data[c*plane+p])
		}
	}
	return f
}

func toByte(v float32) uint8 {
	x := (v + 1) / 2
	if x < 0 {
		x = 0
	} else if x > 1 {
		x = 1
	}
	return uint8(x * 255)
}

// resize scales f bilinearly to size x size. Frames already at that size are
// returned unchanged.
func resize(f Frame, size int) Frame {
	if f.Width == size && f.Height == size {
		return f
	}
	src := f.Image()
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return FrameFromImage(dst)
}
