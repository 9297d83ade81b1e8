package video

import (
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"os"

	"golang.org/x/image/draw"

	"github.com/example/latentwalk/api-go/internal/model"
	"github.com/example/latentwalk/api-go/internal/synth"
)

// MaxGIFPixels caps frames*width*height for GIF output. The encoder needs the
// whole paletted animation in memory, one byte per pixel.
const MaxGIFPixels = 256 << 20

// OpenGIF is a SinkFactory producing an animated GIF. Frames are quantized to
// the Plan9 palette with Floyd-Steinberg dithering and held in memory until
// Close.
func OpenGIF(ctx context.Context, path string, fps, width, height int) (Sink, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("%w: fps must be > 0", model.ErrValidation)
	}
	delay := 100 / fps
	if delay < 1 {
		delay = 1
	}
	return &gifSink{ctx: ctx, path: path, width: width, height: height, delay: delay}, nil
}

type gifSink struct {
	ctx    context.Context
	path   string
	width  int
	height int
	delay  int
	anim   gif.GIF
}

func (s *gifSink) WriteFrame(frame synth.Frame) error {
	if frame.Width != s.width || frame.Height != s.height {
		return fmt.Errorf("%w: frame is %dx%d, sink expects %dx%d", model.ErrFormat, frame.Width, frame.Height, s.width, s.height)
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	bounds := image.Rect(0, 0, s.width, s.height)
	paletted := image.NewPaletted(bounds, palette.Plan9)
	draw.FloydSteinberg.Draw(paletted, bounds, frame.Image(), image.Point{})
	s.anim.Image = append(s.anim.Image, paletted)
	s.anim.Delay = append(s.anim.Delay, s.delay)
	return nil
}

func (s *gifSink) Close() error {
	file, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("%w: create gif: %v", model.ErrEncoding, err)
	}
	if err := gif.EncodeAll(file, &s.anim); err != nil {
		file.Close()
		return fmt.Errorf("%w: encode gif: %v", model.ErrEncoding, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: close gif: %v", model.ErrEncoding, err)
	}
	s.anim = gif.GIF{}
	return nil
}

func (s *gifSink) Abort() {
	s.anim = gif.GIF{}
}
