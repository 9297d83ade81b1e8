package synth

// Filter is a postprocessing stage applied to every synthesized frame.
type Filter interface {
	Name() string
	Apply(Frame) Frame
}

// Identity leaves frames untouched.
type Identity struct{}

func (Identity) Name() string { return "none" }

func (Identity) Apply(f Frame) Frame { return f }

// Sharpen convolves each channel with a fixed 3x3 high-pass kernel. Border
// pixels sample their nearest in-bounds neighbour.
type Sharpen struct{}

var sharpenKernel = [3][3]int{
	{-1, -1, -1},
	{-1, 9, -1},
	{-1, -1, -1},
}

func (Sharpen) Name() string { return "kernel" }

func (Sharpen) Apply(f Frame) Frame {
	out := NewFrame(f.Width, f.Height)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			for c := 0; c < 3; c++ {
				acc := 0
				for ky := -1; ky <= 1; ky++ {
					sy := clampInt(y+ky, 0, f.Height-1)
					for kx := -1; kx <= 1; kx++ {
						sx := clampInt(x+kx, 0, f.Width-1)
						acc += sharpenKernel[ky+1][kx+1] * int(f.Pix[(sy*f.Width+sx)*3+c])
					}
				}
				out.Pix[(y*f.Width+x)*3+c] = uint8(clampInt(acc, 0, 255))
			}
		}
	}
	return out
}

// FilterByName resolves the [synthesis] sharpen_filter setting.
func FilterByName(name string) (Filter, bool) {
	switch name {
	case "kernel":
		return Sharpen{}, true
	case "none", "":
		return Identity{}, true
	}
	return nil, false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
