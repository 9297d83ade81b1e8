package preview_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/example/latentwalk/api-go/internal/blob"
	"github.com/example/latentwalk/api-go/internal/preview"
	"github.com/example/latentwalk/api-go/internal/synth"
)

func gradient(w, h int) synth.Frame {
	f := synth.NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			f.Pix[i] = uint8(x * 255 / w)
			f.Pix[i+1] = uint8(y * 255 / h)
			f.Pix[i+2] = 128
		}
	}
	return f
}

func TestPosterWritesWebP(t *testing.T) {
	fs := blob.LocalFS{Root: t.TempDir()}
	p := preview.New(fs, 75)

	name, err := p.Write("job42", gradient(32, 32))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if name != "latent_walk_job42.webp" {
		t.Fatalf("name = %q", name)
	}
	f, err := fs.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if len(data) < 12 || !bytes.Equal(data[:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WEBP")) {
		t.Fatalf("not a webp container: % x", data[:min(len(data), 16)])
	}
}

func TestPosterClampsQuality(t *testing.T) {
	var buf bytes.Buffer
	if err := preview.New(blob.LocalFS{Root: t.TempDir()}, 500).Encode(&buf, gradient(8, 8)); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("empty output")
	}
}
