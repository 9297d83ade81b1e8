// Package preview writes a WebP poster image for each job, taken from the
// first frame of the walk.
package preview

import (
	"bytes"
	"fmt"
	"io"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"

	"github.com/example/latentwalk/api-go/internal/blob"
	"github.com/example/latentwalk/api-go/internal/synth"
)

// PosterExt is the extension of poster artifacts.
const PosterExt = ".webp"

// Poster encodes frames to lossy WebP and stores them next to the videos.
type Poster struct {
	blobs   blob.LocalFS
	quality float32
}

func New(blobs blob.LocalFS, quality float32) *Poster {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Poster{blobs: blobs, quality: quality}
}

// Encode writes f to w as WebP.
func (p *Poster) Encode(w io.Writer, f synth.Frame) error {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, p.quality)
	if err != nil {
		return fmt.Errorf("failed to create WebP encoder options: %w", err)
	}
	if err := webp.Encode(w, f.Image(), options); err != nil {
		return fmt.Errorf("failed to encode WebP: %w", err)
	}
	return nil
}

// Write stores the poster for jobID and returns its artifact name.
func (p *Poster) Write(jobID string, f synth.Frame) (string, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf, f); err != nil {
		return "", err
	}
	return p.blobs.Put(blob.ArtifactName(jobID, PosterExt), &buf)
}
