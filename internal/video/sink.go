// Package video streams synthesized frames into an encoded container.
package video

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/latentwalk/api-go/internal/model"
	"github.com/example/latentwalk/api-go/internal/synth"
)

// Sink consumes frames of a fixed size and writes them to one file.
type Sink interface {
	WriteFrame(synth.Frame) error
	// Close flushes and finishes the container.
	Close() error
	// Abort discards everything written so far.
	Abort()
}

// SinkFactory opens a sink writing to path. width and height are those of the
// first frame.
type SinkFactory func(ctx context.Context, path string, fps, width, height int) (Sink, error)

// Format describes one supported output container.
type Format struct {
	Name        string
	Ext         string
	ContentType string
}

var (
	MP4 = Format{Name: "mp4", Ext: ".mp4", ContentType: "video/mp4"}
	GIF = Format{Name: "gif", Ext: ".gif", ContentType: "image/gif"}
)

// FormatByName resolves the [video] format setting.
func FormatByName(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mp4", "":
		return MP4, nil
	case "gif":
		return GIF, nil
	}
	return Format{}, fmt.Errorf("%w: unsupported video format %q", model.ErrValidation, name)
}

// ContentTypeForExt maps an artifact extension to its MIME type.
func ContentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case MP4.Ext:
		return MP4.ContentType
	case GIF.Ext:
		return GIF.ContentType
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
