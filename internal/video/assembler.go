package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/example/latentwalk/api-go/internal/logging"
	"github.com/example/latentwalk/api-go/internal/model"
	"github.com/example/latentwalk/api-go/internal/synth"
)

// Assembler opens encoding sessions that write through a hidden partial file
// and publish the final name only on success.
type Assembler struct {
	open   SinkFactory
	logger *slog.Logger
}

func NewAssembler(open SinkFactory, logger *slog.Logger) *Assembler {
	return &Assembler{open: open, logger: logging.NewComponentLogger(logger, "video")}
}

// PartialPath returns the temporary name used while path is being encoded.
func PartialPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".partial")
}

// Open begins an encoding session for path at fps frames per second.
func (a *Assembler) Open(ctx context.Context, path string, fps int) (*Handle, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("%w: fps must be > 0, got %d", model.ErrValidation, fps)
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: output path is required", model.ErrValidation)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", model.ErrEncoding, err)
	}
	tmp := PartialPath(path)
	_ = os.Remove(tmp)
	return &Handle{
		ctx:    ctx,
		open:   a.open,
		logger: a.logger.With(logging.String("path", path)),
		path:   path,
		tmp:    tmp,
		fps:    fps,
	}, nil
}

// Handle is one encoding session. Methods are safe to call from multiple
// goroutines but frames are written in the order Append is called.
type Handle struct {
	mu     sync.Mutex
	ctx    context.Context
	open   SinkFactory
	logger *slog.Logger

	path   string
	tmp    string
	fps    int
	sink   Sink
	width  int
	height int
	frames int

	finalized bool
	closed    bool
}

// Frames returns the number of frames accepted so far.
func (h *Handle) Frames() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

// Append writes one frame. The first frame fixes the output resolution.
func (h *Handle) Append(frame synth.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.finalized {
		return fmt.Errorf("%w: encoder already closed", model.ErrEncoding)
	}
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pix) != frame.Width*frame.Height*3 {
		return fmt.Errorf("%w: malformed %dx%d frame with %d bytes", model.ErrFormat, frame.Width, frame.Height, len(frame.Pix))
	}
	if h.sink == nil {
		sink, err := h.open(h.ctx, h.tmp, h.fps, frame.Width, frame.Height)
		if err != nil {
			if errors.Is(err, model.ErrEncoding) {
				return err
			}
			return fmt.Errorf("%w: open sink: %v", model.ErrEncoding, err)
		}
		h.sink = sink
		h.width, h.height = frame.Width, frame.Height
		h.logger.Debug("encoder opened",
			logging.Int("width", h.width),
			logging.Int("height", h.height),
			logging.Int("fps", h.fps),
		)
	} else if frame.Width != h.width || frame.Height != h.height {
		return fmt.Errorf("%w: frame is %dx%d, video is %dx%d", model.ErrFormat, frame.Width, frame.Height, h.width, h.height)
	}

	if err := h.sink.WriteFrame(frame); err != nil {
		if errors.Is(err, model.ErrEncoding) || errors.Is(err, model.ErrFormat) {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrEncoding, err)
	}
	h.frames++
	return nil
}

// Finalize flushes the sink and renames the partial file into place. On any
// failure the partial file is removed.
func (h *Handle) Finalize() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finalized {
		return h.path, nil
	}
	if h.closed {
		return "", fmt.Errorf("%w: encoder already closed", model.ErrEncoding)
	}
	if h.frames == 0 || h.sink == nil {
		h.discardLocked()
		return "", fmt.Errorf("%w: no frames were written", model.ErrEncoding)
	}

	sink := h.sink
	h.sink = nil
	if err := sink.Close(); err != nil {
		h.discardLocked()
		if errors.Is(err, model.ErrEncoding) {
			return "", err
		}
		return "", fmt.Errorf("%w: finish container: %v", model.ErrEncoding, err)
	}
	if err := os.Rename(h.tmp, h.path); err != nil {
		h.discardLocked()
		return "", fmt.Errorf("%w: publish artifact: %v", model.ErrEncoding, err)
	}
	h.finalized = true
	h.logger.Debug("encoder finalized", logging.Int("frames", h.frames))
	return h.path, nil
}

// Close releases the session. Unless Finalize succeeded, everything written
// is discarded. Close is idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if !h.finalized {
		h.discardLocked()
	}
	h.closed = true
	return nil
}

func (h *Handle) discardLocked() {
	if h.sink != nil {
		h.sink.Abort()
		h.sink = nil
	}
	if err := os.Remove(h.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.logger.Warn("failed to remove partial output", logging.Error(err))
	}
}
