package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/example/latentwalk/api-go/internal/model"
	"github.com/example/latentwalk/api-go/internal/synth"
)

var commandContext = exec.CommandContext

// FFmpegOption configures the ffmpeg encoder.
type FFmpegOption func(*FFmpeg)

// WithBinary overrides the ffmpeg executable.
func WithBinary(binary string) FFmpegOption {
	return func(f *FFmpeg) {
		if binary != "" {
			f.binary = binary
		}
	}
}

// WithCRF sets the libx264 constant rate factor.
func WithCRF(crf int) FFmpegOption {
	return func(f *FFmpeg) {
		if crf >= 0 && crf <= 51 {
			f.crf = crf
		}
	}
}

// WithPreset sets the libx264 speed preset.
func WithPreset(preset string) FFmpegOption {
	return func(f *FFmpeg) {
		if preset != "" {
			f.preset = preset
		}
	}
}

// FFmpeg pipes raw RGB24 frames into an ffmpeg process producing H.264 MP4.
type FFmpeg struct {
	binary string
	crf    int
	preset string
}

func NewFFmpeg(opts ...FFmpegOption) *FFmpeg {
	f := &FFmpeg{binary: "ffmpeg", crf: 18, preset: "medium"}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Available reports whether the configured binary is on PATH.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.binary)
	return err == nil
}

func (f *FFmpeg) args(path string, fps, width, height int) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "-",
		"-an",
		// yuv420p needs even dimensions.
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264",
		"-preset", f.preset,
		"-crf", strconv.Itoa(f.crf),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-f", "mp4",
		path,
	}
}

// Open starts ffmpeg. It satisfies SinkFactory.
func (f *FFmpeg) Open(ctx context.Context, path string, fps, width, height int) (Sink, error) {
	cmd := commandContext(ctx, f.binary, f.args(path, fps, width, height)...) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdin: %v", model.ErrEncoding, err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", model.ErrEncoding, err)
	}
	return &ffmpegSink{cmd: cmd, stdin: stdin, stderr: stderr, width: width, height: height}, nil
}

type ffmpegSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	width  int
	height int
	done   bool
}

func (s *ffmpegSink) WriteFrame(frame synth.Frame) error {
	if frame.Width != s.width || frame.Height != s.height {
		return fmt.Errorf("%w: frame is %dx%d, sink expects %dx%d", model.ErrFormat, frame.Width, frame.Height, s.width, s.height)
	}
	if _, err := s.stdin.Write(frame.Pix); err != nil {
		return fmt.Errorf("%w: write frame to ffmpeg: %v%s", model.ErrEncoding, err, s.stderr.suffix())
	}
	return nil
}

func (s *ffmpegSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	closeErr := s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("%w: ffmpeg exited: %v%s", model.ErrEncoding, err, s.stderr.suffix())
	}
	if closeErr != nil && !errors.Is(closeErr, io.ErrClosedPipe) {
		return fmt.Errorf("%w: close ffmpeg stdin: %v", model.ErrEncoding, closeErr)
	}
	return nil
}

func (s *ffmpegSink) Abort() {
	if s.done {
		return
	}
	s.done = true
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) suffix() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := strings.TrimSpace(b.buf.String())
	if msg == "" {
		return ""
	}
	return ": " + msg
}
