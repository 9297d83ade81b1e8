// Package synth turns latent vectors into RGB frames.
//
// The image model itself is external and reached through the Generator
// interface. This package validates and normalizes what the generator returns,
// scales it to the requested resolution, and owns the optional sharpen stage.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/latentwalk/api-go/internal/latent"
	"github.com/example/latentwalk/api-go/internal/logging"
	"github.com/example/latentwalk/api-go/internal/model"
)

// Generator is the external image model: one latent vector in, one native
// buffer out.
type Generator interface {
	Generate(ctx context.Context, z latent.Vector) (Raw, error)
	// Dim is the latent dimensionality the generator expects.
	Dim() int
}

// Reentrant is implemented by generators that tolerate concurrent Generate
// calls.
type Reentrant interface {
	Reentrant() bool
}

// IsReentrant reports whether g declared itself safe for concurrent use.
func IsReentrant(g Generator) bool {
	r, ok := g.(Reentrant)
	return ok && r.Reentrant()
}

// Options configures a Synthesizer.
type Options struct {
	// Sharpen runs when a job asks for sharpening. Nil means Identity.
	Sharpen Filter
	// MaxAttempts bounds Generate calls per frame; values < 1 mean 1.
	MaxAttempts int
	Logger      *slog.Logger
}

// Synthesizer wraps a Generator with validation, normalization and resizing.
type Synthesizer struct {
	gen         Generator
	sharpen     Filter
	maxAttempts int
	logger      *slog.Logger
}

func New(gen Generator, opts Options) *Synthesizer {
	if opts.Sharpen == nil {
		opts.Sharpen = Identity{}
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Synthesizer{
		gen:         gen,
		sharpen:     opts.Sharpen,
		maxAttempts: opts.MaxAttempts,
		logger:      logging.NewComponentLogger(opts.Logger, "synth"),
	}
}

// Dim returns the generator's latent dimensionality.
func (s *Synthesizer) Dim() int { return s.gen.Dim() }

// Reentrant reports whether frames may be synthesized concurrently.
func (s *Synthesizer) Reentrant() bool { return IsReentrant(s.gen) }

// Synthesize renders z at resolution x resolution. Generator failures and
// malformed buffers are reported as model.ErrSynthesis.
func (s *Synthesizer) Synthesize(ctx context.Context, z latent.Vector, resolution int) (Frame, error) {
	if resolution <= 0 {
		return Frame{}, fmt.Errorf("%w: resolution must be > 0, got %d", model.ErrValidation, resolution)
	}
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		raw, err := s.gen.Generate(ctx, z)
		if err == nil {
			err = raw.validate()
		}
		if err == nil {
			return resize(raw.toFrame(), resolution), nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Frame{}, err
		}
		lastErr = err
		if attempt < s.maxAttempts {
			s.logger.Warn("generator attempt failed; retrying",
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", s.maxAttempts),
				logging.Error(err),
			)
		}
	}
	if errors.Is(lastErr, model.ErrSynthesis) {
		return Frame{}, lastErr
	}
	return Frame{}, fmt.Errorf("%w: %v", model.ErrSynthesis, lastErr)
}

// Postprocess applies the sharpen filter when enabled and is the identity
// otherwise.
func (s *Synthesizer) Postprocess(f Frame, sharpen bool) Frame {
	if !sharpen {
		return f
	}
	return s.sharpen.Apply(f)
}
