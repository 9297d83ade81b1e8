package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/example/latentwalk/api-go/internal/blob"
	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/latent"
	"github.com/example/latentwalk/api-go/internal/logging"
	"github.com/example/latentwalk/api-go/internal/model"
	"github.com/example/latentwalk/api-go/internal/synth"
)

// run executes one job from queued to a terminal state. It is started exactly
// once per job, on its own goroutine.
func (o *Orchestrator) run(ctx context.Context, j *job) {
	defer o.wg.Done()
	defer close(j.done)
	defer j.cancel(nil)

	logger := o.logger.With(logging.JobID(j.id))

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.fail(ctx, j, logger, err)
		return
	}
	defer o.sem.Release(1)

	total := j.params.TotalFrames()
	snap, ok := j.start(total, fmt.Sprintf("started: %d frames at %dx%d, %d fps, %d anchors, strength %g, seed %d",
		total, j.params.Resolution, j.params.Resolution, j.params.FPS, j.params.Anchors, j.params.Strength, j.seed), o.now())
	if !ok {
		return
	}
	o.persist(snap)
	o.publish(events.FromSnapshot(events.TypeStarted, snap, ""))
	logger.Info("job started", logging.Int("total_frames", total))

	artifact, err := o.execute(ctx, j, logger)
	if err != nil {
		o.fail(ctx, j, logger, err)
		return
	}

	snap, ok = j.finish(model.JobDone, artifact, "", "", "done: "+artifact, o.now())
	if !ok {
		return
	}
	o.persist(snap)
	o.publish(events.FromSnapshot(events.TypeDone, snap, artifact))
	logger.Info("job completed",
		logging.String("artifact", artifact),
		logging.Int("frames", snap.FramesDone),
		logging.Duration("elapsed", snap.CompletedAt.Sub(*snap.StartedAt)),
	)
}

// execute builds the walk, renders every frame in order and returns the
// published artifact name.
func (o *Orchestrator) execute(ctx context.Context, j *job, logger *slog.Logger) (string, error) {
	params := j.params
	total := params.TotalFrames()

	anchors, err := latent.SampleAnchors(o.synth.Dim(), params.Anchors, params.Strength, latent.NewRand(j.seed))
	if err != nil {
		return "", err
	}
	walk := latent.BuildWalk(anchors, total)

	name := blob.ArtifactName(j.id, o.format.Ext)
	path, err := o.blobs.Path(name)
	if err != nil {
		return "", err
	}
	h, err := o.assembler.Open(ctx, path, params.FPS)
	if err != nil {
		return "", err
	}
	defer h.Close()

	window := 1
	if o.limits.Workers > 1 && o.synth.Reentrant() {
		window = o.limits.Workers
	}
	sampler := logging.NewProgressSampler(10)

	for start := 0; start < total; start += window {
		end := min(start+window, total)
		frames, firstErr, renderErr := o.renderWindow(ctx, walk[start:end], params)

		for k := 0; k < firstErr; k++ {
			idx := start + k
			if err := h.Append(frames[k]); err != nil {
				return "", fmt.Errorf("frame %d: %w", idx+1, err)
			}
			if idx == 0 {
				o.writePoster(j, frames[k], logger)
			}
			done := idx + 1
			pct := float64(done) / float64(total) * 100
			snap := j.advance(done, fmt.Sprintf("generated %d/%d frames (%.1f%%)", done, total, pct), o.now())
			o.publish(events.FromSnapshot(events.TypeProgress, snap, ""))
			if sampler.ShouldLog(pct) {
				o.persist(snap)
				logger.Info("progress", logging.Int("frames_done", done), logging.Int("total_frames", total))
			}
		}
		if renderErr != nil {
			return "", fmt.Errorf("frame %d: %w", start+firstErr+1, renderErr)
		}
	}

	j.log(fmt.Sprintf("encoding %d frames", total), o.now())
	if _, err := h.Finalize(); err != nil {
		return "", err
	}
	return name, nil
}

// renderWindow synthesizes vecs, concurrently when there is more than one.
// It returns the frames, the index of the first frame that failed (len(vecs)
// when none did) and the error that caused the failure.
func (o *Orchestrator) renderWindow(ctx context.Context, vecs latent.Walk, params model.Params) ([]synth.Frame, int, error) {
	frames := make([]synth.Frame, len(vecs))
	if len(vecs) == 1 {
		f, err := o.renderFrame(ctx, vecs[0], params)
		if err != nil {
			return frames, 0, err
		}
		frames[0] = f
		return frames, 1, nil
	}

	errs := make([]error, len(vecs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range vecs {
		g.Go(func() error {
			f, err := o.renderFrame(gctx, vecs[i], params)
			if err != nil {
				errs[i] = err
				return err
			}
			frames[i] = f
			return nil
		})
	}
	cause := g.Wait()
	for i, err := range errs {
		if err != nil {
			return frames, i, cause
		}
	}
	return frames, len(vecs), nil
}

func (o *Orchestrator) renderFrame(ctx context.Context, z latent.Vector, params model.Params) (synth.Frame, error) {
	f, err := o.synth.Synthesize(ctx, z, params.Resolution)
	if err != nil {
		return synth.Frame{}, err
	}
	return o.synth.Postprocess(f, params.Sharpen), nil
}

func (o *Orchestrator) writePoster(j *job, f synth.Frame, logger *slog.Logger) {
	if o.poster == nil {
		return
	}
	key, err := o.poster.Write(j.id, f)
	if err != nil {
		logger.Warn("poster write failed", logging.Error(err))
		return
	}
	j.setPoster(key)
}

// fail records err as the job's terminal error.
func (o *Orchestrator) fail(ctx context.Context, j *job, logger *slog.Logger, err error) {
	// Sinks and encoders report cancellation in their own terms (a closed
	// pipe, a wrapped encoding error), so the job context decides.
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); errors.Is(cause, model.ErrCanceled) {
			err = cause
		} else {
			err = fmt.Errorf("%w: %v", model.ErrCanceled, cause)
		}
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", model.ErrCanceled, err)
	}
	msg := err.Error()
	kind := model.ErrorKind(err)

	snap, ok := j.finish(model.JobError, "", msg, kind, "error: "+msg, o.now())
	if !ok {
		return
	}
	o.persist(snap)
	o.publish(events.FromSnapshot(events.TypeFailed, snap, msg))
	if kind == "canceled" {
		logger.Info("job canceled", logging.String("reason", msg), logging.Int("frames_done", snap.FramesDone))
		return
	}
	logger.Error("job failed", logging.Error(err), logging.Int("frames_done", snap.FramesDone))
}
