// Package jobs runs latent walk jobs: it validates requests, schedules one
// goroutine per job behind a concurrency limit, drives the
// walk -> synthesize -> encode pipeline, and serves consistent snapshots to
// pollers while that happens.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/example/latentwalk/api-go/internal/blob"
	"github.com/example/latentwalk/api-go/internal/config"
	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/logging"
	"github.com/example/latentwalk/api-go/internal/model"
	"github.com/example/latentwalk/api-go/internal/preview"
	"github.com/example/latentwalk/api-go/internal/synth"
	"github.com/example/latentwalk/api-go/internal/video"
)

const interruptedMessage = "interrupted by restart"

var (
	errCanceledByRequest = fmt.Errorf("%w by request", model.ErrCanceled)
	errShuttingDown      = fmt.Errorf("%w: server shutting down", model.ErrCanceled)
)

// Journal persists snapshots beyond the lifetime of the in-memory registry.
// *store.SQLite satisfies it.
type Journal interface {
	Upsert(ctx context.Context, snap model.Snapshot) error
	Get(ctx context.Context, id string) (model.Snapshot, error)
	List(ctx context.Context, status *model.JobStatus, limit int) ([]model.Snapshot, error)
	MarkInterrupted(ctx context.Context, message string) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) ([]model.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Limits bounds scheduling, request sizes and retention. Zero maxima are
// unbounded.
type Limits struct {
	MaxConcurrent   int
	LogTail         int
	MaxSeconds      int
	MaxFPS          int
	MaxResolution   int
	MaxAnchors      int
	Workers         int
	Retention       time.Duration
	MaxRetained     int
	JanitorInterval time.Duration
}

// LimitsFromConfig maps the [jobs] and [synthesis] sections.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxConcurrent:   cfg.Jobs.MaxConcurrent,
		LogTail:         cfg.Jobs.LogTail,
		MaxSeconds:      cfg.Jobs.MaxSeconds,
		MaxFPS:          cfg.Jobs.MaxFPS,
		MaxResolution:   cfg.Jobs.MaxResolution,
		MaxAnchors:      cfg.Jobs.MaxAnchors,
		Workers:         cfg.Synthesis.Workers,
		Retention:       cfg.RetentionDuration(),
		MaxRetained:     cfg.Jobs.MaxRetained,
		JanitorInterval: cfg.JanitorIntervalDuration(),
	}
}

// Options wires an Orchestrator to its collaborators. Synth, Assembler and
// Blobs.Root are required.
type Options struct {
	Synth     *synth.Synthesizer
	Assembler *video.Assembler
	Format    video.Format
	Blobs     blob.LocalFS
	Poster    *preview.Poster
	Journal   Journal
	Events    events.Publisher
	Logger    *slog.Logger
	Limits    Limits
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Orchestrator owns every job of the process.
type Orchestrator struct {
	synth     *synth.Synthesizer
	assembler *video.Assembler
	format    video.Format
	blobs     blob.LocalFS
	poster    *preview.Poster
	journal   Journal
	events    events.Publisher
	logger    *slog.Logger
	limits    Limits
	now       func() time.Time

	registry *Registry
	sem      *semaphore.Weighted
	// lifecycle orders wg.Add in CreateJob before the wg.Wait in Close.
	lifecycle sync.RWMutex
	wg        sync.WaitGroup

	closeOnce   sync.Once
	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Synth == nil {
		return nil, errors.New("jobs: synthesizer is required")
	}
	if opts.Assembler == nil {
		return nil, errors.New("jobs: video assembler is required")
	}
	if opts.Blobs.Root == "" {
		return nil, errors.New("jobs: output directory is required")
	}
	if opts.Format.Ext == "" {
		opts.Format = video.MP4
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limits := opts.Limits
	if limits.MaxConcurrent < 1 {
		limits.MaxConcurrent = 1
	}
	if limits.LogTail < 1 {
		limits.LogTail = 200
	}
	if limits.Workers < 1 {
		limits.Workers = 1
	}
	if err := os.MkdirAll(opts.Blobs.Root, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: create output dir: %w", err)
	}

	o := &Orchestrator{
		synth:       opts.Synth,
		assembler:   opts.Assembler,
		format:      opts.Format,
		blobs:       opts.Blobs,
		poster:      opts.Poster,
		journal:     opts.Journal,
		events:      opts.Events,
		logger:      logging.NewComponentLogger(opts.Logger, "jobs"),
		limits:      limits,
		now:         opts.Now,
		registry:    NewRegistry(),
		sem:         semaphore.NewWeighted(int64(limits.MaxConcurrent)),
		janitorDone: make(chan struct{}),
	}

	janitorCtx, stop := context.WithCancel(context.Background())
	o.stopJanitor = stop
	if limits.JanitorInterval > 0 && (limits.Retention > 0 || limits.MaxRetained > 0) {
		go o.runJanitor(janitorCtx, limits.JanitorInterval)
	} else {
		close(o.janitorDone)
	}
	return o, nil
}

// Recover cleans up after a previous process: journal rows left queued or
// running become errors and stray partial files are removed.
func (o *Orchestrator) Recover(ctx context.Context) error {
	if o.journal != nil {
		n, err := o.journal.MarkInterrupted(ctx, interruptedMessage)
		if err != nil {
			return err
		}
		if n > 0 {
			o.logger.Warn("marked interrupted jobs as failed", logging.Int("count", int(n)))
		}
	}
	removed, err := o.blobs.RemovePartials()
	if err != nil {
		return fmt.Errorf("remove partial artifacts: %w", err)
	}
	if removed > 0 {
		o.logger.Info("removed partial artifacts", logging.Int("count", removed))
	}
	return nil
}

func (o *Orchestrator) validate(p model.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l := o.limits
	switch {
	case l.MaxSeconds > 0 && p.Seconds > l.MaxSeconds:
		return fmt.Errorf("%w: seconds must be <= %d, got %d", model.ErrValidation, l.MaxSeconds, p.Seconds)
	case l.MaxFPS > 0 && p.FPS > l.MaxFPS:
		return fmt.Errorf("%w: fps must be <= %d, got %d", model.ErrValidation, l.MaxFPS, p.FPS)
	case l.MaxResolution > 0 && p.Resolution > l.MaxResolution:
		return fmt.Errorf("%w: out_res must be <= %d, got %d", model.ErrValidation, l.MaxResolution, p.Resolution)
	case l.MaxAnchors > 0 && p.Anchors > l.MaxAnchors:
		return fmt.Errorf("%w: anchors must be <= %d, got %d", model.ErrValidation, l.MaxAnchors, p.Anchors)
	}
	if total := p.TotalFrames(); total <= 0 || total/p.FPS != p.Seconds {
		return fmt.Errorf("%w: seconds*fps must be a positive frame count", model.ErrValidation)
	}
	if o.format == video.GIF {
		if px := int64(p.TotalFrames()) * int64(p.Resolution) * int64(p.Resolution); px > video.MaxGIFPixels {
			return fmt.Errorf("%w: gif output is limited to %d total pixels, job needs %d", model.ErrValidation, video.MaxGIFPixels, px)
		}
	}
	return nil
}

// CreateJob validates params, registers a queued job and schedules it. It
// never waits for the job to start.
func (o *Orchestrator) CreateJob(ctx context.Context, params model.Params) (string, error) {
	if err := o.validate(params); err != nil {
		return "", err
	}

	var seed uint64
	if params.Seed != nil {
		seed = *params.Seed
	} else {
		seed = rand.Uint64()
	}
	id := uuid.NewString()
	j := newJob(id, params, seed, o.limits.LogTail, o.now())

	jobCtx, cancel := context.WithCancelCause(context.Background())
	j.cancel = cancel

	o.lifecycle.RLock()
	defer o.lifecycle.RUnlock()
	if err := o.registry.insert(j); err != nil {
		cancel(nil)
		return "", fmt.Errorf("register job: %w", err)
	}
	o.wg.Add(1)

	snap := j.snapshot()
	o.persist(snap)
	o.publish(events.FromSnapshot(events.TypeCreated, snap, ""))
	o.logger.Info("job queued",
		logging.JobID(id),
		logging.Int("seconds", params.Seconds),
		logging.Int("fps", params.FPS),
		logging.Int("out_res", params.Resolution),
		logging.Int("anchors", params.Anchors),
		logging.Float64("strength", params.Strength),
		logging.Bool("sharpen", params.Sharpen),
		logging.Any("seed", seed),
	)

	go o.run(jobCtx, j)
	return id, nil
}

// Get returns a snapshot of the job, falling back to the journal for jobs no
// longer held in memory.
func (o *Orchestrator) Get(ctx context.Context, id string) (model.Snapshot, error) {
	if j, ok := o.registry.get(id); ok {
		return j.snapshot(), nil
	}
	if o.journal != nil {
		snap, err := o.journal.Get(ctx, id)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return model.Snapshot{}, err
		}
	}
	return model.Snapshot{}, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
}

// List returns up to limit jobs, newest first, optionally filtered by status.
func (o *Orchestrator) List(ctx context.Context, status *model.JobStatus, limit int) ([]model.Snapshot, error) {
	if limit <= 0 {
		limit = 25
	}
	byID := make(map[string]model.Snapshot)
	for _, j := range o.registry.all() {
		snap := j.snapshot()
		if status != nil && snap.Status != *status {
			continue
		}
		byID[snap.ID] = snap
	}
	if o.journal != nil {
		rows, err := o.journal.List(ctx, status, limit)
		if err != nil {
			return nil, err
		}
		for _, snap := range rows {
			if _, ok := byID[snap.ID]; !ok {
				byID[snap.ID] = snap
			}
		}
	}
	out := make([]model.Snapshot, 0, len(byID))
	for _, snap := range byID {
		out = append(out, snap)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Logs returns at most tail of the job's most recent log lines.
func (o *Orchestrator) Logs(ctx context.Context, id string, tail int) ([]string, error) {
	snap, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	lines := snap.Logs
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return lines, nil
}

// OpenArtifact opens the finished video. It fails with model.ErrNotReady
// until the job is done.
func (o *Orchestrator) OpenArtifact(ctx context.Context, id string) (*os.File, model.Snapshot, error) {
	snap, err := o.Get(ctx, id)
	if err != nil {
		return nil, model.Snapshot{}, err
	}
	if snap.Status != model.JobDone {
		return nil, snap, fmt.Errorf("job %s is %s: %w", id, snap.Status, model.ErrNotReady)
	}
	f, err := o.blobs.Open(snap.ArtifactKey)
	if err != nil {
		return nil, snap, err
	}
	return f, snap, nil
}

// OpenPoster opens the job's preview image.
func (o *Orchestrator) OpenPoster(ctx context.Context, id string) (*os.File, model.Snapshot, error) {
	snap, err := o.Get(ctx, id)
	if err != nil {
		return nil, model.Snapshot{}, err
	}
	if snap.PosterKey == "" {
		if snap.Status.Terminal() {
			return nil, snap, fmt.Errorf("job %s has no poster: %w", id, model.ErrNotFound)
		}
		return nil, snap, fmt.Errorf("job %s poster: %w", id, model.ErrNotReady)
	}
	f, err := o.blobs.Open(snap.PosterKey)
	if err != nil {
		return nil, snap, err
	}
	return f, snap, nil
}

// Cancel stops a queued or running job. The job still ends in the error
// state, with a cancellation message.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	j, ok := o.registry.get(id)
	if !ok {
		snap, err := o.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is %s: %w", id, snap.Status, model.ErrConflict)
	}
	if j.terminal() {
		return fmt.Errorf("job %s is %s: %w", id, j.snapshot().Status, model.ErrConflict)
	}
	o.logger.Info("cancel requested", logging.JobID(id))
	j.cancel(errCanceledByRequest)
	return nil
}

// Wait blocks until the job reaches a terminal state or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, id string) (model.Snapshot, error) {
	j, ok := o.registry.get(id)
	if !ok {
		return o.Get(ctx, id)
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return model.Snapshot{}, ctx.Err()
	}
}

// Close cancels every unfinished job, waits for all of them to reach a
// terminal state and stops the janitor.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.closeOnce.Do(func() {
		o.lifecycle.Lock()
		jobs := o.registry.close()
		o.lifecycle.Unlock()
		for _, j := range jobs {
			j.cancel(errShuttingDown)
		}
		o.stopJanitor()
	})

	waited := make(chan struct{})
	go func() {
		o.wg.Wait()
		<-o.janitorDone
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

func (o *Orchestrator) persist(snap model.Snapshot) {
	if o.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.journal.Upsert(ctx, snap); err != nil {
		o.logger.Warn("journal write failed", logging.JobID(snap.ID), logging.Error(err))
	}
}

func (o *Orchestrator) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.events.Publish(ctx, ev); err != nil {
		o.logger.Debug("event publish failed",
			logging.JobID(ev.JobID),
			logging.String(logging.FieldEventType, string(ev.Type)),
			logging.Error(err),
		)
	}
}
