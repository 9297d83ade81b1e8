package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/latentwalk/api-go/internal/blob"
	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/jobs"
	"github.com/example/latentwalk/api-go/internal/latent"
	"github.com/example/latentwalk/api-go/internal/model"
	"github.com/example/latentwalk/api-go/internal/store"
	"github.com/example/latentwalk/api-go/internal/synth"
	"github.com/example/latentwalk/api-go/internal/video"
)

type fakeGenerator struct {
	failAt    int32
	block     bool
	delay     time.Duration
	reentrant bool
	calls     atomic.Int32
}

func (g *fakeGenerator) Dim() int { return 8 }

func (g *fakeGenerator) Reentrant() bool { return g.reentrant }

func (g *fakeGenerator) Generate(ctx context.Context, z latent.Vector) (synth.Raw, error) {
	n := g.calls.Add(1)
	if g.block {
		<-ctx.Done()
		return synth.Raw{}, ctx.Err()
	}
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return synth.Raw{}, ctx.Err()
		}
	}
	if g.failAt > 0 && n == g.failAt {
		return synth.Raw{}, errors.New("generator crashed")
	}
	v := float32(math.Tanh(z[0]))
	data := make([]float32, 3*2*2)
	for i := range data {
		data[i] = v
	}
	return synth.Raw{Channels: 3, Height: 2, Width: 2, Data: data}, nil
}

// memSink keeps the first byte of every frame and writes them out on Close.
type memSink struct {
	path string
	data []byte
}

func (s *memSink) WriteFrame(f synth.Frame) error {
	s.data = append(s.data, f.Pix[0])
	return nil
}

func (s *memSink) Close() error { return os.WriteFile(s.path, s.data, 0o644) }

func (s *memSink) Abort() {}

func openMemSink(_ context.Context, path string, _, _, _ int) (video.Sink, error) {
	return &memSink{path: path}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newOrchestrator(t *testing.T, gen synth.Generator, mutate func(*jobs.Options)) *jobs.Orchestrator {
	t.Helper()
	opts := jobs.Options{
		Synth:     synth.New(gen, synth.Options{Sharpen: synth.Sharpen{}}),
		Assembler: video.NewAssembler(openMemSink, nil),
		Format:    video.MP4,
		Blobs:     blob.LocalFS{Root: filepath.Join(t.TempDir(), "out")},
		Limits:    jobs.Limits{MaxConcurrent: 2, LogTail: 200},
	}
	if mutate != nil {
		mutate(&opts)
	}
	orch, err := jobs.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orch.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return orch
}

func params(seconds, fps, anchors int) model.Params {
	p := model.DefaultParams()
	p.Seconds = seconds
	p.FPS = fps
	p.Anchors = anchors
	p.Resolution = 4
	return p
}

func waitDone(t *testing.T, orch *jobs.Orchestrator, id string) model.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	snap, err := orch.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return snap
}

func TestJobRunsToCompletion(t *testing.T) {
	orch := newOrchestrator(t, &fakeGenerator{}, nil)
	ctx := context.Background()

	id, err := orch.CreateJob(ctx, params(5, 10, 6))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	snap := waitDone(t, orch, id)
	if snap.Status != model.JobDone {
		t.Fatalf("status = %s (%s)", snap.Status, snap.Error)
	}
	if snap.TotalFrames != 50 || snap.FramesDone != 50 || snap.Progress != 1 {
		t.Fatalf("frames %d/%d progress %v", snap.FramesDone, snap.TotalFrames, snap.Progress)
	}
	if snap.ArtifactKey != "latent_walk_"+id+".mp4" {
		t.Fatalf("artifact = %q", snap.ArtifactKey)
	}
	if snap.StartedAt == nil || snap.CompletedAt == nil {
		t.Fatal("timestamps not recorded")
	}
	found := false
	for _, line := range snap.Logs {
		if line == "generated 50/50 frames (100.0%)" {
			found = true
		}
	}
	if !found {
		t.Fatalf("final progress line missing from %v", snap.Logs)
	}

	f, got, err := orch.OpenArtifact(ctx, id)
	if err != nil {
		t.Fatalf("OpenArtifact: %v", err)
	}
	defer f.Close()
	info, _ := f.Stat()
	if info.Size() != 50 || got.ID != id {
		t.Fatalf("artifact holds %d frames", info.Size())
	}
}

func TestFailedFrameDoesNotCount(t *testing.T) {
	orch := newOrchestrator(t, &fakeGenerator{failAt: 3}, nil)
	ctx := context.Background()

	id, err := orch.CreateJob(ctx, params(1, 10, 2))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	snap := waitDone(t, orch, id)
	if snap.Status != model.JobError {
		t.Fatalf("status = %s", snap.Status)
	}
	if snap.FramesDone != 2 {
		t.Fatalf("frames_done = %d, want 2", snap.FramesDone)
	}
	if snap.ErrorKind != "synthesis" || !strings.Contains(snap.Error, "generator crashed") {
		t.Fatalf("error = %q (%s)", snap.Error, snap.ErrorKind)
	}
	if snap.ArtifactKey != "" {
		t.Fatalf("failed job must not record an artifact, got %q", snap.ArtifactKey)
	}
	if _, _, err := orch.OpenArtifact(ctx, id); !errors.Is(err, model.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestFailedJobLeavesNoFiles(t *testing.T) {
	var root string
	orch := newOrchestrator(t, &fakeGenerator{failAt: 2}, func(o *jobs.Options) { root = o.Blobs.Root })
	id, _ := orch.CreateJob(context.Background(), params(1, 4, 2))
	waitDone(t, orch, id)
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty output dir, found %v", entries)
	}
}

func TestCreateJobValidation(t *testing.T) {
	orch := newOrchestrator(t, &fakeGenerator{}, func(o *jobs.Options) {
		o.Limits.MaxSeconds = 10
		o.Limits.MaxResolution = 64
	})
	ctx := context.Background()

	bad := []model.Params{
		params(0, 10, 3),
		params(2, 0, 3),
		params(2, 10, 0),
		params(11, 10, 3),
		func() model.Params { p := params(1, 1, 1); p.Resolution = 65; return p }(),
		func() model.Params { p := params(1, 1, 1); p.Strength = math.Inf(1); return p }(),
	}
	for i, p := range bad {
		if _, err := orch.CreateJob(ctx, p); !errors.Is(err, model.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
	list, err := orch.List(ctx, nil, 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("invalid requests must not create jobs, found %d", len(list))
	}
}

func TestCreateJobCapsGIFSize(t *testing.T) {
	orch := newOrchestrator(t, &fakeGenerator{}, func(o *jobs.Options) { o.Format = video.GIF })
	ctx := context.Background()

	big := params(10, 60, 2)
	big.Resolution = 1024
	if _, err := orch.CreateJob(ctx, big); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("oversized gif: expected ErrValidation, got %v", err)
	}
	id, err := orch.CreateJob(ctx, params(1, 4, 2))
	if err != nil {
		t.Fatalf("small gif: %v", err)
	}
	waitDone(t, orch, id)
}

func TestConcurrentCreatesGetDistinctIDs(t *testing.T) {
	orch := newOrchestrator(t, &fakeGenerator{reentrant: true}, func(o *jobs.Options) { o.Limits.MaxConcurrent = 4 })
	ctx := context.Background()

	const n = 100
	ids := make([]string, n)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := orch.CreateJob(ctx, params(1, 1, 1))
			if err != nil {
				errs <- err
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CreateJob: %v", err)
	}

	seen := make(map[string]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	for _, id := range ids {
		if snap := waitDone(t, orch, id); snap.Status != model.JobDone {
			t.Fatalf("%s ended %s: %s", id, snap.Status, snap.Error)
		}
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	orch := newOrchestrator(t, &fakeGenerator{delay: time.Millisecond}, nil)
	ctx := context.Background()
	id, err := orch.CreateJob(ctx, params(3, 10, 4))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	rank := map[model.JobStatus]int{model.JobQueued: 0, model.JobRunning: 1, model.JobDone: 2, model.JobError: 2}
	lastFrames, lastRank, lastLogs := -1, -1, 0
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := orch.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if snap.FramesDone < lastFrames {
			t.Fatalf("frames_done regressed %d -> %d", lastFrames, snap.FramesDone)
		}
		if rank[snap.Status] < lastRank {
			t.Fatalf("status regressed to %s", snap.Status)
		}
		if len(snap.Logs) < lastLogs {
			t.Fatalf("log tail shrank %d -> %d", lastLogs, len(snap.Logs))
		}
		if snap.Progress < 0 || snap.Progress > 1 {
			t.Fatalf("progress out of range: %v", snap.Progress)
		}
		lastFrames, lastRank, lastLogs = snap.FramesDone, rank[snap.Status], len(snap.Logs)
		if snap.Status.Terminal() {
			if snap.Status != model.JobDone || snap.FramesDone != 30 {
				t.Fatalf("ended %s with %d frames", snap.Status, snap.FramesDone)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job did not finish")
}

func TestLogTailIsBounded(t *testing.T) {
	orch := newOrchestrator(t, &fakeGenerator{}, func(o *jobs.Options) { o.Limits.LogTail = 5 })
	ctx := context.Background()
	id, _ := orch.CreateJob(ctx, params(2, 10, 2))
	snap := waitDone(t, orch, id)
	if len(snap.Logs) != 5 {
		t.Fatalf("log tail has %d lines, want 5", len(snap.Logs))
	}
	if last := snap.Logs[4]; !strings.HasPrefix(last, "done: ") {
		t.Fatalf("last line = %q", last)
	}
	lines, err := orch.Logs(ctx, id, 2)
	if err != nil || len(lines) != 2 || lines[1] != snap.Logs[4] {
		t.Fatalf("Logs(tail=2) = %v, %v", lines, err)
	}
}

func TestCancelRunningAndQueuedJobs(t *testing.T) {
	orch := newOrchestrator(t, &fakeGenerator{block: true}, func(o *jobs.Options) { o.Limits.MaxConcurrent = 1 })
	ctx := context.Background()

	running, _ := orch.CreateJob(ctx, params(1, 4, 2))
	queued, _ := orch.CreateJob(ctx, params(1, 4, 2))

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, _ := orch.Get(ctx, running)
		if snap.Status == model.JobRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first job never started")
		}
		time.Sleep(time.Millisecond)
	}
	if snap, _ := orch.Get(ctx, queued); snap.Status != model.JobQueued {
		t.Fatalf("second job should wait for a slot, is %s", snap.Status)
	}

	if err := orch.Cancel(ctx, queued); err != nil {
		t.Fatalf("Cancel queued: %v", err)
	}
	snap := waitDone(t, orch, queued)
	if snap.Status != model.JobError || snap.ErrorKind != "canceled" || snap.StartedAt != nil {
		t.Fatalf("queued job after cancel: %+v", snap)
	}

	if err := orch.Cancel(ctx, running); err != nil {
		t.Fatalf("Cancel running: %v", err)
	}
	snap = waitDone(t, orch, running)
	if snap.Status != model.JobError || snap.ErrorKind != "canceled" || snap.FramesDone != 0 {
		t.Fatalf("running job after cancel: %+v", snap)
	}

	if err := orch.Cancel(ctx, running); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("second cancel: expected ErrConflict, got %v", err)
	}
	if err := orch.Cancel(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown cancel: expected ErrNotFound, got %v", err)
	}
}

// cancelingGenerator cancels its own job from inside the second Generate call
// and still returns a valid frame, so the cancel surfaces in the encoder.
type cancelingGenerator struct {
	orch  *jobs.Orchestrator
	ids   chan string
	calls atomic.Int32
}

func (g *cancelingGenerator) Dim() int { return 8 }

func (g *cancelingGenerator) Generate(ctx context.Context, _ latent.Vector) (synth.Raw, error) {
	if g.calls.Add(1) == 2 {
		if err := g.orch.Cancel(context.Background(), <-g.ids); err != nil {
			return synth.Raw{}, err
		}
	}
	return synth.Raw{Channels: 3, Height: 1, Width: 1, Data: []float32{0, 0, 0}}, nil
}

// ctxSink fails writes once its context ends, the way the gif and ffmpeg
// sinks do.
type ctxSink struct {
	ctx context.Context
	memSink
}

func (s *ctxSink) WriteFrame(f synth.Frame) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.memSink.WriteFrame(f)
}

func TestCancelDuringEncodingIsReportedAsCanceled(t *testing.T) {
	gen := &cancelingGenerator{ids: make(chan string, 1)}
	open := func(ctx context.Context, path string, _, _, _ int) (video.Sink, error) {
		return &ctxSink{ctx: ctx, memSink: memSink{path: path}}, nil
	}
	orch := newOrchestrator(t, gen, func(o *jobs.Options) {
		o.Assembler = video.NewAssembler(open, nil)
	})
	gen.orch = orch

	id, err := orch.CreateJob(context.Background(), params(1, 4, 2))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	gen.ids <- id

	snap := waitDone(t, orch, id)
	if snap.Status != model.JobError || snap.ErrorKind != "canceled" {
		t.Fatalf("status=%s kind=%q error=%q", snap.Status, snap.ErrorKind, snap.Error)
	}
	if snap.FramesDone != 1 {
		t.Fatalf("frames done = %d, want 1", snap.FramesDone)
	}
}

func TestCloseCancelsInFlightJobs(t *testing.T) {
	opts := jobs.Options{
		Synth:     synth.New(&fakeGenerator{block: true}, synth.Options{}),
		Assembler: video.NewAssembler(openMemSink, nil),
		Blobs:     blob.LocalFS{Root: t.TempDir()},
	}
	orch, err := jobs.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id, _ := orch.CreateJob(context.Background(), params(1, 2, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := orch.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	snap, _ := orch.Get(ctx, id)
	if snap.Status != model.JobError || !strings.Contains(snap.Error, "shutting down") {
		t.Fatalf("job after close: %+v", snap)
	}
	if _, err := orch.CreateJob(context.Background(), params(1, 1, 1)); err == nil {
		t.Fatal("CreateJob after Close should fail")
	}
}

func TestWindowedSynthesisPreservesOrder(t *testing.T) {
	seed := uint64(99)
	p := params(2, 10, 5)
	p.Seed = &seed

	render := func(workers int) []byte {
		var root string
		orch := newOrchestrator(t, &fakeGenerator{reentrant: true}, func(o *jobs.Options) {
			o.Limits.Workers = workers
			root = o.Blobs.Root
		})
		id, err := orch.CreateJob(context.Background(), p)
		if err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		snap := waitDone(t, orch, id)
		if snap.Status != model.JobDone {
			t.Fatalf("workers=%d: %s", workers, snap.Error)
		}
		data, err := os.ReadFile(filepath.Join(root, snap.ArtifactKey))
		if err != nil {
			t.Fatalf("read artifact: %v", err)
		}
		return data
	}

	sequential := render(1)
	windowed := render(4)
	if string(sequential) != string(windowed) {
		t.Fatalf("frame order differs:\n%v\n%v", sequential, windowed)
	}
}

func TestSeedMakesJobsReproducible(t *testing.T) {
	orch := newOrchestrator(t, &fakeGenerator{}, nil)
	ctx := context.Background()
	first, _ := orch.CreateJob(ctx, params(1, 8, 3))
	a := waitDone(t, orch, first)

	p := params(1, 8, 3)
	p.Seed = &a.Seed
	second, _ := orch.CreateJob(ctx, p)
	b := waitDone(t, orch, second)
	if a.Seed != b.Seed {
		t.Fatalf("seed not honored: %d vs %d", a.Seed, b.Seed)
	}
	fa, _, _ := orch.OpenArtifact(ctx, first)
	fb, _, _ := orch.OpenArtifact(ctx, second)
	defer fa.Close()
	defer fb.Close()
	da, _ := os.ReadFile(fa.Name())
	db, _ := os.ReadFile(fb.Name())
	if string(da) != string(db) {
		t.Fatal("same seed produced different videos")
	}
}

func TestEventsArePublished(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	ch, unsubscribe := hub.Subscribe("", 256)
	defer unsubscribe()

	orch := newOrchestrator(t, &fakeGenerator{}, func(o *jobs.Options) { o.Events = hub })
	id, _ := orch.CreateJob(context.Background(), params(1, 4, 2))
	waitDone(t, orch, id)

	var types []events.Type
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
			if ev.Terminal() {
				want := []events.Type{events.TypeCreated, events.TypeStarted,
					events.TypeProgress, events.TypeProgress, events.TypeProgress, events.TypeProgress, events.TypeDone}
				if fmt.Sprint(types) != fmt.Sprint(want) {
					t.Fatalf("events = %v, want %v", types, want)
				}
				return
			}
		case <-timeout:
			t.Fatalf("no terminal event, got %v", types)
		}
	}
}

func TestJournalBackedLookupsAndRetention(t *testing.T) {
	journal, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer journal.Close()

	clk := &clock{now: time.Now()}
	var root string
	orch := newOrchestrator(t, &fakeGenerator{}, func(o *jobs.Options) {
		o.Journal = journal
		o.Now = clk.Now
		o.Limits.Retention = time.Hour
		root = o.Blobs.Root
	})
	ctx := context.Background()
	id, _ := orch.CreateJob(ctx, params(1, 2, 2))
	done := waitDone(t, orch, id)

	row, err := journal.Get(ctx, id)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if row.Status != model.JobDone || row.FramesDone != 2 || row.ArtifactKey != done.ArtifactKey {
		t.Fatalf("journal row = %+v", row)
	}

	// A second orchestrator sharing the journal sees the finished job.
	other := newOrchestrator(t, &fakeGenerator{}, func(o *jobs.Options) { o.Journal = journal })
	if snap, err := other.Get(ctx, id); err != nil || snap.Status != model.JobDone {
		t.Fatalf("journal fallback = %+v, %v", snap, err)
	}
	if list, _ := other.List(ctx, nil, 10); len(list) != 1 || list[0].ID != id {
		t.Fatalf("journal-backed list = %v", list)
	}

	if n := orch.Sweep(ctx); n != 0 {
		t.Fatalf("fresh job evicted (%d)", n)
	}
	clk.Advance(2 * time.Hour)
	if n := orch.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep evicted %d, want 1", n)
	}
	if _, err := orch.Get(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after eviction, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, done.ArtifactKey)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("artifact should be removed, stat err=%v", err)
	}
}

func TestSweepEnforcesMaxRetained(t *testing.T) {
	clk := &clock{now: time.Now()}
	orch := newOrchestrator(t, &fakeGenerator{}, func(o *jobs.Options) {
		o.Now = clk.Now
		o.Limits.MaxRetained = 2
	})
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := orch.CreateJob(ctx, params(1, 1, 1))
		waitDone(t, orch, id)
		ids = append(ids, id)
		clk.Advance(time.Second)
	}
	if n := orch.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep evicted %d, want 1", n)
	}
	if _, err := orch.Get(ctx, ids[0]); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("oldest job should be gone, got %v", err)
	}
	for _, id := range ids[1:] {
		if _, err := orch.Get(ctx, id); err != nil {
			t.Fatalf("newer job %s evicted: %v", id, err)
		}
	}
}

func TestRecoverMarksInterruptedJobs(t *testing.T) {
	journal, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer journal.Close()
	ctx := context.Background()
	now := time.Now()
	_ = journal.Upsert(ctx, model.Snapshot{ID: "stale", Status: model.JobRunning, CreatedAt: now, UpdatedAt: now})

	var root string
	orch := newOrchestrator(t, &fakeGenerator{}, func(o *jobs.Options) {
		o.Journal = journal
		root = o.Blobs.Root
	})
	partial := filepath.Join(root, ".latent_walk_stale.mp4.partial")
	if err := os.WriteFile(partial, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := orch.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	snap, err := orch.Get(ctx, "stale")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Status != model.JobError || snap.Error != "interrupted by restart" {
		t.Fatalf("stale job = %+v", snap)
	}
	if _, err := os.Stat(partial); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("partial file should be removed")
	}
}
