package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/example/latentwalk/api-go/internal/model"
)

// job is the mutable record behind a Snapshot. Every field below mu is
// guarded by it; params and id never change after construction.
type job struct {
	id     string
	params model.Params
	seed   uint64
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu          sync.Mutex
	status      model.JobStatus
	framesDone  int
	totalFrames int
	logs        *logRing
	artifactKey string
	posterKey   string
	errMsg      string
	errKind     string
	createdAt   time.Time
	updatedAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

func newJob(id string, params model.Params, seed uint64, logTail int, now time.Time) *job {
	return &job{
		id:        id,
		params:    params,
		seed:      seed,
		done:      make(chan struct{}),
		status:    model.JobQueued,
		logs:      newLogRing(logTail),
		createdAt: now,
		updatedAt: now,
	}
}

func (j *job) snapshot() model.Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *job) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		ID:          j.id,
		Status:      j.status,
		Params:      j.params,
		Seed:        j.seed,
		FramesDone:  j.framesDone,
		TotalFrames: j.totalFrames,
		Logs:        j.logs.lines(),
		ArtifactKey: j.artifactKey,
		PosterKey:   j.posterKey,
		Error:       j.errMsg,
		ErrorKind:   j.errKind,
		CreatedAt:   j.createdAt,
		UpdatedAt:   j.updatedAt,
		StartedAt:   copyTime(j.startedAt),
		CompletedAt: copyTime(j.completedAt),
	}
	if j.totalFrames > 0 {
		snap.Progress = float64(j.framesDone) / float64(j.totalFrames)
	}
	return snap
}

// start moves the job to running. It fails if the job already left queued.
func (j *job) start(totalFrames int, line string, now time.Time) (model.Snapshot, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.CanTransition(model.JobRunning) {
		return model.Snapshot{}, false
	}
	j.status = model.JobRunning
	j.totalFrames = totalFrames
	j.startedAt = &now
	j.updatedAt = now
	j.logs.add(line)
	return j.snapshotLocked(), true
}

// advance records framesDone completed frames. Counts never decrease.
func (j *job) advance(framesDone int, line string, now time.Time) model.Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == model.JobRunning && framesDone > j.framesDone {
		j.framesDone = framesDone
		j.updatedAt = now
		if line != "" {
			j.logs.add(line)
		}
	}
	return j.snapshotLocked()
}

func (j *job) setPoster(key string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.Terminal() {
		j.posterKey = key
	}
}

func (j *job) log(line string, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.Terminal() {
		j.logs.add(line)
		j.updatedAt = now
	}
}

// finish applies the single terminal transition. Later calls are no-ops and
// report false.
func (j *job) finish(status model.JobStatus, artifactKey, errMsg, errKind, line string, now time.Time) (model.Snapshot, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.CanTransition(status) {
		return j.snapshotLocked(), false
	}
	j.status = status
	j.artifactKey = artifactKey
	j.errMsg = errMsg
	j.errKind = errKind
	j.completedAt = &now
	j.updatedAt = now
	if line != "" {
		j.logs.add(line)
	}
	return j.snapshotLocked(), true
}

func (j *job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status.Terminal()
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// logRing is a bounded, append-only line buffer that evicts oldest first.
type logRing struct {
	buf   []string
	next  int
	full  bool
	limit int
}

func newLogRing(limit int) *logRing {
	if limit < 1 {
		limit = 1
	}
	return &logRing{buf: make([]string, 0, min(limit, 64)), limit: limit}
}

func (r *logRing) add(line string) {
	if len(r.buf) < r.limit {
		r.buf = append(r.buf, line)
		return
	}
	r.buf[r.next] = line
	r.next = (r.next + 1) % r.limit
	r.full = true
}

func (r *logRing) lines() []string {
	if len(r.buf) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.buf))
	if r.full {
		out = append(out, r.buf[r.next:]...)
		out = append(out, r.buf[:r.next]...)
		return out
	}
	return append(out, r.buf...)
}
