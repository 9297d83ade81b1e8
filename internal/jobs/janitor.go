package jobs

import (
	"context"
	"sort"
	"time"

	"github.com/example/latentwalk/api-go/internal/logging"
	"github.com/example/latentwalk/api-go/internal/model"
)

func (o *Orchestrator) runJanitor(ctx context.Context, interval time.Duration) {
	defer close(o.janitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.Sweep(ctx); n > 0 {
				o.logger.Info("retention sweep evicted jobs", logging.Int("count", n))
			}
		}
	}
}

// Sweep evicts terminal jobs older than the retention period, then the oldest
// terminal jobs beyond the retained maximum. Their artifacts and journal rows
// go with them. It returns the number of jobs evicted.
func (o *Orchestrator) Sweep(ctx context.Context) int {
	now := o.now()
	var finished []model.Snapshot
	for _, j := range o.registry.all() {
		if snap := j.snapshot(); snap.Status.Terminal() {
			finished = append(finished, snap)
		}
	}
	sort.Slice(finished, func(a, b int) bool {
		return finished[a].UpdatedAt.Before(finished[b].UpdatedAt)
	})

	evicted := 0
	keep := finished[:0]
	for _, snap := range finished {
		if o.limits.Retention > 0 && now.Sub(snap.UpdatedAt) > o.limits.Retention {
			o.evict(ctx, snap)
			evicted++
			continue
		}
		keep = append(keep, snap)
	}
	if limit := o.limits.MaxRetained; limit > 0 && len(keep) > limit {
		for _, snap := range keep[:len(keep)-limit] {
			o.evict(ctx, snap)
			evicted++
		}
	}

	if o.journal != nil && o.limits.Retention > 0 {
		expired, err := o.journal.DeleteBefore(ctx, now.Add(-o.limits.Retention))
		if err != nil {
			o.logger.Warn("journal retention sweep failed", logging.Error(err))
		}
		for _, snap := range expired {
			if _, inMemory := o.registry.get(snap.ID); inMemory {
				continue
			}
			o.removeArtifacts(snap)
			evicted++
		}
	}
	return evicted
}

func (o *Orchestrator) evict(ctx context.Context, snap model.Snapshot) {
	o.registry.remove(snap.ID)
	o.removeArtifacts(snap)
	if o.journal != nil {
		if err := o.journal.Delete(ctx, snap.ID); err != nil {
			o.logger.Warn("journal delete failed", logging.JobID(snap.ID), logging.Error(err))
		}
	}
	o.logger.Debug("job evicted", logging.JobID(snap.ID), logging.String("status", string(snap.Status)))
}

func (o *Orchestrator) removeArtifacts(snap model.Snapshot) {
	for _, key := range []string{snap.ArtifactKey, snap.PosterKey} {
		if key == "" {
			continue
		}
		if err := o.blobs.Remove(key); err != nil {
			o.logger.Warn("artifact removal failed", logging.JobID(snap.ID), logging.String("artifact", key), logging.Error(err))
		}
	}
}
