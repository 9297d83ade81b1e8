package jobs

import (
	"errors"
	"sync"
)

var errRegistryClosed = errors.New("job registry closed")

// Registry owns the in-memory job records of one Orchestrator.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*job)}
}

func (r *Registry) insert(j *job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRegistryClosed
	}
	if _, exists := r.jobs[j.id]; exists {
		return errors.New("duplicate job id " + j.id)
	}
	r.jobs[j.id] = j
	return nil
}

func (r *Registry) get(id string) (*job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *Registry) all() []*job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// Len returns the number of jobs held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// close stops further inserts and returns the jobs held at that moment.
func (r *Registry) close() []*job {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	out := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}
