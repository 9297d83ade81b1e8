// Package events fans job progress out to in-process subscribers (websocket
// streams) and, optionally, to a Redis pub/sub channel.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/latentwalk/api-go/internal/model"
)

// Type labels an event.
type Type string

const (
	TypeCreated  Type = "created"
	TypeStarted  Type = "started"
	TypeProgress Type = "progress"
	TypeDone     Type = "done"
	TypeFailed   Type = "failed"
	// TypeSnapshot opens every websocket stream with the job's current state.
	TypeSnapshot Type = "snapshot"
)

// Event is one observable change to a job.
type Event struct {
	Type        Type            `json:"type"`
	JobID       string          `json:"jobId"`
	Status      model.JobStatus `json:"status"`
	FramesDone  int             `json:"framesDone"`
	TotalFrames int             `json:"totalFrames"`
	Progress    float64         `json:"progress"`
	Message     string          `json:"message,omitempty"`
	Time        time.Time       `json:"time"`
}

// Terminal reports whether no further events will follow for the job.
func (e Event) Terminal() bool { return e.Status.Terminal() }

// FromSnapshot builds an event describing snap.
func FromSnapshot(t Type, snap model.Snapshot, message string) Event {
	return Event{
		Type:        t,
		JobID:       snap.ID,
		Status:      snap.Status,
		FramesDone:  snap.FramesDone,
		TotalFrames: snap.TotalFrames,
		Progress:    snap.Progress,
		Message:     message,
		Time:        snap.UpdatedAt,
	}
}

// Publisher delivers events. Implementations must not block the caller for
// long; job execution publishes inline.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hub is an in-process fan-out. Subscribers with full buffers miss events
// rather than stall the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{})}
}

// Subscribe registers for events of jobID ("" for every job). The returned
// cancel func unregisters and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(jobID string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscription{ch: make(chan Event, buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	set := h.subs[jobID]
	if set == nil {
		set = make(map[*subscription]struct{})
		h.subs[jobID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[jobID]; ok {
				if _, ok := set[sub]; ok {
					delete(set, sub)
					close(sub.ch)
				}
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
		})
	}
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	for _, key := range []string{ev.JobID, ""} {
		for sub := range h.subs[key] {
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for key, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, key)
	}
}
