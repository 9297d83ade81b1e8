package model

import (
	"fmt"
	"math"
	"time"
)

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// Valid reports whether s is one of the known job states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobDone, JobError:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows s -> next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobRunning || next == JobError
	case JobRunning:
		return next == JobDone || next == JobError
	}
	return false
}

// Params are the caller-supplied knobs for one latent walk video.
//
// Seed is optional; when nil the orchestrator draws one and records it so the
// walk can be reproduced later.
type Params struct {
	Seconds    int     `json:"seconds"`
	FPS        int     `json:"fps"`
	Resolution int     `json:"out_res"`
	Anchors    int     `json:"anchors"`
	Strength   float64 `json:"strength"`
	Sharpen    bool    `json:"sharpen"`
	Seed       *uint64 `json:"seed,omitempty"`
}

// TotalFrames is seconds*fps.
func (p Params) TotalFrames() int {
	return p.Seconds * p.FPS
}

// DefaultParams mirrors the defaults of the public generate endpoint.
func DefaultParams() Params {
	return Params{
		Seconds:    2,
		FPS:        8,
		Resolution: 256,
		Anchors:    3,
		Strength:   2.0,
	}
}

// Validate checks the invariants every job must satisfy regardless of
// server-side limits.
func (p Params) Validate() error {
	switch {
	case p.Seconds <= 0:
		return fmt.Errorf("%w: seconds must be > 0, got %d", ErrValidation, p.Seconds)
	case p.FPS <= 0:
		return fmt.Errorf("%w: fps must be > 0, got %d", ErrValidation, p.FPS)
	case p.Resolution <= 0:
		return fmt.Errorf("%w: out_res must be > 0, got %d", ErrValidation, p.Resolution)
	case p.Anchors < 1:
		return fmt.Errorf("%w: anchors must be >= 1, got %d", ErrValidation, p.Anchors)
	case math.IsNaN(p.Strength) || math.IsInf(p.Strength, 0):
		return fmt.Errorf("%w: strength must be finite", ErrValidation)
	case p.Strength < 0:
		return fmt.Errorf("%w: strength must be >= 0, got %g", ErrValidation, p.Strength)
	}
	return nil
}

// Snapshot is a consistent, read-only copy of a job record.
//
// - ArtifactKey is the artifact's name inside the output namespace.
// - Logs holds the bounded per-job log tail, oldest first.
type Snapshot struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Params      Params     `json:"params"`
	Seed        uint64     `json:"seed"`
	FramesDone  int        `json:"framesDone"`
	TotalFrames int        `json:"totalFrames"`
	Progress    float64    `json:"progress"`
	Logs        []string   `json:"logs,omitempty"`
	ArtifactKey string     `json:"artifactKey,omitempty"`
	PosterKey   string     `json:"posterKey,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"errorKind,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
