// Package latent samples anchor points in latent space and interpolates the
// walk between them.
//
// Only SampleAnchors is random; BuildWalk is a pure function of its inputs.
package latent

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/example/latentwalk/api-go/internal/model"
)

// Vector is one point in latent space.
type Vector []float64

// Anchors are the waypoints of a walk, visited in order.
type Anchors []Vector

// Walk is the interpolated sequence handed to the synthesizer, one vector per
// frame.
type Walk []Vector

// NewRand returns a seeded PCG source. Equal seeds yield equal anchors.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// SampleAnchors draws count vectors of the given dimension from a standard
// normal distribution scaled by strength.
func SampleAnchors(dim, count int, strength float64, rng *rand.Rand) (Anchors, error) {
	switch {
	case dim < 1:
		return nil, fmt.Errorf("%w: latent dimension must be >= 1, got %d", model.ErrValidation, dim)
	case count < 1:
		return nil, fmt.Errorf("%w: anchor count must be >= 1, got %d", model.ErrValidation, count)
	case math.IsNaN(strength) || math.IsInf(strength, 0) || strength < 0:
		return nil, fmt.Errorf("%w: strength must be finite and >= 0, got %g", model.ErrValidation, strength)
	case rng == nil:
		return nil, fmt.Errorf("%w: nil random source", model.ErrValidation)
	}

	anchors := make(Anchors, count)
	for i := range anchors {
		v := make(Vector, dim)
		for j := range v {
			v[j] = rng.NormFloat64() * strength
		}
		anchors[i] = v
	}
	return anchors, nil
}

// BuildWalk interpolates totalFrames vectors piecewise-linearly through
// anchors. The first and last vectors equal the first and last anchors
// exactly; each returned vector is a fresh copy.
func BuildWalk(anchors Anchors, totalFrames int) Walk {
	if totalFrames <= 0 || len(anchors) == 0 {
		return Walk{}
	}
	if totalFrames == 1 {
		return Walk{clone(anchors[0])}
	}

	last := len(anchors) - 1
	walk := make(Walk, totalFrames)
	for i := range walk {
		// Integer numerator keeps p exact at both endpoints.
		p := float64(i*last) / float64(totalFrames-1)
		lo := int(math.Floor(p))
		if lo >= last {
			walk[i] = clone(anchors[last])
			continue
		}
		alpha := p - float64(lo)
		walk[i] = lerp(anchors[lo], anchors[lo+1], alpha)
	}
	return walk
}

func lerp(a, b Vector, alpha float64) Vector {
	if alpha == 0 {
		return clone(a)
	}
	out := make(Vector, len(a))
	for j := range out {
		out[j] = a[j]*(1-alpha) + b[j]*alpha
	}
	return out
}

func clone(v Vector) Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
