package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/example/latentwalk/api-go/internal/latent"
	"github.com/example/latentwalk/api-go/internal/model"
)

const (
	proceduralSize = 64
	proceduralSeed = 0x6c77
)

// Procedural is a built-in generator: a fixed, seeded linear projection of
// the latent vector onto a 64x64 RGB plane followed by tanh. It stands in for
// a trained model and produces smooth, deterministic output for any walk.
type Procedural struct {
	dim     int
	weights []float32 // (3*64*64) x dim, row-major
	bias    []float32
}

// NewProcedural builds the projection for dim-dimensional latents.
func NewProcedural(dim int) (*Procedural, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: latent dimension must be >= 1, got %d", model.ErrValidation, dim)
	}
	out := 3 * proceduralSize * proceduralSize
	rng := rand.New(rand.NewPCG(proceduralSeed, uint64(dim)))
	scale := 1 / math.Sqrt(float64(dim))
	p := &Procedural{
		dim:     dim,
		weights: make([]float32, out*dim),
		bias:    make([]float32, out),
	}
	for i := range p.weights {
		p.weights[i] = float32(rng.NormFloat64() * scale)
	}
	for i := range p.bias {
		p.bias[i] = float32(rng.NormFloat64() * 0.1)
	}
	return p, nil
}

func (p *Procedural) Dim() int { return p.dim }

// Reentrant is always true; weights are read-only after construction.
func (p *Procedural) Reentrant() bool { return true }

func (p *Procedural) Generate(ctx context.Context, z latent.Vector) (Raw, error) {
	if len(z) != p.dim {
		return Raw{}, fmt.Errorf("%w: latent has %d dims, generator expects %d", model.ErrSynthesis, len(z), p.dim)
	}
	if err := ctx.Err(); err != nil {
		return Raw{}, err
	}
	data := make([]float32, len(p.bias))
	for o := range data {
		row := p.weights[o*p.dim : (o+1)*p.dim]
		acc := float64(p.bias[o])
		for j, w := range row {
			acc += float64(w) * z[j]
		}
		data[o] = float32(math.Tanh(acc))
	}
	return Raw{Channels: 3, Height: proceduralSize, Width: proceduralSize, Data: data}, nil
}
