package embedding

import (
	"context"
	"math/rand"
)

// projectingProvider wraps a Provider that only natively emits a full
// vector and derives the compressed vector via a fixed random projection
// matrix, per spec.md 9 ("Dual-fidelity vectors ... If the embedding
// provider does not natively emit two sizes, the compressed vector is a
// deterministic random projection of the full one, fixed matrix seeded
// once at start-up and persisted").
type projectingProvider struct {
	full Provider
	proj [][]float32 // cDim x fDim
	cDim int
}

// NewProjecting wraps full with a deterministic random projection down to
// cDim, seeded by seed so the matrix is reproducible across restarts
// (the caller is responsible for persisting/reusing the seed).
func NewProjecting(full Provider, cDim int, seed int64) Provider {
	fDim := full.FullDim()
	r := rand.New(rand.NewSource(seed))
	proj := make([][]float32, cDim)
	for i := range proj {
		row := make([]float32, fDim)
		for j := range row {
			row[j] = float32(r.NormFloat64())
		}
		proj[i] = row
	}
	return &projectingProvider{full: full, proj: proj, cDim: cDim}
}

func (p *projectingProvider) FullDim() int       { return p.full.FullDim() }
func (p *projectingProvider) CompressedDim() int { return p.cDim }

func (p *projectingProvider) Full(ctx context.Context, text string) ([]float32, error) {
	return p.full.Full(ctx, text)
}

func (p *projectingProvider) Compressed(ctx context.Context, text string) ([]float32, error) {
	full, err := p.full.Full(ctx, text)
	if err != nil {
		return nil, err
	}
	return Normalize(p.project(full)), nil
}

func (p *projectingProvider) project(full []float32) []float32 {
	out := make([]float32, p.cDim)
	for i, row := range p.proj {
		var sum float32
		n := len(row)
		if len(full) < n {
			n = len(full)
		}
		for j := 0; j < n; j++ {
			sum += row[j] * full[j]
		}
		out[i] = sum
	}
	return out
}

// ProjectionSeed is the fixed seed used when no explicit seed is
// configured, so repeated process restarts without persisted state still
// produce a stable projection matrix.
const ProjectionSeed int64 = 0x6d656d6f7279 // "memory" in hex, arbitrary but fixed
