package embedding

import (
	"context"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// mockProvider is the deterministic, hash-derived embedder of spec.md 4.1:
// "a deterministic 'mock' mode (stable pseudo-random vector derived from a
// content hash)". It is a test-time contract, not a production fallback —
// production callers must set EMBEDDING_KEY or fail fast at startup
// (enforced by NewFromConfig in service.go).
type mockProvider struct {
	fDim int
	cDim int
}

// NewMock returns a Provider that derives both vectors from a BLAKE2b hash
// of the input text, expanded with a counter-mode stream so it can fill an
// arbitrary number of dimensions without re-hashing per element.
func NewMock(fDim, cDim int) Provider {
	return &mockProvider{fDim: fDim, cDim: cDim}
}

func (m *mockProvider) FullDim() int       { return m.fDim }
func (m *mockProvider) CompressedDim() int { return m.cDim }

func (m *mockProvider) Full(_ context.Context, text string) ([]float32, error) {
	return hashVector(text, "full", m.fDim), nil
}

func (m *mockProvider) Compressed(_ context.Context, text string) ([]float32, error) {
	return hashVector(text, "compressed", m.cDim), nil
}

// hashVector expands blake2b(salt||text||counter) into dim float32s in
// [-1, 1), then unit-normalises the result.
func hashVector(text, salt string, dim int) []float32 {
	out := make([]float32, dim)
	var counter uint32
	for i := 0; i < dim; i += 8 {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], counter)
		sum := blake2b.Sum256([]byte(salt + ":" + text + ":" + string(buf[:])))
		for j := 0; j < 8 && i+j < dim; j++ {
			// Map a byte pair to a float in [-1, 1).
			v := int16(binary.BigEndian.Uint16(sum[2*j : 2*j+2]))
			out[i+j] = float32(v) / float32(1<<15)
		}
		counter++
	}
	return Normalize(out)
}
