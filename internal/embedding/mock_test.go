package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProviderDeterministic(t *testing.T) {
	p := NewMock(64, 16)
	ctx := context.Background()

	a, err := p.Full(ctx, "hello world")
	require.NoError(t, err)
	b, err := p.Full(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b, "same text must produce the same full embedding")

	c, err := p.Full(ctx, "something else")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	assert.Len(t, a, 64)
	cv, err := p.Compressed(ctx, "hello world")
	require.NoError(t, err)
	assert.Len(t, cv, 16)
}

func TestMockProviderUnitNormalised(t *testing.T) {
	p := NewMock(32, 8)
	v, err := p.Full(context.Background(), "normalise me")
	require.NoError(t, err)

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 0.01)
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{0.6, 0.8}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-6)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-6)
}

func TestProjectingProviderStable(t *testing.T) {
	mock := NewMock(32, 0)
	proj := NewProjecting(mock, 8, ProjectionSeed)

	ctx := context.Background()
	a, err := proj.Compressed(ctx, "stable text")
	require.NoError(t, err)
	b, err := proj.Compressed(ctx, "stable text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 8)
}
