package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

func newTestAdapter(t *testing.T) *SQLiteVecAdapter {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, EnsureSQLiteTable(ctx, db, "mem_technical"))

	a, err := NewSQLiteVecAdapter(db, "mem_technical", 4)
	require.NoError(t, err)
	return a
}

func TestSQLiteVecAdapterInsertAndGet(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	id, err := a.Insert(ctx, Row{
		ID: "m1", UserID: "u1", Content: "hello",
		Vector:   []float32{1, 0, 0, 0},
		Metadata: models.Metadata{"title": "greeting"},
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	got, err := a.GetByID(ctx, "u1", "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, []float32{1, 0, 0, 0}, got.Vector)
	assert.Equal(t, "greeting", got.Metadata["title"])
}

func TestSQLiteVecAdapterGetByIDMissingReturnsNil(t *testing.T) {
	a := newTestAdapter(t)
	got, err := a.GetByID(context.Background(), "u1", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteVecAdapterTopKRanksByCosine(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Insert(ctx, Row{ID: "close", UserID: "u1", Content: "a", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	_, err = a.Insert(ctx, Row{ID: "far", UserID: "u1", Content: "b", Vector: []float32{0, 1, 0, 0}})
	require.NoError(t, err)
	_, err = a.Insert(ctx, Row{ID: "other-user", UserID: "u2", Content: "c", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)

	results, err := a.TopK(ctx, "u1", []float32{1, 0, 0, 0}, 5, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSQLiteVecAdapterTopKRespectsMinScore(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Insert(ctx, Row{ID: "orth", UserID: "u1", Content: "a", Vector: []float32{0, 1, 0, 0}})
	require.NoError(t, err)

	results, err := a.TopK(ctx, "u1", []float32{1, 0, 0, 0}, 5, 0.5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteVecAdapterTopKAppliesMetadataFilter(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Insert(ctx, Row{
		ID: "tagged", UserID: "u1", Content: "a", Vector: []float32{1, 0, 0, 0},
		Metadata: models.Metadata{"category": "infra"},
	})
	require.NoError(t, err)
	_, err = a.Insert(ctx, Row{
		ID: "untagged", UserID: "u1", Content: "b", Vector: []float32{1, 0, 0, 0},
		Metadata: models.Metadata{"category": "frontend"},
	})
	require.NoError(t, err)

	results, err := a.TopK(ctx, "u1", []float32{1, 0, 0, 0}, 5, 0, map[string]any{"category": "infra"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tagged", results[0].ID)
}

func TestSQLiteVecAdapterUpdateAndDelete(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Insert(ctx, Row{ID: "m1", UserID: "u1", Content: "before", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)

	newContent := "after"
	ok, err := a.Update(ctx, "u1", "m1", UpdatePatch{Content: &newContent})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := a.GetByID(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Content)

	ok, err = a.Delete(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = a.GetByID(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteVecAdapterCount(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Insert(ctx, Row{ID: "m1", UserID: "u1", Content: "a", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	_, err = a.Insert(ctx, Row{ID: "m2", UserID: "u1", Content: "b", Vector: []float32{0, 1, 0, 0}})
	require.NoError(t, err)

	stats, err := a.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Count)
}

func TestCosineHelper(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-6)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestEncodeDecodeVectorRoundTrip(t *testing.T) {
	v := []float32{1.5, -2.25, 0, 3.125}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
