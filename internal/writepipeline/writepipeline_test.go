package writepipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/4xguy/federated-memory-sub003/internal/core"
	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// fakeModule's Store behaviour is fully scripted per test: a fixed id,
// a fixed error (or nil), and an optional per-call delay to exercise
// the bulk deadline.
type fakeModule struct {
	id    string
	err   error
	delay time.Duration
	calls int
}

func (f *fakeModule) Store(ctx context.Context, userID, content string, metadata models.Metadata) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.id, f.err
}

func (f *fakeModule) Search(ctx context.Context, userID, query string, opts models.SearchOptions) ([]models.SearchResult, error) {
	return nil, nil
}
func (f *fakeModule) SearchByEmbedding(ctx context.Context, userID string, vec []float32, opts models.SearchOptions) ([]models.SearchResult, error) {
	return nil, nil
}
func (f *fakeModule) Get(ctx context.Context, userID, id string) (*models.Memory, error) { return nil, nil }
func (f *fakeModule) Update(ctx context.Context, userID, id string, patch models.ContentPatch) (bool, error) {
	return false, nil
}
func (f *fakeModule) Delete(ctx context.Context, userID, id string) (bool, error) { return false, nil }
func (f *fakeModule) GetStats(ctx context.Context, userID string) (models.ModuleStats, error) {
	return models.ModuleStats{}, nil
}
func (f *fakeModule) GetConfig() models.ModuleConfig                     { return models.ModuleConfig{} }
func (f *fakeModule) Initialize(ctx context.Context) error                { return nil }
func (f *fakeModule) Shutdown(ctx context.Context) error                  { return nil }
func (f *fakeModule) HealthCheck(ctx context.Context) (bool, error)        { return true, nil }
func (f *fakeModule) OnConfigUpdate(cfg models.ModuleConfig)               {}
func (f *fakeModule) OnModuleConnect(otherID string, other module.Module) {}
func (f *fakeModule) OnEvent(ctx context.Context, name string, payload any) {}
func (f *fakeModule) ID() string { return "fake" }

var _ module.Module = (*fakeModule)(nil)

func TestStoreSuccessIsIndexed(t *testing.T) {
	m := &fakeModule{id: "m1"}
	p := New(0, 0)
	out := p.Store(context.Background(), m, "u1", "content", nil)
	assert.Equal(t, StateIndexed, out.State)
	assert.True(t, out.Indexed())
	assert.Equal(t, "m1", out.ID)
	assert.NoError(t, out.Err)
}

func TestStoreEmbedFailureIsFailedWithNoID(t *testing.T) {
	m := &fakeModule{id: "", err: core.NewModuleError("technical", core.KindTransient, errors.New("embed rpc 500"))}
	p := New(0, 0)
	out := p.Store(context.Background(), m, "u1", "content", nil)
	assert.Equal(t, StateFailed, out.State)
	assert.False(t, out.Indexed())
	assert.Empty(t, out.ID)
}

func TestStoreCMIFailureIsIndexPendingButKeepsID(t *testing.T) {
	m := &fakeModule{id: "m1", err: core.NewModuleError("technical", core.KindReconcile, errors.New("cmi down"))}
	p := New(0, 0)
	out := p.Store(context.Background(), m, "u1", "content", nil)
	assert.Equal(t, StateIndexPending, out.State)
	assert.False(t, out.Indexed())
	assert.Equal(t, "m1", out.ID, "id is still returned to the caller per spec.md 7")
}

func TestBulkStoreWritesEveryItemWhenFast(t *testing.T) {
	m := &fakeModule{id: "m1"}
	p := New(0, 0)
	items := []BulkItem{
		{UserID: "u1", Content: "a"},
		{UserID: "u1", Content: "b"},
		{UserID: "u1", Content: "c"},
	}
	results := p.BulkStore(context.Background(), m, items)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Outcome.Indexed())
	}
	assert.Equal(t, 3, m.calls)
}

func TestBulkStoreStopsCleanlyAtDeadline(t *testing.T) {
	m := &fakeModule{id: "m1", delay: 30 * time.Millisecond}
	p := New(0, 35*time.Millisecond)
	items := make([]BulkItem, 10)
	for i := range items {
		items[i] = BulkItem{UserID: "u1", Content: "x"}
	}

	results := p.BulkStore(context.Background(), m, items)
	assert.Less(t, len(results), 10, "bulk store should stop before finishing every item once the deadline hits")
}
