package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/internal/registry"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

type fakeModule struct {
	id          string
	initErr     error
	shutdownErr error
	initialized bool
	shutdown    bool
}

func (f *fakeModule) Store(ctx context.Context, userID, content string, metadata models.Metadata) (string, error) {
	return "", nil
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
func (f *fakeModule) GetConfig() models.ModuleConfig { return models.ModuleConfig{} }
func (f *fakeModule) Initialize(ctx context.Context) error {
	f.initialized = true
	return f.initErr
}
func (f *fakeModule) Shutdown(ctx context.Context) error {
	f.shutdown = true
	return f.shutdownErr
}
func (f *fakeModule) HealthCheck(ctx context.Context) (bool, error)       { return true, nil }
func (f *fakeModule) OnConfigUpdate(cfg models.ModuleConfig)              {}
func (f *fakeModule) OnModuleConnect(otherID string, other module.Module) {}
func (f *fakeModule) OnEvent(ctx context.Context, name string, payload any) {}
func (f *fakeModule) ID() string { return f.id }

var _ module.Module = (*fakeModule)(nil)

func cand(id string, requires ...string) (Candidate, *fakeModule) {
	m := &fakeModule{id: id}
	return Candidate{Instance: m, Descr: models.ModuleDescriptor{ID: id, Requires: requires}}, m
}

func TestLoadAllOrdersByDependency(t *testing.T) {
	reg := registry.New()
	l := New(reg)

	cA, _ := cand("a")
	cB, _ := cand("b", "a")
	cC, _ := cand("c", "b")

	// Intentionally out of order.
	require.NoError(t, l.LoadAll(context.Background(), []Candidate{cC, cA, cB}))

	for _, id := range []string{"a", "b", "c"} {
		_, ok := reg.Get(id)
		assert.True(t, ok, "module %s should be registered", id)
	}
}

func TestLoadAllSkipsCycleButLoadsRest(t *testing.T) {
	reg := registry.New()
	l := New(reg)

	cA, _ := cand("a", "b")
	cB, _ := cand("b", "a")
	cC, _ := cand("c")

	require.NoError(t, l.LoadAll(context.Background(), []Candidate{cA, cB, cC}))

	_, okC := reg.Get("c")
	assert.True(t, okC)
	_, okA := reg.Get("a")
	assert.False(t, okA, "cyclic module a must be skipped")
	_, okB := reg.Get("b")
	assert.False(t, okB, "cyclic module b must be skipped")
}

func TestLoadAllSkipsUnknownDependency(t *testing.T) {
	reg := registry.New()
	l := New(reg)

	cA, _ := cand("a", "ghost")
	require.NoError(t, l.LoadAll(context.Background(), []Candidate{cA}))

	_, ok := reg.Get("a")
	assert.False(t, ok)
}

func TestUnloadRefusesWhileDependentsLive(t *testing.T) {
	reg := registry.New()
	l := New(reg)

	cA, _ := cand("a")
	cB, _ := cand("b", "a")
	require.NoError(t, l.LoadAll(context.Background(), []Candidate{cA, cB}))

	err := l.Unload(context.Background(), "a")
	assert.Error(t, err)
}

func TestUnloadSucceedsOnceDependentsGone(t *testing.T) {
	reg := registry.New()
	l := New(reg)

	cA, _ := cand("a")
	cB, _ := cand("b", "a")
	require.NoError(t, l.LoadAll(context.Background(), []Candidate{cA, cB}))

	require.NoError(t, l.Unload(context.Background(), "b"))
	require.NoError(t, l.Unload(context.Background(), "a"))

	_, ok := reg.Get("a")
	assert.False(t, ok)
}

func TestBroadcastWithLoadedModuleDoesNotPanic(t *testing.T) {
	reg := registry.New()
	l := New(reg)

	cA, mA := cand("a")
	require.NoError(t, l.LoadAll(context.Background(), []Candidate{cA}))

	l.Broadcast(context.Background(), "ping", nil)
	_ = mA // event delivery is already covered by registry_test.go; this just
	       // confirms loader.Broadcast reaches the registry without panicking
}
