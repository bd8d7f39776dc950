package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// fakeModule is a minimal module.Module stub for registry tests, which
// only exercise registration bookkeeping, not store/search behaviour.
type fakeModule struct {
	id             string
	lastConfig     models.ModuleConfig
	lastEventName  string
	lastEventCount int
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
func (f *fakeModule) GetConfig() models.ModuleConfig             { return f.lastConfig }
func (f *fakeModule) Initialize(ctx context.Context) error       { return nil }
func (f *fakeModule) Shutdown(ctx context.Context) error         { return nil }
func (f *fakeModule) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeModule) OnConfigUpdate(cfg models.ModuleConfig)     { f.lastConfig = cfg }
func (f *fakeModule) OnModuleConnect(otherID string, other module.Module) {}
func (f *fakeModule) OnEvent(ctx context.Context, name string, payload any) {
	f.lastEventName = name
	f.lastEventCount++
}
func (f *fakeModule) ID() string { return f.id }

var _ module.Module = (*fakeModule)(nil)

func TestRegisterStampsTypeDefaults(t *testing.T) {
	r := New()
	m := &fakeModule{id: "technical"}
	err := r.Register(m, models.ModuleDescriptor{ID: "technical", Type: models.ModuleTypeStandard, IsActive: true})
	require.NoError(t, err)

	d, ok := r.Descriptor("technical")
	require.True(t, ok)
	assert.Equal(t, 10000, d.Configuration.MaxMemorySize)
	assert.Equal(t, 365, d.Configuration.RetentionDays)
}

func TestRegisterRejectsMismatchedID(t *testing.T) {
	r := New()
	m := &fakeModule{id: "technical"}
	err := r.Register(m, models.ModuleDescriptor{ID: "personal"})
	assert.Error(t, err)
}

func TestGetUnknownModuleReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestListActiveOnlyReturnsActiveModules(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeModule{id: "a"}, models.ModuleDescriptor{ID: "a", IsActive: true}))
	require.NoError(t, r.Register(&fakeModule{id: "b"}, models.ModuleDescriptor{ID: "b", IsActive: false}))
	assert.Equal(t, []string{"a"}, r.ListActive())
}

func TestListByTypeFilters(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeModule{id: "a"}, models.ModuleDescriptor{ID: "a", Type: models.ModuleTypeStandard}))
	require.NoError(t, r.Register(&fakeModule{id: "b"}, models.ModuleDescriptor{ID: "b", Type: models.ModuleTypeExternal}))
	assert.Equal(t, []string{"a"}, r.ListByType(models.ModuleTypeStandard))
}

func TestUpdateConfigNotifiesInstance(t *testing.T) {
	r := New()
	m := &fakeModule{id: "a"}
	require.NoError(t, r.Register(m, models.ModuleDescriptor{ID: "a"}))

	patch := models.ModuleConfig{MaxMemorySize: 42}
	require.NoError(t, r.UpdateConfig("a", patch))
	assert.Equal(t, 42, m.lastConfig.MaxMemorySize)

	d, _ := r.Descriptor("a")
	assert.Equal(t, 42, d.Configuration.MaxMemorySize)
}

func TestSetHealthDerivesLifecycleState(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeModule{id: "a"}, models.ModuleDescriptor{ID: "a"}))

	r.SetHealth("a", models.ModuleHealth{Status: models.HealthUnhealthy})
	state, _ := r.State("a")
	assert.Equal(t, models.StateActiveUnhealthy, state)

	r.SetHealth("a", models.ModuleHealth{Status: models.HealthHealthy})
	state, _ = r.State("a")
	assert.Equal(t, models.StateActive, state)
}

func TestUnregisterRemovesModule(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeModule{id: "a"}, models.ModuleDescriptor{ID: "a"}))
	r.Unregister("a")
	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestBroadcastReachesEveryModule(t *testing.T) {
	r := New()
	a, b := &fakeModule{id: "a"}, &fakeModule{id: "b"}
	require.NoError(t, r.Register(a, models.ModuleDescriptor{ID: "a"}))
	require.NoError(t, r.Register(b, models.ModuleDescriptor{ID: "b"}))

	r.Broadcast(context.Background(), "reload", nil)
	assert.Equal(t, "reload", a.lastEventName)
	assert.Equal(t, "reload", b.lastEventName)
}
