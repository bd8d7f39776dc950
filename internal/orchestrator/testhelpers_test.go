package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// fakeModule is a configurable module.Module stub: it can return fixed
// results, an error, or stall past a deadline, and it counts how many
// times each method was invoked so tests can assert on fan-out shape.
type fakeModule struct {
	id      string
	delay   time.Duration
	err     error
	results []models.SearchResult

	searchCalls int32
	getCalls    int32
}

func (f *fakeModule) Store(ctx context.Context, userID, content string, metadata models.Metadata) (string, error) {
	return "generated-id", nil
}

func (f *fakeModule) Search(ctx context.Context, userID, query string, opts models.SearchOptions) ([]models.SearchResult, error) {
	return f.SearchByEmbedding(ctx, userID, nil, opts)
}

func (f *fakeModule) SearchByEmbedding(ctx context.Context, userID string, vec []float32, opts models.SearchOptions) ([]models.SearchResult, error) {
	atomic.AddInt32(&f.searchCalls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeModule) Get(ctx context.Context, userID, id string) (*models.Memory, error) {
	atomic.AddInt32(&f.getCalls, 1)
	return &models.Memory{ID: id, UserID: userID, ModuleID: f.id}, nil
}

func (f *fakeModule) Update(ctx context.Context, userID, id string, patch models.ContentPatch) (bool, error) {
	return true, nil
}
func (f *fakeModule) Delete(ctx context.Context, userID, id string) (bool, error) { return true, nil }
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
func (f *fakeModule) ID() string { return f.id }

var _ module.Module = (*fakeModule)(nil)

// fakeRegistry is an in-memory Registry: no locking needed since tests
// build it fully before handing it to the Orchestrator.
type fakeRegistry struct {
	mods   map[string]module.Module
	active []string
	health map[string]models.ModuleHealth
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{mods: make(map[string]module.Module), health: make(map[string]models.ModuleHealth)}
}

func (r *fakeRegistry) add(m *fakeModule, active bool) {
	r.mods[m.id] = m
	if active {
		r.active = append(r.active, m.id)
	}
}

func (r *fakeRegistry) Get(id string) (module.Module, bool) { m, ok := r.mods[id]; return m, ok }
func (r *fakeRegistry) ListActive() []string                { return r.active }
func (r *fakeRegistry) Health(id string) (models.ModuleHealth, bool) {
	h, ok := r.health[id]
	return h, ok
}

// fakeRouter returns a fixed RoutingDecision regardless of input, or an
// error if errOut is set.
type fakeRouter struct {
	decision models.RoutingDecision
	errOut   error
}

func (r *fakeRouter) Route(ctx context.Context, userID string, qv []float32, kModules int, activeModules []string) (models.RoutingDecision, error) {
	if r.errOut != nil {
		return models.RoutingDecision{}, r.errOut
	}
	return r.decision, nil
}

// fakeEmbedder returns fixed-shape vectors; content is irrelevant to
// the orchestrator tests, which stub module-level search directly.
type fakeEmbedder struct{}

func (fakeEmbedder) Full(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) Compressed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (fakeEmbedder) FullDim() int       { return 3 }
func (fakeEmbedder) CompressedDim() int { return 2 }

// countingEmbedder counts Full calls and optionally stalls inside each one,
// so a test can hold several concurrent callers inside Full at once and
// assert how many actually reached the embedder.
type countingEmbedder struct {
	delay     time.Duration
	fullCalls int32
}

func (e *countingEmbedder) Full(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&e.fullCalls, 1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return []float32{1, 0, 0}, nil
}
func (e *countingEmbedder) Compressed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (e *countingEmbedder) FullDim() int       { return 3 }
func (e *countingEmbedder) CompressedDim() int { return 2 }

// testCache is a minimal thread-safe cache.Cache implementation.
type testCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newTestCache() *testCache { return &testCache{data: make(map[string][]byte)} }

func (c *testCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}
func (c *testCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}
func (c *testCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
func (c *testCache) DelPrefix(ctx context.Context, prefix string) error { return nil }
func (c *testCache) Close() error                                      { return nil }

func (c *testCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
