package module

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/4xguy/federated-memory-sub003/internal/cache"
	"github.com/4xguy/federated-memory-sub003/internal/embedding"
	"github.com/4xguy/federated-memory-sub003/internal/vectorstore"
)

// memAdapter is an in-memory vectorstore.Adapter stub for module tests,
// grounded on the same shape as vectorstore.SQLiteVecAdapter but without
// any SQL, so base_test.go exercises BaseModule logic in isolation.
type memAdapter struct {
	mu   sync.Mutex
	rows map[string]vectorstore.Row // keyed by userID+"/"+id
}

func newMemAdapter() *memAdapter {
	return &memAdapter{rows: make(map[string]vectorstore.Row)}
}

func (a *memAdapter) key(userID, id string) string { return userID + "/" + id }

func (a *memAdapter) Insert(ctx context.Context, row vectorstore.Row) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows[a.key(row.UserID, row.ID)] = row
	return row.ID, nil
}

func (a *memAdapter) GetByID(ctx context.Context, userID, id string) (*vectorstore.Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row, ok := a.rows[a.key(userID, id)]
	if !ok {
		return nil, nil
	}
	cp := row
	return &cp, nil
}

func (a *memAdapter) Update(ctx context.Context, userID, id string, patch vectorstore.UpdatePatch) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := a.key(userID, id)
	row, ok := a.rows[k]
	if !ok {
		return false, nil
	}
	if patch.Content != nil {
		row.Content = *patch.Content
	}
	if len(patch.Vector) > 0 {
		row.Vector = patch.Vector
	}
	if patch.Metadata != nil {
		row.Metadata = patch.Metadata
	}
	a.rows[k] = row
	return true, nil
}

func (a *memAdapter) Delete(ctx context.Context, userID, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := a.key(userID, id)
	if _, ok := a.rows[k]; !ok {
		return false, nil
	}
	delete(a.rows, k)
	return true, nil
}

func (a *memAdapter) Touch(ctx context.Context, userID, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := a.key(userID, id)
	row, ok := a.rows[k]
	if !ok {
		return nil
	}
	row.AccessCount++
	a.rows[k] = row
	return nil
}

func (a *memAdapter) TopK(ctx context.Context, userID string, vec []float32, k int, minScore float32, filter map[string]any) ([]vectorstore.RowWithScore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []vectorstore.RowWithScore
	for _, row := range a.rows {
		if row.UserID != userID {
			continue
		}
		out = append(out, vectorstore.RowWithScore{Row: row, Score: 1})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (a *memAdapter) Count(ctx context.Context, userID string) (vectorstore.Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, row := range a.rows {
		if row.UserID == userID {
			n++
		}
	}
	return vectorstore.Stats{Count: n}, nil
}

func (a *memAdapter) ListPage(ctx context.Context, cursor string, limit int) ([]vectorstore.Row, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.rows))
	byID := make(map[string]vectorstore.Row, len(a.rows))
	for _, row := range a.rows {
		ids = append(ids, row.ID)
		byID[row.ID] = row
	}
	sort.Strings(ids)
	var out []vectorstore.Row
	for _, id := range ids {
		if cursor != "" && id <= cursor {
			continue
		}
		out = append(out, byID[id])
		if len(out) >= limit {
			break
		}
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (a *memAdapter) HealthCheck(ctx context.Context) error { return nil }
func (a *memAdapter) Close() error                          { return nil }

var _ vectorstore.Adapter = (*memAdapter)(nil)

// memCache is an in-memory cache.Cache stub.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) DelPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.data, k)
		}
	}
	return nil
}

func (c *memCache) Close() error { return nil }

var _ cache.Cache = (*memCache)(nil)

// stubCMI is an in-memory CMIIndexer stub.
type stubCMI struct {
	mu      sync.Mutex
	indexed map[string]bool // key: moduleID+"/"+remoteID
	failNext bool
}

func newStubCMI() *stubCMI { return &stubCMI{indexed: make(map[string]bool)} }

func (s *stubCMI) IndexMemory(ctx context.Context, userID, moduleID, remoteID string, cvec []float32, title, summary string, keywords, categories []string, importance float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return context.DeadlineExceeded
	}
	s.indexed[moduleID+"/"+remoteID] = true
	return nil
}

func (s *stubCMI) DeleteIndex(ctx context.Context, moduleID, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexed, moduleID+"/"+remoteID)
	return nil
}

// stubEmbedder is a deterministic embedding.Provider stub.
type stubEmbedder struct{}

func (stubEmbedder) Full(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubEmbedder) Compressed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) FullDim() int       { return 3 }
func (stubEmbedder) CompressedDim() int { return 2 }

var _ embedding.Provider = stubEmbedder{}
var _ CMIIndexer = (*stubCMI)(nil)
