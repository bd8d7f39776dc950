package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// resultCacheEntry is a TopK result set with the time it was cached, so
// entries can be treated as expired without a separate janitor goroutine.
// Grounded on the resultCache/queryCache pair in the teacher's
// internal/vector/sqlitevec/client.go, traded here for an LRU-bounded map
// plus an inline TTL check (golang-lru/v2 has no native TTL).
type resultCacheEntry struct {
	rows      []RowWithScore
	cachedAt  time.Time
}

// SQLiteVecAdapter is a pure-Go fallback Adapter for deployments without
// PostgreSQL/pgvector: modernc.org/sqlite for storage, a brute-force cosine
// scan for similarity (no sqlite-vec cgo extension available), and an
// LRU+TTL result cache to absorb repeat queries, grounded on the teacher's
// sqlitevec.Client.
type SQLiteVecAdapter struct {
	db        *sql.DB
	tableName string
	dim       int
	cacheTTL  time.Duration

	mu    sync.Mutex
	cache *lru.Cache[string, resultCacheEntry]
}

// NewSQLiteVecAdapter wraps db and returns an adapter bound to
// tableName. Callers share one *sql.DB across modules; EnsureSQLiteTable
// must be called once per table before use.
func NewSQLiteVecAdapter(db *sql.DB, tableName string, dim int) (*SQLiteVecAdapter, error) {
	cache, err := lru.New[string, resultCacheEntry](256)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &SQLiteVecAdapter{
		db:        db,
		tableName: tableName,
		dim:       dim,
		cacheTTL:  60 * time.Second,
		cache:     cache,
	}, nil
}

// OpenSQLite opens a modernc.org/sqlite database at path (use ":memory:"
// for ephemeral test databases).
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention
	return db, nil
}

// EnsureSQLiteTable creates the per-module table if it does not exist.
// The embedding column stores the raw little-endian float32 vector as a
// BLOB; there is no ANN index, so TopK always does a full scan.
func EnsureSQLiteTable(ctx context.Context, db *sql.DB, tableName string) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`, tableName)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %[1]s_user_id_idx ON %[1]s (user_id)`, tableName))
	if err != nil {
		return fmt.Errorf("create user_id index on %s: %w", tableName, err)
	}
	return nil
}

func (a *SQLiteVecAdapter) Insert(ctx context.Context, row Row) (string, error) {
	metaJSON, err := json.Marshal(row.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	now := time.Now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.LastAccessed.IsZero() {
		row.LastAccessed = now
	}
	blob := encodeVector(row.Vector)

	_, err = a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, content, embedding, metadata, access_count, last_accessed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`, a.tableName),
		row.ID, row.UserID, row.Content, blob, string(metaJSON),
		row.AccessCount, row.LastAccessed.Unix(), row.CreatedAt.Unix(), row.UpdatedAt.Unix())
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", a.tableName, err)
	}
	a.invalidateCache()
	return row.ID, nil
}

func (a *SQLiteVecAdapter) GetByID(ctx context.Context, userID, id string) (*Row, error) {
	row := a.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, user_id, content, embedding, metadata, access_count, last_accessed, created_at, updated_at
		 FROM %s WHERE id = ? AND user_id = ?`, a.tableName), id, userID)
	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s from %s: %w", id, a.tableName, err)
	}
	return r, nil
}

func (a *SQLiteVecAdapter) Update(ctx context.Context, userID, id string, patch UpdatePatch) (bool, error) {
	existing, err := a.GetByID(ctx, userID, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	content := existing.Content
	if patch.Content != nil {
		content = *patch.Content
	}
	vec := existing.Vector
	if len(patch.Vector) > 0 {
		vec = patch.Vector
	}
	meta := existing.Metadata
	if patch.Metadata != nil {
		meta = patch.Metadata
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := a.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET content = ?, embedding = ?, metadata = ?, updated_at = ? WHERE id = ? AND user_id = ?`, a.tableName),
		content, encodeVector(vec), string(metaJSON), time.Now().Unix(), id, userID)
	if err != nil {
		return false, fmt.Errorf("update %s in %s: %w", id, a.tableName, err)
	}
	a.invalidateCache()
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Touch bumps access_count and last_accessed without touching content,
// embedding or metadata (spec.md 4.3 step 3: Get increments accessCount).
func (a *SQLiteVecAdapter) Touch(ctx context.Context, userID, id string) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET access_count = access_count + 1, last_accessed = ? WHERE id = ? AND user_id = ?`, a.tableName),
		time.Now().Unix(), id, userID)
	if err != nil {
		return fmt.Errorf("touch %s in %s: %w", id, a.tableName, err)
	}
	return nil
}

func (a *SQLiteVecAdapter) Delete(ctx context.Context, userID, id string) (bool, error) {
	res, err := a.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = ? AND user_id = ?`, a.tableName), id, userID)
	if err != nil {
		return false, fmt.Errorf("delete %s from %s: %w", id, a.tableName, err)
	}
	a.invalidateCache()
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TopK performs a brute-force cosine scan, since the pure-Go sqlite driver
// has no vector index. Results are cached briefly (cacheTTL) keyed by the
// exact query parameters, mirroring the teacher's resultCache but bounded
// by an LRU rather than manual eviction bookkeeping.
func (a *SQLiteVecAdapter) TopK(ctx context.Context, userID string, vec []float32, k int, minScore float32, filter map[string]any) ([]RowWithScore, error) {
	if k <= 0 {
		return nil, nil
	}
	cacheKey, err := resultCacheKey(userID, vec, k, minScore, filter)
	if err == nil {
		if cached, ok := a.lookupCache(cacheKey); ok {
			return cached, nil
		}
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, user_id, content, embedding, metadata, access_count, last_accessed, created_at, updated_at
		 FROM %s WHERE user_id = ?`, a.tableName), userID)
	if err != nil {
		return nil, fmt.Errorf("topK scan on %s: %w", a.tableName, err)
	}
	defer rows.Close()

	var scored []RowWithScore
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topK row: %w", err)
		}
		if !matchesFilter(r.Metadata, filter) {
			continue
		}
		score := cosine(vec, r.Vector)
		if score < minScore {
			continue
		}
		scored = append(scored, RowWithScore{Row: *r, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}

	if cacheKey != "" {
		a.storeCache(cacheKey, scored)
	}
	return scored, nil
}

func (a *SQLiteVecAdapter) Count(ctx context.Context, userID string) (Stats, error) {
	var count int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE user_id = ?`, a.tableName), userID).Scan(&count)
	if err != nil {
		return Stats{}, fmt.Errorf("count %s: %w", a.tableName, err)
	}
	return Stats{Count: count}, nil
}

// ListPage returns up to limit rows ordered by id, starting strictly after
// cursor, for the reconciliation worker's table scan (spec.md 7). Ignores
// user_id, unlike TopK: reconciliation repairs the whole table.
func (a *SQLiteVecAdapter) ListPage(ctx context.Context, cursor string, limit int) ([]Row, string, error) {
	if limit <= 0 {
		return nil, "", nil
	}
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == "" {
		rows, err = a.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT id, user_id, content, embedding, metadata, access_count, last_accessed, created_at, updated_at
			 FROM %s ORDER BY id ASC LIMIT ?`, a.tableName), limit)
	} else {
		rows, err = a.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT id, user_id, content, embedding, metadata, access_count, last_accessed, created_at, updated_at
			 FROM %s WHERE id > ? ORDER BY id ASC LIMIT ?`, a.tableName), cursor, limit)
	}
	if err != nil {
		return nil, "", fmt.Errorf("list page of %s: %w", a.tableName, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan list page row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (a *SQLiteVecAdapter) HealthCheck(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *SQLiteVecAdapter) Close() error {
	return a.db.Close()
}

func (a *SQLiteVecAdapter) invalidateCache() {
	a.mu.Lock()
	a.cache.Purge()
	a.mu.Unlock()
}

func (a *SQLiteVecAdapter) lookupCache(key string) ([]RowWithScore, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Since(entry.cachedAt) > a.cacheTTL {
		a.cache.Remove(key)
		return nil, false
	}
	out := make([]RowWithScore, len(entry.rows))
	copy(out, entry.rows)
	return out, true
}

func (a *SQLiteVecAdapter) storeCache(key string, rows []RowWithScore) {
	cp := make([]RowWithScore, len(rows))
	copy(cp, rows)
	a.mu.Lock()
	a.cache.Add(key, resultCacheEntry{rows: cp, cachedAt: time.Now()})
	a.mu.Unlock()
}

func resultCacheKey(userID string, vec []float32, k int, minScore float32, filter map[string]any) (string, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return "", err
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%d|%f|%s|%s", userID, k, minScore, filterJSON, vecJSON), nil
}

func matchesFilter(meta models.Metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		bits := math.Float32bits(v)
		buf[4*i] = byte(bits)
		buf[4*i+1] = byte(bits >> 8)
		buf[4*i+2] = byte(bits >> 16)
		buf[4*i+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		bits := uint32(buf[4*i]) | uint32(buf[4*i+1])<<8 | uint32(buf[4*i+2])<<16 | uint32(buf[4*i+3])<<24
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (*Row, error) {
	var (
		r                      Row
		embBlob                []byte
		metaJSON               string
		lastAccessed, created, updated int64
	)
	if err := s.Scan(&r.ID, &r.UserID, &r.Content, &embBlob, &metaJSON, &r.AccessCount, &lastAccessed, &created, &updated); err != nil {
		return nil, err
	}
	r.Vector = decodeVector(embBlob)
	var meta models.Metadata
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	r.Metadata = meta
	r.LastAccessed = time.Unix(lastAccessed, 0)
	r.CreatedAt = time.Unix(created, 0)
	r.UpdatedAt = time.Unix(updated, 0)
	return &r, nil
}

var _ Adapter = (*SQLiteVecAdapter)(nil)
