// Package vectorstore implements the per-module vector store adapter
// (spec.md 4.2, C2): physical persistence of full-fidelity memory rows
// with cosine-similarity top-K search.
package vectorstore

import (
	"context"
	"time"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// Row is one physical record in a module's table.
type Row struct {
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccessed time.Time
	ID           string
	UserID       string
	Content      string
	Vector       []float32
	Metadata     models.Metadata
	AccessCount  uint64
}

// RowWithScore is a Row annotated with its similarity score against a
// query vector.
type RowWithScore struct {
	Row
	Score float32
}

// UpdatePatch describes a partial update to a row. Nil fields are left
// unchanged; Vector is only applied when non-nil and non-empty.
type UpdatePatch struct {
	Content  *string
	Vector   []float32
	Metadata models.Metadata
}

// Stats summarises a module's adapter-backed table for one user.
type Stats struct {
	Count        int64
	LastWrite    time.Time
}

// Adapter is the per-module low-level persistence contract of spec.md 4.2.
// Implementations must return results sorted descending by score,
// truncated at k, with score >= minScore.
type Adapter interface {
	Insert(ctx context.Context, row Row) (string, error)
	GetByID(ctx context.Context, userID, id string) (*Row, error)
	Update(ctx context.Context, userID, id string, patch UpdatePatch) (bool, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
	// Touch bumps access_count and last_accessed for a read, without the
	// content/embedding/metadata plumbing a full Update carries.
	Touch(ctx context.Context, userID, id string) error
	TopK(ctx context.Context, userID string, vec []float32, k int, minScore float32, filter map[string]any) ([]RowWithScore, error)
	Count(ctx context.Context, userID string) (Stats, error)
	// ListPage returns up to limit rows ordered by id across every user,
	// starting strictly after cursor (empty cursor starts from the
	// beginning), plus the cursor to pass on the next call. An empty
	// nextCursor means there are no more rows. Used by the reconciliation
	// worker (internal/reconcile) to scan a module's full table without
	// holding one unbounded query open.
	ListPage(ctx context.Context, cursor string, limit int) (rows []Row, nextCursor string, err error)
	HealthCheck(ctx context.Context) error
	Close() error
}
