// Package module implements the uniform memory module contract (C3,
// spec.md 4.3): store/search/get/update/delete plus lifecycle and event
// hooks, with a shared "base" implementation and a thin, per-module
// enrichment function as the only point of variation. Grounded on the
// base-service-plus-pluggable-hook shape of the teacher's
// internal/worker/service.go, generalised from one monolithic worker to
// six interchangeable module instances.
package module

import (
	"context"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// Module is the contract every memory module satisfies (spec.md 4.3).
type Module interface {
	Store(ctx context.Context, userID, content string, metadata models.Metadata) (string, error)
	Search(ctx context.Context, userID, query string, opts models.SearchOptions) ([]models.SearchResult, error)
	SearchByEmbedding(ctx context.Context, userID string, vec []float32, opts models.SearchOptions) ([]models.SearchResult, error)
	Get(ctx context.Context, userID, id string) (*models.Memory, error)
	Update(ctx context.Context, userID, id string, patch models.ContentPatch) (bool, error)
	Delete(ctx context.Context, userID, id string) (bool, error)

	GetStats(ctx context.Context, userID string) (models.ModuleStats, error)
	GetConfig() models.ModuleConfig

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) (bool, error)

	OnConfigUpdate(cfg models.ModuleConfig)
	OnModuleConnect(otherID string, other Module)
	OnEvent(ctx context.Context, name string, payload any)

	ID() string
}

// Enricher is the sole per-module variation point (spec.md 4.3): a pure,
// idempotent function from (content, metadata-in) to metadata-out that
// populates the tracked CMI fields (title, summary, keywords,
// categories, importanceScore) alongside whatever module-specific
// derivations it adds. Implementations MUST satisfy
// EnrichMetadata(c, EnrichMetadata(c, m)) == EnrichMetadata(c, m).
type Enricher interface {
	EnrichMetadata(content string, in models.Metadata) models.Metadata
}

// EnricherFunc adapts a plain function to the Enricher interface.
type EnricherFunc func(content string, in models.Metadata) models.Metadata

func (f EnricherFunc) EnrichMetadata(content string, in models.Metadata) models.Metadata {
	return f(content, in)
}

// Analyzer is the optional specialised analysis hook spec.md 4.3
// mentions ("and, optionally, a specialised analyze"). Not every module
// needs one; BaseModule works fine without it.
type Analyzer interface {
	Analyze(ctx context.Context, userID string, m models.Memory) (map[string]any, error)
}
