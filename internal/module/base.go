package module

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/4xguy/federated-memory-sub003/internal/cache"
	"github.com/4xguy/federated-memory-sub003/internal/core"
	"github.com/4xguy/federated-memory-sub003/internal/embedding"
	"github.com/4xguy/federated-memory-sub003/internal/vectorstore"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// CMIIndexer is the narrow slice of the CMI this package depends on, so
// BaseModule can be tested against a stub instead of a live Postgres
// connection. internal/cmi.Store satisfies this.
type CMIIndexer interface {
	IndexMemory(ctx context.Context, userID, moduleID, remoteID string, cvec []float32, title, summary string, keywords, categories []string, importance float32) error
	DeleteIndex(ctx context.Context, moduleID, remoteID string) error
}

// BaseModule implements the common store/search/get/update/delete
// algorithm of spec.md 4.3 step-by-step, delegating only enrichment to
// an Enricher. This is "the key educative piece" the spec calls out:
// one shared implementation, six thin configurations.
type BaseModule struct {
	id       string
	config   models.ModuleConfig
	enricher Enricher
	analyzer Analyzer // optional

	adapter  vectorstore.Adapter
	cache    cache.Cache
	cmi      CMIIndexer
	embedder embedding.Provider

	health func(ctx context.Context) (bool, error)
}

// NewBaseModule builds a BaseModule. It leaves the health hook unset, so
// HealthCheck reports the adapter's own HealthCheck.
func NewBaseModule(id string, cfg models.ModuleConfig, enricher Enricher, adapter vectorstore.Adapter, c cache.Cache, cmiIdx CMIIndexer, embedder embedding.Provider) *BaseModule {
	return &BaseModule{id: id, config: cfg, enricher: enricher, adapter: adapter, cache: c, cmi: cmiIdx, embedder: embedder}
}

// WithAnalyzer attaches the optional specialised analyze hook.
func (b *BaseModule) WithAnalyzer(a Analyzer) *BaseModule {
	b.analyzer = a
	return b
}

func (b *BaseModule) ID() string { return b.id }

// Store embeds, enriches, persists, indexes and invalidates, per spec.md
// 4.3 step 1. A CMI indexing failure does not remove the module row:
// the write is reported by the caller (writepipeline) as IndexPending.
func (b *BaseModule) Store(ctx context.Context, userID, content string, metadata models.Metadata) (string, error) {
	if len(content) > models.MaxContentBytes {
		return "", core.NewModuleError(b.id, core.KindInvalid, core.ErrContentTooLong)
	}

	full, err := b.embedder.Full(ctx, content)
	if err != nil {
		return "", core.NewModuleError(b.id, core.KindTransient, fmt.Errorf("embed content: %w", err))
	}
	cvec, err := b.embedder.Compressed(ctx, content)
	if err != nil {
		return "", core.NewModuleError(b.id, core.KindTransient, fmt.Errorf("embed content (compressed): %w", err))
	}

	enriched := b.enricher.EnrichMetadata(content, metadata.Clone())

	id := uuid.NewString()
	now := time.Now()
	_, err = b.adapter.Insert(ctx, vectorstore.Row{
		ID: id, UserID: userID, Content: content, Vector: full, Metadata: enriched,
		CreatedAt: now, UpdatedAt: now, LastAccessed: now,
	})
	if err != nil {
		return "", core.NewModuleError(b.id, core.KindTransient, fmt.Errorf("insert row: %w", err))
	}

	title, summary, keywords, categories, importance := trackedCMIFields(content, enriched)
	if err := b.cmi.IndexMemory(ctx, userID, b.id, id, cvec, title, summary, keywords, categories, importance); err != nil {
		log.Warn().Err(err).Str("module", b.id).Str("id", id).Msg("cmi indexing failed, memory row kept (index-pending)")
		b.invalidateUserCache(ctx, userID)
		return id, core.NewModuleError(b.id, core.KindReconcile, err)
	}

	b.invalidateUserCache(ctx, userID)
	return id, nil
}

// Search checks the cache, embeds the query on miss and delegates to
// SearchByEmbedding (spec.md 4.3 step 2).
func (b *BaseModule) Search(ctx context.Context, userID, query string, opts models.SearchOptions) ([]models.SearchResult, error) {
	key := cache.Key(b.id, userID, query, optsHash(opts))
	if cached, ok := b.cache.Get(ctx, key); ok {
		if results, ok := decodeResults(cached); ok {
			return results, nil
		}
	}

	vec, err := b.embedder.Full(ctx, query)
	if err != nil {
		return nil, core.NewModuleError(b.id, core.KindTransient, fmt.Errorf("embed query: %w", err))
	}

	results, err := b.SearchByEmbedding(ctx, userID, vec, opts)
	if err != nil {
		return nil, err
	}

	if encoded, ok := encodeResults(results); ok {
		_ = b.cache.Set(ctx, key, encoded, cache.DefaultTTL)
	}
	return results, nil
}

// SearchByEmbedding runs the adapter's TopK directly, bypassing the
// cache and query embedding (used by the orchestrator, which has
// already computed the full query vector once — spec.md 4.7 step 2).
//
// opts.Limit is passed through as given, including zero: a caller that
// explicitly asks for limit=0 gets an empty result list, not an error
// and not a silently substituted default (spec.md 8 boundary
// behaviour). Callers that want the package default must build opts
// from models.DefaultSearchOptions() themselves.
func (b *BaseModule) SearchByEmbedding(ctx context.Context, userID string, vec []float32, opts models.SearchOptions) ([]models.SearchResult, error) {
	rows, err := b.adapter.TopK(ctx, userID, vec, opts.Limit, opts.MinScore, opts.Filter)
	if err != nil {
		return nil, core.NewModuleError(b.id, core.KindTransient, fmt.Errorf("topK: %w", err))
	}

	out := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		out[i] = models.SearchResult{
			Memory: models.Memory{
				ID: r.ID, UserID: r.UserID, ModuleID: b.id, Content: r.Content,
				Metadata: r.Metadata, AccessCount: r.AccessCount,
				LastAccessed: r.LastAccessed, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
			},
			Score:  r.Score,
			Module: b.id,
		}
		if opts.IncludeEmbedding {
			out[i].Embedding = r.Vector
		}
	}
	return out, nil
}

// Get hits the adapter directly and bumps the access counter (spec.md
// 4.3 step 3: "No cache, writes are frequent").
func (b *BaseModule) Get(ctx context.Context, userID, id string) (*models.Memory, error) {
	row, err := b.adapter.GetByID(ctx, userID, id)
	if err != nil {
		return nil, core.NewModuleError(b.id, core.KindTransient, err)
	}
	if row == nil {
		return nil, core.NewModuleError(b.id, core.KindNotFound, core.ErrNotFound)
	}

	now := time.Now()
	if err := b.adapter.Touch(ctx, userID, id); err != nil {
		log.Debug().Err(err).Str("module", b.id).Str("id", id).Msg("access-count touch failed (best-effort)")
	}
	mem := &models.Memory{
		ID: row.ID, UserID: row.UserID, ModuleID: b.id, Content: row.Content,
		Metadata: row.Metadata, Embedding: row.Vector, AccessCount: row.AccessCount + 1,
		LastAccessed: now, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	return mem, nil
}

// Update re-embeds the full vector and re-enriches metadata only when
// content changes; either way it recomputes the compressed vector from
// the (possibly unchanged) content and re-upserts the CMI row, since CMI
// has no metadata-only update path and BaseModule does not retain a
// module's compressed vectors outside CMI. The user's cache prefix is
// invalidated after the mutation (spec.md 4.3 step 4).
func (b *BaseModule) Update(ctx context.Context, userID, id string, patch models.ContentPatch) (bool, error) {
	existing, err := b.adapter.GetByID(ctx, userID, id)
	if err != nil {
		return false, core.NewModuleError(b.id, core.KindTransient, err)
	}
	if existing == nil {
		return false, core.NewModuleError(b.id, core.KindNotFound, core.ErrNotFound)
	}

	var vecPatch vectorstore.UpdatePatch
	content := existing.Content
	meta := existing.Metadata

	if patch.Content != nil && *patch.Content != existing.Content {
		if len(*patch.Content) > models.MaxContentBytes {
			return false, core.NewModuleError(b.id, core.KindInvalid, core.ErrContentTooLong)
		}
		content = *patch.Content
		full, err := b.embedder.Full(ctx, content)
		if err != nil {
			return false, core.NewModuleError(b.id, core.KindTransient, fmt.Errorf("re-embed: %w", err))
		}
		vecPatch.Vector = full
		vecPatch.Content = &content
		meta = b.enricher.EnrichMetadata(content, meta)
	}
	if patch.Metadata != nil {
		for k, v := range patch.Metadata {
			meta[k] = v
		}
	}
	vecPatch.Metadata = meta

	ok, err := b.adapter.Update(ctx, userID, id, vecPatch)
	if err != nil {
		return false, core.NewModuleError(b.id, core.KindTransient, err)
	}
	if !ok {
		return false, nil
	}

	if err := b.reindexContent(ctx, userID, id, content, meta); err != nil {
		b.invalidateUserCache(ctx, userID)
		return true, err
	}

	b.invalidateUserCache(ctx, userID)
	return true, nil
}

// reindexContent recomputes the compressed vector for content and
// re-upserts the CMI row for id, the shared tail of Update and Reindex.
func (b *BaseModule) reindexContent(ctx context.Context, userID, id, content string, meta models.Metadata) error {
	cvec, err := b.embedder.Compressed(ctx, content)
	if err != nil {
		return core.NewModuleError(b.id, core.KindReconcile, fmt.Errorf("re-embed (compressed) for reindex: %w", err))
	}
	title, summary, keywords, categories, importance := trackedCMIFields(content, meta)
	if err := b.cmi.IndexMemory(ctx, userID, b.id, id, cvec, title, summary, keywords, categories, importance); err != nil {
		log.Warn().Err(err).Str("module", b.id).Str("id", id).Msg("cmi reindex failed")
		return core.NewModuleError(b.id, core.KindReconcile, err)
	}
	return nil
}

// Reindex re-upserts id's CMI row from its current module-side content,
// without touching the module row itself. Used by the reconciliation
// worker (internal/reconcile) to repair a module row the CMI has no
// matching entry for (spec.md 7).
func (b *BaseModule) Reindex(ctx context.Context, userID, id string) error {
	row, err := b.adapter.GetByID(ctx, userID, id)
	if err != nil {
		return core.NewModuleError(b.id, core.KindTransient, err)
	}
	if row == nil {
		return core.NewModuleError(b.id, core.KindNotFound, core.ErrNotFound)
	}
	return b.reindexContent(ctx, userID, id, row.Content, row.Metadata)
}

// Delete removes the module row then the CMI row (spec.md 4.3 step 5).
// A CMI delete failure does not fail the call; it is reported as a
// reconcile-pending error for the caller to surface/enqueue.
func (b *BaseModule) Delete(ctx context.Context, userID, id string) (bool, error) {
	ok, err := b.adapter.Delete(ctx, userID, id)
	if err != nil {
		return false, core.NewModuleError(b.id, core.KindTransient, err)
	}
	if !ok {
		return true, nil // idempotent: deleting an absent id is success (spec.md 7)
	}

	b.invalidateUserCache(ctx, userID)
	if err := b.cmi.DeleteIndex(ctx, b.id, id); err != nil {
		return true, core.NewModuleError(b.id, core.KindReconcile, fmt.Errorf("cmi delete index: %w", err))
	}
	return true, nil
}

func (b *BaseModule) GetStats(ctx context.Context, userID string) (models.ModuleStats, error) {
	stats, err := b.adapter.Count(ctx, userID)
	if err != nil {
		return models.ModuleStats{}, core.NewModuleError(b.id, core.KindTransient, err)
	}
	return models.ModuleStats{TotalMemories: stats.Count, LastWrite: stats.LastWrite}, nil
}

// ListPage passes through to the adapter's keyset pagination, for the
// reconciliation worker (internal/reconcile) to enumerate this module's
// rows without a live module row without a matching CMI entry going
// undetected. Not part of the Module interface: reconcile upgrades a
// module.Module to this via a type assertion, the same optional-interface
// pattern as io.ReaderFrom.
func (b *BaseModule) ListPage(ctx context.Context, cursor string, limit int) ([]vectorstore.Row, string, error) {
	return b.adapter.ListPage(ctx, cursor, limit)
}

func (b *BaseModule) GetConfig() models.ModuleConfig { return b.config }

func (b *BaseModule) Initialize(ctx context.Context) error { return nil }

func (b *BaseModule) Shutdown(ctx context.Context) error { return b.adapter.Close() }

func (b *BaseModule) HealthCheck(ctx context.Context) (bool, error) {
	if b.health != nil {
		return b.health(ctx)
	}
	if err := b.adapter.HealthCheck(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (b *BaseModule) OnConfigUpdate(cfg models.ModuleConfig) { b.config = cfg }

func (b *BaseModule) OnModuleConnect(otherID string, other Module) {
	// Base modules don't talk to each other directly (spec.md 9: cross-module
	// queries go through CMI, preserving the DAG); a module wanting peer
	// awareness overrides this.
}

func (b *BaseModule) OnEvent(ctx context.Context, name string, payload any) {}

func (b *BaseModule) invalidateUserCache(ctx context.Context, userID string) {
	if err := b.cache.DelPrefix(ctx, cache.Prefix(b.id, userID)); err != nil {
		log.Debug().Err(err).Str("module", b.id).Str("user", userID).Msg("cache invalidation failed (best-effort)")
	}
}

// trackedCMIFields extracts the fields CMI tracks from already-enriched
// metadata (spec.md 3.2), falling back to a truncated content prefix for
// title/summary if the enricher left them unset.
func trackedCMIFields(content string, meta models.Metadata) (title, summary string, keywords, categories []string, importance float32) {
	title = meta.String(models.MetaKeyTitle)
	if title == "" {
		title = models.TruncateRunes(content, models.MaxTitleLen)
	}
	summary = meta.String(models.MetaKeySummary)
	if summary == "" {
		summary = models.TruncateRunes(content, models.MaxSummaryLen)
	}
	keywords = models.CappedSet(meta.StringSlice(models.MetaKeyKeywords), models.MaxKeywords)
	categories = models.CappedSet(meta.StringSlice(models.MetaKeyCategories), models.MaxCategories)
	importance = meta.Float32(models.MetaKeyImportanceScore)
	return
}
