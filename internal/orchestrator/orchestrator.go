// Package orchestrator implements the federated search orchestrator
// (C7, spec.md 4.7): CMI-routed, deadline-bounded parallel fan-out
// across memory modules, score-merged into one envelope, plus the two
// other federation operations external callers need (store, delete)
// so they need not resolve the registry themselves. Grounded on the
// teacher's bounded-concurrency fan-out in internal/worker/pool.go
// (semaphore-gated goroutines collected through a WaitGroup/errgroup),
// generalised from a fixed worker count to one goroutine per candidate
// module.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/4xguy/federated-memory-sub003/internal/cache"
	"github.com/4xguy/federated-memory-sub003/internal/core"
	"github.com/4xguy/federated-memory-sub003/internal/embedding"
	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// meter is this package's otel meter. fanoutDuration/fanoutErrors are the
// per-module averageResponseTimeMs/errorRate signals for the federated
// search fan-out (spec.md 4.7), the orchestrator-side counterpart of the
// supervisor's own probe metrics.
var meter = otel.Meter("federated-memory-sub003/orchestrator")

var (
	fanoutDuration, _ = meter.Float64Histogram(
		"orchestrator.fanout.duration_ms",
		metric.WithDescription("Per-module SearchByEmbedding duration during a federated search, in milliseconds"),
		metric.WithUnit("ms"),
	)
	fanoutErrors, _ = meter.Int64Counter(
		"orchestrator.fanout.errors",
		metric.WithDescription("Count of module fan-out calls that errored or were skipped during a federated search"),
	)
)

// DefaultDeadline is spec.md 5's per-operation soft deadline for search.
const DefaultDeadline = 2 * time.Second

// DefaultKModules is spec.md 4.6 step 4's default routing fan-out width.
const DefaultKModules = 3

// defaultMaxConcurrency bounds outbound adapter calls per request
// (spec.md 5 "bounded-concurrency semaphore on outbound ... adapter
// calls"). A federated search rarely fans out past a handful of
// modules, so this is generous headroom rather than a tight cap.
const defaultMaxConcurrency = 8

// federatedCacheModule namespaces the orchestrator's own merged-result
// cache entries apart from any single module's per-module cache keys
// (cache.Key's first argument is nominally a module id; a federated
// response isn't owned by one, so it gets a reserved pseudo-id).
const federatedCacheModule = "__federated__"

// Registry is the subset of *registry.Registry the orchestrator
// depends on, kept narrow so tests can supply an in-memory fake instead
// of wiring a live registry.
type Registry interface {
	Get(id string) (module.Module, bool)
	ListActive() []string
	Health(id string) (models.ModuleHealth, bool)
}

// Router is the subset of *cmi.Store the orchestrator depends on for
// routing decisions (spec.md 4.6).
type Router interface {
	Route(ctx context.Context, userID string, qv []float32, kModules int, activeModules []string) (models.RoutingDecision, error)
}

// Orchestrator implements C7's search/store/delete federation operations.
type Orchestrator struct {
	reg      Registry
	router   Router
	embedder embedding.Provider
	cache    cache.Cache

	deadline time.Duration
	kModules int
	maxConc  int64

	mu          sync.RWMutex
	calibration map[string]Calibration
	coldRobin   int // round-robin cursor over the cold-user fallback list (spec.md 4.6 edge case)

	// embedGroup coalesces concurrent identical embedding calls, the same
	// request-coalescing idiom the teacher's internal/search/manager.go
	// applies to its own searchGroup: two callers racing the same query
	// text pay for one embed call, not two.
	embedGroup singleflight.Group
}

// New builds an Orchestrator. deadline/kModules/maxConcurrency of zero
// fall back to the package defaults above.
func New(reg Registry, router Router, embedder embedding.Provider, c cache.Cache, deadline time.Duration, kModules int, maxConcurrency int64) *Orchestrator {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if kModules <= 0 {
		kModules = DefaultKModules
	}
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Orchestrator{
		reg: reg, router: router, embedder: embedder, cache: c,
		deadline: deadline, kModules: kModules, maxConc: maxConcurrency,
		calibration: make(map[string]Calibration),
	}
}

// SetCalibration installs a per-module affine score calibration. Modules
// with none set use the identity transform.
func (o *Orchestrator) SetCalibration(moduleID string, c Calibration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calibration[moduleID] = c
}

// embedFull coalesces concurrent Full embed calls for the same query text
// through embedGroup, so a burst of identical searches racing in (e.g. a
// client retry storm) embeds the query once instead of once per caller.
func (o *Orchestrator) embedFull(ctx context.Context, query string) ([]float32, error) {
	v, err, _ := o.embedGroup.Do("full:"+query, func() (any, error) {
		return o.embedder.Full(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// embedCompressed is embedFull's counterpart for the compressed vector
// CMI routing embeds with.
func (o *Orchestrator) embedCompressed(ctx context.Context, query string) ([]float32, error) {
	v, err, _ := o.embedGroup.Do("compressed:"+query, func() (any, error) {
		return o.embedder.Compressed(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (o *Orchestrator) calibrationFor(moduleID string) Calibration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if c, ok := o.calibration[moduleID]; ok {
		return c
	}
	return identityCalibration()
}

// Search implements spec.md 4.7's search operation: route (unless the
// caller pinned an explicit module list), fan out in parallel with a
// hard deadline, merge by score, cache, and kick off a best-effort
// access-count bump for whatever came back.
func (o *Orchestrator) Search(ctx context.Context, userID, query string, opts models.SearchOptions) (models.FederatedSearchResponse, error) {
	key := cache.Key(federatedCacheModule, userID, query, optsHash(opts))
	if cached, ok := o.cache.Get(ctx, key); ok {
		if resp, ok := decodeResponse(cached); ok {
			return resp, nil
		}
	}

	targets, err := o.resolveTargets(ctx, userID, query, opts)
	if err != nil {
		return models.FederatedSearchResponse{}, err
	}
	if len(targets) == 0 {
		return models.FederatedSearchResponse{}, nil
	}

	fullVec, err := o.embedFull(ctx, query)
	if err != nil {
		return models.FederatedSearchResponse{}, core.NewCMIError(core.KindTransient, fmt.Errorf("embed query: %w", err))
	}

	fanCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	type outcome struct {
		moduleID string
		results  []models.SearchResult
		err      error
	}
	outcomes := make([]outcome, len(targets))

	sem := semaphore.NewWeighted(o.maxConc)
	g, gctx := errgroup.WithContext(fanCtx)
	for i, id := range targets {
		i, id := i, id
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				outcomes[i] = outcome{moduleID: id, err: err}
				return nil // deadline/cancellation, not a hard failure for the group
			}
			defer sem.Release(1)

			mod, ok := o.reg.Get(id)
			if !ok {
				outcomes[i] = outcome{moduleID: id, err: fmt.Errorf("module %s not registered", id)}
				fanoutErrors.Add(gctx, 1, metric.WithAttributes(attribute.String("module", id)))
				return nil
			}
			callStart := time.Now()
			results, err := mod.SearchByEmbedding(gctx, userID, fullVec, models.SearchOptions{
				Limit:            opts.Limit,
				MinScore:         opts.MinScore,
				Filter:           opts.Filter,
				IncludeEmbedding: opts.IncludeEmbedding,
			})
			attrs := metric.WithAttributes(attribute.String("module", id))
			fanoutDuration.Record(gctx, float64(time.Since(callStart).Milliseconds()), attrs)
			if err != nil {
				fanoutErrors.Add(gctx, 1, attrs)
			}
			outcomes[i] = outcome{moduleID: id, results: results, err: err}
			return nil
		})
	}
	_ = g.Wait() // individual failures are carried in outcomes, never propagated as a group error

	var merged []models.SearchResult
	var skipped []string
	for _, oc := range outcomes {
		if oc.err != nil {
			log.Warn().Err(oc.err).Str("module", oc.moduleID).Msg("federated search: module skipped")
			skipped = append(skipped, oc.moduleID)
			continue
		}
		c := o.calibrationFor(oc.moduleID)
		for _, r := range oc.results {
			r.Score = c.Apply(r.Score)
			merged = append(merged, r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if opts.Limit > 0 && len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}

	sort.Strings(skipped)
	resp := models.FederatedSearchResponse{
		Results:        merged,
		Partial:        len(skipped) > 0,
		SkippedModules: skipped,
	}

	if encoded, ok := encodeResponse(resp); ok {
		_ = o.cache.Set(ctx, key, encoded, cache.DefaultTTL)
	}

	go o.touchResults(context.Background(), userID, resp.Results)

	return resp, nil
}

// resolveTargets implements spec.md 4.7 step 1 plus 4.11's routing
// filter: an explicit opts.Modules list skips CMI routing entirely;
// otherwise CMI is asked for the top kModules, and any module currently
// marked unhealthy is dropped from the candidate set (CMI itself still
// returns their rows — the orchestrator is the layer that hides them).
func (o *Orchestrator) resolveTargets(ctx context.Context, userID, query string, opts models.SearchOptions) ([]string, error) {
	if len(opts.Modules) > 0 {
		return o.filterHealthy(opts.Modules), nil
	}

	active := o.reg.ListActive()
	cvec, err := o.embedCompressed(ctx, query)
	if err != nil {
		return nil, core.NewCMIError(core.KindTransient, fmt.Errorf("embed query (compressed): %w", err))
	}
	decision, err := o.router.Route(ctx, userID, cvec, o.kModules, active)
	if err != nil {
		return nil, core.NewCMIError(core.KindTransient, fmt.Errorf("route: %w", err))
	}

	candidateIDs := decision.ModuleIDs()
	if isColdFallback(decision) {
		candidateIDs = o.sampleColdFallback(candidateIDs)
	}
	return o.filterHealthy(candidateIDs), nil
}

// isColdFallback reports whether decision is CMI's cold-user fallback
// (spec.md 4.6 edge case: every candidate at confidence 0, reason
// "no-index-fallback").
func isColdFallback(decision models.RoutingDecision) bool {
	if len(decision.Candidates) == 0 {
		return false
	}
	for _, c := range decision.Candidates {
		if c.Reason != "no-index-fallback" {
			return false
		}
	}
	return true
}

// sampleColdFallback implements spec.md 4.6's "the orchestrator then
// samples up to two modules by round-robin across calls to avoid always
// asking the same one" for the cold-user fallback case.
func (o *Orchestrator) sampleColdFallback(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	o.mu.Lock()
	start := o.coldRobin % len(sorted)
	o.coldRobin++
	o.mu.Unlock()

	n := 2
	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sorted[(start+i)%len(sorted)])
	}
	return out
}

func (o *Orchestrator) filterHealthy(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if h, ok := o.reg.Health(id); ok && h.Status == models.HealthUnhealthy {
			continue
		}
		out = append(out, id)
	}
	return out
}

// touchResults implements spec.md 4.7 step 6: an asynchronous,
// best-effort accessCount/lastAccessed bump for every memory a search
// actually returned, off the request's critical path. Run with a
// detached context (the inbound request context may already be
// cancelled by the time this goroutine gets scheduled).
func (o *Orchestrator) touchResults(ctx context.Context, userID string, results []models.SearchResult) {
	for _, r := range results {
		mod, ok := o.reg.Get(r.Module)
		if !ok {
			continue
		}
		if _, err := mod.Get(ctx, userID, r.ID); err != nil {
			log.Debug().Err(err).Str("module", r.Module).Str("id", r.ID).Msg("async access-count touch failed")
		}
	}
}

// Store routes a single write to the named module (spec.md 6's
// federation operation "store" — the caller, not the core, decides
// which module owns a new memory, since each memory lives in exactly
// one module by design).
func (o *Orchestrator) Store(ctx context.Context, moduleID, userID, content string, metadata models.Metadata) (string, error) {
	mod, ok := o.reg.Get(moduleID)
	if !ok {
		return "", core.NewModuleError(moduleID, core.KindInvalid, core.ErrUnknownModule)
	}
	return mod.Store(ctx, userID, content, metadata)
}

// Delete routes a single delete to the named module (spec.md 6's
// federation operation "delete"). Idempotent per spec.md 7: deleting an
// absent id still reports success.
func (o *Orchestrator) Delete(ctx context.Context, moduleID, userID, id string) (bool, error) {
	mod, ok := o.reg.Get(moduleID)
	if !ok {
		return false, core.NewModuleError(moduleID, core.KindInvalid, core.ErrUnknownModule)
	}
	return mod.Delete(ctx, userID, id)
}
