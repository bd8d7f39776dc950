package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/4xguy/federated-memory-sub003/internal/cache"
	"github.com/4xguy/federated-memory-sub003/internal/cmi"
	"github.com/4xguy/federated-memory-sub003/internal/config"
	"github.com/4xguy/federated-memory-sub003/internal/embedding"
	"github.com/4xguy/federated-memory-sub003/internal/loader"
	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/internal/orchestrator"
	"github.com/4xguy/federated-memory-sub003/internal/reconcile"
	"github.com/4xguy/federated-memory-sub003/internal/registry"
	"github.com/4xguy/federated-memory-sub003/internal/supervisor"
	"github.com/4xguy/federated-memory-sub003/internal/vectorstore"
	"github.com/4xguy/federated-memory-sub003/internal/writepipeline"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// moduleSpec is one of the six memory modules C3 generalises over: its
// registry identity plus the sole per-module variation, enrichMetadata
// (spec.md 4.3).
type moduleSpec struct {
	id       string
	name     string
	kind     models.ModuleType
	enricher module.EnricherFunc
}

// moduleSpecs lists the six modules spec.md 4.3's table describes. Order
// only matters for deterministic CLI output; the loader sorts its own
// dependency order (none of these six depend on each other).
var moduleSpecs = []moduleSpec{
	{id: "technical", name: "Technical Memory", kind: models.ModuleTypeSpecialised, enricher: module.TechnicalEnricher},
	{id: "personal", name: "Personal Memory", kind: models.ModuleTypeExternal, enricher: module.PersonalEnricher},
	{id: "work", name: "Work Memory", kind: models.ModuleTypeStandard, enricher: module.WorkEnricher},
	{id: "learning", name: "Learning Memory", kind: models.ModuleTypeStandard, enricher: module.LearningEnricher},
	{id: "communication", name: "Communication Memory", kind: models.ModuleTypeStandard, enricher: module.CommunicationEnricher},
	{id: "creative", name: "Creative Memory", kind: models.ModuleTypeStandard, enricher: module.CreativeEnricher},
}

// App is the fully wired core, the thing every cobra subcommand operates
// against. Grounded on the teacher's cmd/worker/main.go, which builds one
// worker.Service and drives it from main/RunE-equivalent code; here the
// "service" is C1-C11 instead of one worker loop.
type App struct {
	cfg *config.Config

	registry *registry.Registry
	loader   *loader.Loader
	cmi      *cmi.Store
	orch     *orchestrator.Orchestrator
	super    *supervisor.Supervisor
	pipe     *writepipeline.Pipeline
	reconc   *reconcile.Worker

	closers []func() error
}

// hasCMI reports whether the app was built with a live CMI connection.
// CMI (C6) is Postgres-only (cmi.Open always dials gorm.Open(postgres...)),
// so a --database-url-less run exercises only the per-module store/search
// path of C3 directly, without federated routing. Recorded as an explicit
// design decision in DESIGN.md rather than left implicit.
func (a *App) hasCMI() bool { return a.cmi != nil }

// buildApp wires the process-wide singletons in this order: an empty
// registry, the embedder, the cache, then (Postgres mode) the pooled
// connection and the CMI or (sqlite mode) the sqlite file, then one
// adapter and BaseModule per module, then the loader; it then layers the
// orchestrator, supervisor, write pipeline and reconciliation worker on
// top (spec.md 4.7/4.11/4.9/7). The per-module adapters are built after
// the embedder, cache and CMI, not before them as in the order
// internal/cache's service.go comment lists.
func buildApp(ctx context.Context, cfg *config.Config, sqliteDir string) (*App, error) {
	app := &App{cfg: cfg, registry: registry.New()}

	embedder, err := embedding.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("enginectl: build embedder: %w", err)
	}

	cacheInst, err := cache.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("enginectl: build cache: %w", err)
	}
	app.closers = append(app.closers, cacheInst.Close)

	usePostgres := strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://")

	var pgDB *gorm.DB
	var pgRaw *sql.DB
	if usePostgres {
		if err := preflightPostgres(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("enginectl: postgres preflight: %w", err)
		}

		pgDB, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err != nil {
			return nil, fmt.Errorf("enginectl: open postgres: %w", err)
		}
		pgRaw, err = pgDB.DB()
		if err != nil {
			return nil, fmt.Errorf("enginectl: get sql.DB: %w", err)
		}
		app.closers = append(app.closers, pgRaw.Close)

		cmiStore, err := cmi.Open(cmi.Config{DSN: cfg.DatabaseURL, Dim: cfg.CDim})
		if err != nil {
			return nil, fmt.Errorf("enginectl: open cmi: %w", err)
		}
		app.cmi = cmiStore
		app.closers = append(app.closers, cmiStore.Close)
	} else {
		log.Warn().Msg("enginectl: no postgres --database-url given, running in sqlite-only demo mode: CMI-backed federated search and reconciliation are unavailable, only per-module store/search")
	}

	var sqliteConn *sql.DB
	if !usePostgres {
		sqliteConn, err = vectorstore.OpenSQLite(sqlitePath(sqliteDir))
		if err != nil {
			return nil, fmt.Errorf("enginectl: open sqlite: %w", err)
		}
		app.closers = append(app.closers, sqliteConn.Close)
	}

	candidates := make([]loader.Candidate, 0, len(moduleSpecs))
	for _, spec := range moduleSpecs {
		adapter, err := buildAdapter(ctx, spec.id, cfg.FDim, usePostgres, pgDB, pgRaw, sqliteConn)
		if err != nil {
			return nil, fmt.Errorf("enginectl: build adapter for %s: %w", spec.id, err)
		}

		var cmiIdx module.CMIIndexer
		if app.cmi != nil {
			cmiIdx = app.cmi
		} else {
			cmiIdx = noopCMIIndexer{}
		}

		instance := module.NewBaseModule(spec.id, models.ModuleConfig{ID: spec.id, Name: spec.name}, spec.enricher, adapter, cacheInst, cmiIdx, embedder)
		candidates = append(candidates, loader.Candidate{
			Instance: instance,
			Descr: models.ModuleDescriptor{
				ID:       spec.id,
				Name:     spec.name,
				Type:     spec.kind,
				IsActive: true,
			},
		})
	}

	app.loader = loader.New(app.registry)
	if err := app.loader.LoadAll(ctx, candidates); err != nil {
		return nil, fmt.Errorf("enginectl: load modules: %w", err)
	}

	if app.cmi != nil {
		app.orch = orchestrator.New(app.registry, app.cmi, embedder, cacheInst, cfg.SearchDeadline, cfg.SearchFanout, 0)
	}

	app.super = supervisor.New(app.registry, 0, 0)
	app.super.Start(ctx)

	app.pipe = writepipeline.New(0, 0)

	if app.cmi != nil {
		app.reconc = reconcile.New(app.registry, app.cmi, reconcile.DefaultPeriod)
		app.reconc.Start(ctx)
	}

	return app, nil
}

// buildAdapter constructs the per-module vectorstore.Adapter: pgvector
// when the app is running against Postgres, a dedicated sqlite table
// otherwise. Every module gets its own physical table (spec.md 3.3
// "tableName"), named memories_<id>.
func buildAdapter(ctx context.Context, id string, dim int, usePostgres bool, pgDB *gorm.DB, pgRaw *sql.DB, sqliteConn *sql.DB) (vectorstore.Adapter, error) {
	tableName := "memories_" + id
	if usePostgres {
		if err := vectorstore.EnsureModuleTable(ctx, pgDB, tableName, dim); err != nil {
			return nil, err
		}
		return vectorstore.NewPGVectorAdapter(pgDB, pgRaw, tableName, dim), nil
	}
	if err := vectorstore.EnsureSQLiteTable(ctx, sqliteConn, tableName); err != nil {
		return nil, err
	}
	return vectorstore.NewSQLiteVecAdapter(sqliteConn, tableName, dim)
}

// preflightPostgres opens a dependency-light lib/pq connection and pings
// it before the pooled gorm/pgx connection below is opened, so a bad DSN
// or unreachable host fails fast with a plain driver error instead of
// surfacing through gorm's own dial/pool machinery. Grounded on the
// pack's pgvector backend (database/sql + lib/pq, PingContext with a
// bounded timeout before the real connection is trusted).
func preflightPostgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func sqlitePath(dir string) string {
	if dir == "" {
		dir = "."
	}
	return strings.TrimSuffix(dir, "/") + "/enginectl.db"
}

// noopCMIIndexer satisfies module.CMIIndexer for sqlite-only demo mode,
// where there is no Postgres connection to host the CMI. Store/Update
// still succeed (the module row is the source of truth, spec.md 4.3
// step 1: "If CMI indexing fails: keep the row..."); the write pipeline
// reports IndexPending for every write in this mode.
type noopCMIIndexer struct{}

func (noopCMIIndexer) IndexMemory(ctx context.Context, userID, moduleID, remoteID string, cvec []float32, title, summary string, keywords, categories []string, importance float32) error {
	return fmt.Errorf("enginectl: no CMI connection (sqlite demo mode): index deferred")
}

func (noopCMIIndexer) DeleteIndex(ctx context.Context, moduleID, remoteID string) error { return nil }

// Close tears down every resource buildApp opened, in reverse order.
func (a *App) Close() {
	if a.super != nil {
		a.super.Stop()
	}
	if a.reconc != nil {
		a.reconc.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("enginectl: close error during shutdown")
		}
	}
}

// withTimeout is a small helper RunE closures use for the context bound
// to one CLI invocation, mirroring the teacher's 30s shutdown deadline in
// cmd/worker/main.go scaled down to a single request/response cycle.
func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 30*time.Second)
}
