package cmi

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// moduleConfWeight and moduleConfBias implement the routing formula of
// spec.md 4.6 step 3: module_conf = cos_score * (moduleConfWeight *
// importance + moduleConfBias). The spec leaves the constants as
// tunables ("Open questions"); these are the values it proposes.
const (
	moduleConfBias   = 0.7
	moduleConfWeight = 0.3
)

// DefaultKModules is spec.md 4.6 step 4's default fan-out width.
const DefaultKModules = 3

// Store is the Central Memory Index: a single cross-module table of
// compressed-vector pointers, grounded on the connection-setup and
// raw-SQL-escape-hatch pattern of the teacher's internal/db/gorm/store.go
// (gorm.Open + pool tuning + GetRawDB for cosine queries).
type Store struct {
	db  *gorm.DB
	raw *sql.DB
	dim int
}

// Config mirrors the teacher's gorm.Config shape, trimmed to what the
// CMI needs.
type Config struct {
	DSN      string
	MaxConns int
	Dim      int
	LogLevel logger.LogLevel
}

// Open connects to PostgreSQL, tunes the pool and runs migrations.
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cmi: open gorm postgres: %w", err)
	}

	raw, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("cmi: get sql.DB: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	raw.SetMaxOpenConns(maxConns)
	raw.SetMaxIdleConns(maxConns / 2)
	raw.SetConnMaxLifetime(time.Hour)

	if err := raw.Ping(); err != nil {
		return nil, fmt.Errorf("cmi: ping postgres: %w", err)
	}

	dim := cfg.Dim
	if dim <= 0 {
		dim = 512
	}
	if err := runMigrations(db, dim); err != nil {
		return nil, err
	}

	return &Store{db: db, raw: raw, dim: dim}, nil
}

func (s *Store) Close() error { return s.raw.Close() }

func (s *Store) HealthCheck(ctx context.Context) error { return s.raw.PingContext(ctx) }

// IndexMemory upserts the CMI row for a module-side write (spec.md 4.6
// "Index operation"). Idempotent on the composite key.
func (s *Store) IndexMemory(ctx context.Context, userID, moduleID, remoteID string, cvec []float32, title, summary string, keywords, categories []string, importance float32) error {
	kwJSON, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("cmi: marshal keywords: %w", err)
	}
	catJSON, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("cmi: marshal categories: %w", err)
	}

	now := time.Now()
	entry := Entry{
		UserID:          userID,
		ModuleID:        moduleID,
		RemoteMemoryID:  remoteID,
		CVec:            pgvec.NewVector(cvec),
		Title:           title,
		Summary:         summary,
		KeywordsJSON:    string(kwJSON),
		CategoriesJSON:  string(catJSON),
		ImportanceScore: importance,
		LastAccessed:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "module_id"}, {Name: "remote_memory_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"cvec", "title", "summary", "keywords", "categories", "importance_score", "updated_at",
			}),
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("cmi: index %s/%s: %w", moduleID, remoteID, err)
	}
	return nil
}

// DeleteIndex removes the CMI row for a module+remote id, for whichever
// user owns it (spec.md 4.6 "Delete operation": the composite key is
// unique, so at most one row matches across all users).
func (s *Store) DeleteIndex(ctx context.Context, moduleID, remoteID string) error {
	err := s.db.WithContext(ctx).
		Where("module_id = ? AND remote_memory_id = ?", moduleID, remoteID).
		Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("cmi: delete index %s/%s: %w", moduleID, remoteID, err)
	}
	return nil
}

// cmiHit is one ranked CMI row, used internally by Route.
type cmiHit struct {
	ModuleID        string
	CosScore        float32
	ImportanceScore float32
}

// Route implements spec.md 4.6's routing algorithm: compressed-vector
// top-K over the user's CMI rows, aggregated per module by
// cos_score * (moduleConfBias + moduleConfWeight*importance), returning
// the top kModules candidates. A cold user (no CMI rows) yields every
// active module at confidence 0 with reason "no-index-fallback"; the
// caller (orchestrator) is responsible for round-robin sampling among
// those in that case.
func (s *Store) Route(ctx context.Context, userID string, qv []float32, kModules int, activeModules []string) (models.RoutingDecision, error) {
	if kModules <= 0 {
		kModules = DefaultKModules
	}
	hits, err := s.topK(ctx, userID, qv, 200)
	if err != nil {
		return models.RoutingDecision{}, err
	}
	return aggregateRoute(hits, kModules, activeModules), nil
}

// aggregateRoute implements spec.md 4.6 steps 3-5 over already-fetched
// CMI hits. Split out from Route so the aggregation/tie-break logic is
// unit-testable without a live Postgres connection.
func aggregateRoute(hits []cmiHit, kModules int, activeModules []string) models.RoutingDecision {
	if len(hits) == 0 {
		candidates := make([]models.RouteCandidate, len(activeModules))
		for i, id := range activeModules {
			candidates[i] = models.RouteCandidate{ModuleID: id, Confidence: 0, Reason: "no-index-fallback"}
		}
		return models.RoutingDecision{Candidates: candidates}
	}

	type agg struct {
		maxConf  float32
		hitCount int
	}
	byModule := make(map[string]*agg)
	for _, h := range hits {
		conf := h.CosScore * (moduleConfBias + moduleConfWeight*h.ImportanceScore)
		a, ok := byModule[h.ModuleID]
		if !ok {
			a = &agg{}
			byModule[h.ModuleID] = a
		}
		a.hitCount++
		if conf > a.maxConf {
			a.maxConf = conf
		}
	}

	candidates := make([]models.RouteCandidate, 0, len(byModule))
	for id, a := range byModule {
		candidates = append(candidates, models.RouteCandidate{
			ModuleID:   id,
			Confidence: a.maxConf,
			HitCount:   a.hitCount,
			Reason:     "top-N CMI cosine + importance",
		})
	}

	// Tie-break: higher confidence first, then larger hit count, then
	// lexicographic module id (spec.md 4.6 step 5).
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		if candidates[i].HitCount != candidates[j].HitCount {
			return candidates[i].HitCount > candidates[j].HitCount
		}
		return candidates[i].ModuleID < candidates[j].ModuleID
	})

	if kModules <= 0 {
		kModules = DefaultKModules
	}
	if len(candidates) > kModules {
		candidates = candidates[:kModules]
	}
	return models.RoutingDecision{Candidates: candidates}
}

func (s *Store) topK(ctx context.Context, userID string, qv []float32, limit int) ([]cmiHit, error) {
	q := pgvec.NewVector(qv)
	rows, err := s.raw.QueryContext(ctx, `
		SELECT module_id, 1 - (cvec <=> $2) AS score, importance_score
		FROM cmi_entries
		WHERE user_id = $1
		ORDER BY cvec <=> $2
		LIMIT $3`, userID, q, limit)
	if err != nil {
		return nil, fmt.Errorf("cmi: topK query: %w", err)
	}
	defer rows.Close()

	var hits []cmiHit
	for rows.Next() {
		var h cmiHit
		if err := rows.Scan(&h.ModuleID, &h.CosScore, &h.ImportanceScore); err != nil {
			return nil, fmt.Errorf("cmi: scan topK row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// HasRow reports whether a CMI row exists for moduleID/remoteID,
// regardless of user — used by the reconciliation worker (spec.md 7) to
// detect module rows with no CMI counterpart.
func (s *Store) HasRow(ctx context.Context, moduleID, remoteID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("module_id = ? AND remote_memory_id = ?", moduleID, remoteID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("cmi: check row %s/%s: %w", moduleID, remoteID, err)
	}
	return count > 0, nil
}

// OrphansForModule returns up to limit (moduleId, remoteId, userId)
// triples whose module row no longer exists, for the reconciliation
// worker to act on. existingIDs is the set of remote ids the module
// reports it currently owns.
func (s *Store) OrphansForModule(ctx context.Context, moduleID string, existingIDs map[string]bool, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("module_id = ?", moduleID).
		Limit(limit * 4). // over-fetch since filtering happens in Go below
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("cmi: scan entries for module %s: %w", moduleID, err)
	}

	var orphans []Entry
	for _, e := range entries {
		if !existingIDs[e.RemoteMemoryID] {
			orphans = append(orphans, e)
			if len(orphans) >= limit {
				break
			}
		}
	}
	return orphans, nil
}
