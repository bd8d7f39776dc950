package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	pgvec "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// pgvectorRow is the GORM model backing a module's table. TableName is set
// per-instance via gorm's Table() clause rather than a fixed method,
// because every module gets its own physical table (spec.md 3.3
// "tableName").
type pgvectorRow struct {
	CreatedAt    time.Time    `gorm:"column:created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at"`
	LastAccessed time.Time    `gorm:"column:last_accessed"`
	ID           string       `gorm:"column:id;primaryKey"`
	UserID       string       `gorm:"column:user_id"`
	Content      string       `gorm:"column:content"`
	MetadataJSON string       `gorm:"column:metadata"`
	Embedding    pgvec.Vector `gorm:"column:embedding"`
	AccessCount  uint64       `gorm:"column:access_count"`
}

// PGVectorAdapter persists one module's memories in PostgreSQL via GORM,
// using pgvector for the embedding column and a raw pgx-driven *sql.DB for
// the `<=>` cosine distance query the ORM cannot express portably.
// Grounded on internal/vector/pgvector/client.go in the teacher repo.
type PGVectorAdapter struct {
	db        *gorm.DB
	raw       *sql.DB
	tableName string
	dim       int
}

// NewPGVectorAdapter builds an adapter for one module's table. db must
// already be migrated (see internal/cmi/migrations.go and
// EnsureModuleTable below) and raw must be the *sql.DB obtained from the
// pgx stdlib driver so context cancellation propagates to the connection.
func NewPGVectorAdapter(db *gorm.DB, raw *sql.DB, tableName string, dim int) *PGVectorAdapter {
	return &PGVectorAdapter{db: db, raw: raw, tableName: tableName, dim: dim}
}

// EnsureModuleTable creates the per-module table and its indexes if they
// do not already exist (spec.md 6 "Required indexes").
func EnsureModuleTable(ctx context.Context, db *gorm.DB, tableName string, dim int) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%[2]d),
			metadata JSONB,
			access_count BIGINT NOT NULL DEFAULT 0,
			last_accessed TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, tableName, dim)
	if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}
	if err := db.WithContext(ctx).Exec(fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %[1]s_user_id_idx ON %[1]s (user_id)`, tableName)).Error; err != nil {
		return fmt.Errorf("create user_id index on %s: %w", tableName, err)
	}
	if err := db.WithContext(ctx).Exec(fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING ivfflat (embedding vector_cosine_ops)`, tableName)).Error; err != nil {
		// ivfflat requires ANALYZE/rows to build well; a missing extension or
		// an empty table is not fatal to the adapter's correctness, only to
		// its query-planner speed, so we log and continue.
		log.Warn().Err(err).Str("table", tableName).Msg("pgvector: failed to create ivfflat index, continuing without it")
	}
	return nil
}

func (a *PGVectorAdapter) Insert(ctx context.Context, row Row) (string, error) {
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

	rec := pgvectorRow{
		ID:           row.ID,
		UserID:       row.UserID,
		Content:      row.Content,
		Embedding:    pgvec.NewVector(row.Vector),
		MetadataJSON: string(metaJSON),
		AccessCount:  row.AccessCount,
		LastAccessed: row.LastAccessed,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}

	err = a.db.WithContext(ctx).Table(a.tableName).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "embedding", "metadata", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", a.tableName, err)
	}
	return rec.ID, nil
}

func (a *PGVectorAdapter) GetByID(ctx context.Context, userID, id string) (*Row, error) {
	var rec pgvectorRow
	err := a.db.WithContext(ctx).Table(a.tableName).
		Where("id = ? AND user_id = ?", id, userID).
		First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s from %s: %w", id, a.tableName, err)
	}
	return toRow(rec)
}

func (a *PGVectorAdapter) Update(ctx context.Context, userID, id string, patch UpdatePatch) (bool, error) {
	updates := map[string]any{"updated_at": time.Now()}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if len(patch.Vector) > 0 {
		updates["embedding"] = pgvec.NewVector(patch.Vector)
	}
	if patch.Metadata != nil {
		metaJSON, err := json.Marshal(patch.Metadata)
		if err != nil {
			return false, fmt.Errorf("marshal metadata: %w", err)
		}
		updates["metadata"] = string(metaJSON)
	}

	res := a.db.WithContext(ctx).Table(a.tableName).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update %s in %s: %w", id, a.tableName, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Touch bumps access_count and last_accessed without touching content,
// embedding or metadata (spec.md 4.3 step 3: Get increments accessCount).
func (a *PGVectorAdapter) Touch(ctx context.Context, userID, id string) error {
	err := a.db.WithContext(ctx).Table(a.tableName).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("touch %s in %s: %w", id, a.tableName, err)
	}
	return nil
}

func (a *PGVectorAdapter) Delete(ctx context.Context, userID, id string) (bool, error) {
	res := a.db.WithContext(ctx).Table(a.tableName).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&pgvectorRow{})
	if res.Error != nil {
		return false, fmt.Errorf("delete %s from %s: %w", id, a.tableName, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TopK issues the raw `<=>` cosine-distance query the ORM cannot express
// portably, matching spec.md 4.2 ("score = 1 - cos_distance"). Opaque JSON
// filters are pushed down as jsonb containment (`metadata @> predicate`).
func (a *PGVectorAdapter) TopK(ctx context.Context, userID string, vec []float32, k int, minScore float32, filter map[string]any) ([]RowWithScore, error) {
	if k <= 0 {
		return nil, nil
	}
	qv := pgvec.NewVector(vec)

	args := []any{userID, qv}
	where := "user_id = $1"
	argIdx := 3
	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
		where += fmt.Sprintf(" AND metadata @> $%d", argIdx)
		args = append(args, string(filterJSON))
		argIdx++
	}
	args = append(args, k)

	stmt := fmt.Sprintf(`
		SELECT id, user_id, content, metadata, access_count, last_accessed, created_at, updated_at,
		       1 - (embedding <=> $2) AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $2
		LIMIT $%d`, a.tableName, where, argIdx)

	rows, err := a.raw.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("topK query on %s: %w", a.tableName, err)
	}
	defer rows.Close()

	var out []RowWithScore
	for rows.Next() {
		var (
			rec       pgvectorRow
			score     float32
			metaJSON  string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Content, &metaJSON, &rec.AccessCount,
			&rec.LastAccessed, &rec.CreatedAt, &rec.UpdatedAt, &score); err != nil {
			return nil, fmt.Errorf("scan topK row: %w", err)
		}
		if score < minScore {
			continue
		}
		rec.MetadataJSON = metaJSON
		row, err := toRow(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, RowWithScore{Row: *row, Score: score})
	}
	return out, rows.Err()
}

func (a *PGVectorAdapter) Count(ctx context.Context, userID string) (Stats, error) {
	var count int64
	err := a.db.WithContext(ctx).Table(a.tableName).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return Stats{}, fmt.Errorf("count %s: %w", a.tableName, err)
	}
	return Stats{Count: count}, nil
}

// ListPage returns up to limit rows ordered by id, starting strictly after
// cursor, for the reconciliation worker's table scan (spec.md 7). Unlike
// TopK this ignores user_id: reconciliation repairs the whole table, not
// one user's slice of it.
func (a *PGVectorAdapter) ListPage(ctx context.Context, cursor string, limit int) ([]Row, string, error) {
	if limit <= 0 {
		return nil, "", nil
	}
	q := a.db.WithContext(ctx).Table(a.tableName).Order("id ASC").Limit(limit)
	if cursor != "" {
		q = q.Where("id > ?", cursor)
	}
	var recs []pgvectorRow
	if err := q.Find(&recs).Error; err != nil {
		return nil, "", fmt.Errorf("list page of %s: %w", a.tableName, err)
	}
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		row, err := toRow(rec)
		if err != nil {
			return nil, "", err
		}
		rows = append(rows, *row)
	}
	next := ""
	if len(rows) == limit {
		next = rows[len(rows)-1].ID
	}
	return rows, next, nil
}

func (a *PGVectorAdapter) HealthCheck(ctx context.Context) error {
	return a.raw.PingContext(ctx)
}

func (a *PGVectorAdapter) Close() error {
	return a.raw.Close()
}

func toRow(rec pgvectorRow) (*Row, error) {
	var meta models.Metadata
	if rec.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(rec.MetadataJSON), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &Row{
		ID:           rec.ID,
		UserID:       rec.UserID,
		Content:      rec.Content,
		Vector:       []float32(rec.Embedding.Slice()),
		Metadata:     meta,
		AccessCount:  rec.AccessCount,
		LastAccessed: rec.LastAccessed,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

var _ Adapter = (*PGVectorAdapter)(nil)
