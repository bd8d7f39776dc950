package cmi

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations brings a fresh or existing database up to date for the
// CMI table. Grounded on the teacher's internal/db/gorm/migrations.go
// (gormigrate.New with AutoMigrate-backed steps, pgvector extension
// bootstrap), trimmed to the one table this package owns.
func runMigrations(db *gorm.DB, dim int) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("enable pgvector extension: %w", err)
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			// cvec's dimension is fixed at creation time (raw SQL, not
			// AutoMigrate) since pgvector requires it and C_DIM is a
			// start-up config value, not something the struct tag can
			// express statically.
			ID: "001_cmi_entries",
			Migrate: func(tx *gorm.DB) error {
				stmt := fmt.Sprintf(`
					CREATE TABLE IF NOT EXISTS cmi_entries (
						id BIGSERIAL PRIMARY KEY,
						user_id TEXT NOT NULL,
						module_id TEXT NOT NULL,
						remote_memory_id TEXT NOT NULL,
						cvec vector(%d),
						title TEXT,
						summary TEXT,
						keywords TEXT NOT NULL DEFAULT '[]',
						categories TEXT NOT NULL DEFAULT '[]',
						importance_score REAL NOT NULL DEFAULT 0,
						access_count BIGINT NOT NULL DEFAULT 0,
						last_accessed TIMESTAMPTZ,
						created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
						CONSTRAINT cmi_composite_key UNIQUE (user_id, module_id, remote_memory_id)
					)`, dim)
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
				return tx.Exec("CREATE INDEX IF NOT EXISTS cmi_user_idx ON cmi_entries (user_id)").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("cmi_entries")
			},
		},
		{
			ID: "002_cmi_cvec_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(
					"CREATE INDEX IF NOT EXISTS cmi_entries_cvec_idx ON cmi_entries USING ivfflat (cvec vector_cosine_ops) WITH (lists = 100)").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS cmi_entries_cvec_idx").Error
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run cmi migrations: %w", err)
	}
	return nil
}
