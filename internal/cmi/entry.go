// Package cmi implements the Central Memory Index (C6): one compressed
// vector per memory across all modules, used for cross-module routing
// and fast top-K candidate discovery before the orchestrator fans out
// full-precision search to the modules themselves.
package cmi

import (
	"time"

	pgvec "github.com/pgvector/pgvector-go"
)

// Entry is the GORM model for one CMI row. Its table is created by raw
// SQL in migrations.go (not AutoMigrate) since pgvector's column
// dimension is a start-up config value; the struct only needs column
// names for CRUD. The composite key (user_id, module_id,
// remote_memory_id) is enforced by a unique constraint at the database
// level (spec.md 3.4 invariant 5).
type Entry struct {
	CreatedAt       time.Time    `gorm:"column:created_at"`
	UpdatedAt       time.Time    `gorm:"column:updated_at"`
	LastAccessed    time.Time    `gorm:"column:last_accessed"`
	UserID          string       `gorm:"column:user_id"`
	ModuleID        string       `gorm:"column:module_id"`
	RemoteMemoryID  string       `gorm:"column:remote_memory_id"`
	Title           string       `gorm:"column:title"`
	Summary         string       `gorm:"column:summary"`
	KeywordsJSON    string       `gorm:"column:keywords"`
	CategoriesJSON  string       `gorm:"column:categories"`
	CVec            pgvec.Vector `gorm:"column:cvec"`
	ID              uint64       `gorm:"column:id;primaryKey;autoIncrement"`
	AccessCount     uint64       `gorm:"column:access_count"`
	ImportanceScore float32      `gorm:"column:importance_score"`
}

// TableName pins the physical table name regardless of struct name,
// matching the teacher's gorm model convention in internal/db/gorm.
func (Entry) TableName() string { return "cmi_entries" }
