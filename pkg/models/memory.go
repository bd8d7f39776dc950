// Package models contains the domain types shared across the federated
// memory store: memories, CMI entries, module descriptors and search
// results.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// MaxContentBytes is the maximum length, in bytes, of a memory's content.
const MaxContentBytes = 50 * 1024

// Metadata is the schemaless, module-extensible mapping attached to a
// memory. The core only ever reads the well-known keys documented in
// spec.md 3.2; everything else passes through opaquely.
type Metadata map[string]any

// Scan implements sql.Scanner so Metadata can be stored as a JSON column.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Value implements driver.Valuer for Metadata.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StringSlice reads a metadata key expected to hold a []string (or an
// already-decoded []any of strings, as happens after a JSON round trip).
func (m Metadata) StringSlice(key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// String reads a metadata key expected to hold a string.
func (m Metadata) String(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Float32 reads a metadata key expected to hold a numeric score.
func (m Metadata) Float32(key string) float32 {
	switch v := m[key].(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	}
	return 0
}

// Memory is one text artefact owned by exactly one module.
type Memory struct {
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccessed time.Time
	ID           string
	UserID       string
	ModuleID     string
	Content      string
	Metadata     Metadata
	Embedding    []float32
	AccessCount  uint64
}

// ContentPatch describes an update to a memory's content and/or metadata.
// Nil fields mean "leave unchanged".
type ContentPatch struct {
	Content  *string
	Metadata Metadata
}

// Touch marks the memory as accessed right now, bumping AccessCount.
func (m *Memory) Touch(now time.Time) {
	m.AccessCount++
	m.LastAccessed = now
}
