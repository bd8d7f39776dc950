package models

import "time"

// The structs below are the typed, module-specific derivations each
// concrete module's enrichMetadata step produces (spec.md 4.3 table,
// expanded in SPEC_FULL.md 3.6). Each is stored as one value under a per-module
// key (e.g. "technical") of a memory's Metadata map; these types exist so the enrichment functions and their
// tests have a concrete shape to build and check instead of juggling
// map[string]any keys by hand.

// TechnicalMeta is produced by the technical module.
type TechnicalMeta struct {
	Language         string `json:"language"`
	Framework        string `json:"framework"`
	ErrorPatternHash string `json:"error_pattern_hash"`
	Severity         string `json:"severity"` // low|medium|high|critical
}

// PersonalMeta is produced by the personal module.
type PersonalMeta struct {
	Mood      string `json:"mood"`
	LifeArea  string `json:"life_area"`
	Sensitive bool   `json:"sensitive"`
}

// WorkMeta is produced by the work module.
type WorkMeta struct {
	ProjectTag string     `json:"project_tag"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	Status     string     `json:"status"` // open|in_progress|done|blocked
}

// LearningMeta is produced by the learning module.
type LearningMeta struct {
	Subject       string  `json:"subject"`
	Difficulty    string  `json:"difficulty"` // beginner|intermediate|advanced
	Progress      float32 `json:"progress"`
	ReviewNeeded  bool    `json:"review_needed"`
	Understanding float32 `json:"understanding"`
}

// CommunicationMeta is produced by the communication module.
type CommunicationMeta struct {
	SenderTag     string `json:"sender_tag"`
	RecipientTag  string `json:"recipient_tag"`
	ThreadID      string `json:"thread_id"`
	EmotionalTone string `json:"emotional_tone"`
}

// CreativeMeta is produced by the creative module.
type CreativeMeta struct {
	Category      string  `json:"category"` // idea|story|poem|design|...
	Medium        string  `json:"medium"`
	Stage         string  `json:"stage"` // draft|revision|final
	Quality       float32 `json:"quality"`
	Originality   float32 `json:"originality"`
	CompletionPct float32 `json:"completion_pct"`
}

// Tracked CMI metadata keys, read by the CMI indexer regardless of which
// module wrote them (spec.md 3.2).
const (
	MetaKeyTitle           = "title"
	MetaKeySummary         = "summary"
	MetaKeyKeywords        = "keywords"
	MetaKeyCategories      = "categories"
	MetaKeyImportanceScore = "importanceScore"
)

// MaxKeywords and MaxCategories bound the tracked sets (spec.md 3.1).
const (
	MaxKeywords   = 10
	MaxCategories = 10
	MaxTitleLen   = 60
	MaxSummaryLen = 120
)

// TruncateRunes trims s to at most n runes, a helper enrichment functions
// use when deriving title/summary fields.
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// CappedSet returns at most n unique, order-preserving strings from items.
func CappedSet(items []string, n int) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, n)
	for _, it := range items {
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
		if len(out) >= n {
			break
		}
	}
	return out
}
