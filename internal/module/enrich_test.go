package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

var enrichers = map[string]func(string, models.Metadata) models.Metadata{
	"technical":     TechnicalEnricher,
	"personal":      PersonalEnricher,
	"work":          WorkEnricher,
	"learning":      LearningEnricher,
	"communication": CommunicationEnricher,
	"creative":      CreativeEnricher,
}

var enrichmentFixtures = []string{
	"panic: nil pointer dereference in handler.go, goroutine 12",
	"Feeling really anxious about the doctor's appointment tomorrow, #health",
	"From: alice@example.com\nTo: bob@example.com\nThread: proj-42\nThanks for the quick turnaround, this is urgent though.",
	"#golang-course beginner lesson on channels, still confused about select statements",
	"Working on #website-redesign, blocked on the due 2026-08-01 approval",
	"First draft of a short story about a lighthouse keeper",
	"just a plain note with nothing special in it",
}

// TestEnrichersAreIdempotent checks spec.md 4.3's required law:
// EnrichMetadata(c, EnrichMetadata(c, m)) == EnrichMetadata(c, m) for
// every module's enricher, across a spread of representative inputs.
func TestEnrichersAreIdempotent(t *testing.T) {
	for name, enrich := range enrichers {
		name, enrich := name, enrich
		t.Run(name, func(t *testing.T) {
			for _, content := range enrichmentFixtures {
				once := enrich(content, models.Metadata{})
				twice := enrich(content, once.Clone())
				assert.Equal(t, once, twice, "content=%q", content)
			}
		})
	}
}

func TestTechnicalEnricherDetectsErrorSeverity(t *testing.T) {
	out := TechnicalEnricher("panic: runtime error: index out of range", models.Metadata{})
	meta := out["technical"].(models.TechnicalMeta)
	assert.Equal(t, "critical", meta.Severity)
	assert.NotEmpty(t, meta.ErrorPatternHash)
}

func TestTechnicalEnricherHashIgnoresVaryingDigitsAndQuotes(t *testing.T) {
	a := TechnicalEnricher(`failed: could not open "file1.txt" at line 10`, models.Metadata{})
	b := TechnicalEnricher(`failed: could not open "file2.txt" at line 99`, models.Metadata{})
	ma := a["technical"].(models.TechnicalMeta)
	mb := b["technical"].(models.TechnicalMeta)
	assert.Equal(t, ma.ErrorPatternHash, mb.ErrorPatternHash)
}

func TestWorkEnricherParsesProjectTagAndDueDate(t *testing.T) {
	out := WorkEnricher("Working on #website-redesign, due 2026-08-01", models.Metadata{})
	meta := out["work"].(models.WorkMeta)
	assert.Equal(t, "website-redesign", meta.ProjectTag)
	require.NotNil(t, meta.DueDate)
	assert.Equal(t, 2026, meta.DueDate.Year())
}

func TestCommunicationEnricherParsesHeaders(t *testing.T) {
	out := CommunicationEnricher("From: alice@example.com\nTo: bob@example.com\nThread: proj-42\nurgent please review", models.Metadata{})
	meta := out["communication"].(models.CommunicationMeta)
	assert.Equal(t, "proj-42", meta.ThreadID)
	assert.Equal(t, "urgent", meta.EmotionalTone)
}

func TestCreativeEnricherDefaultsToDraftIdea(t *testing.T) {
	out := CreativeEnricher("just jotting something down", models.Metadata{})
	meta := out["creative"].(models.CreativeMeta)
	assert.Equal(t, "idea", meta.Category)
	assert.Equal(t, "draft", meta.Stage)
}
