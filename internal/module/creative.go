package module

import (
	"regexp"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

var (
	categoryHints = []hint{
		{"poem", regexp.MustCompile(`(?i)\b(poem|verse|stanza|haiku)\b`)},
		{"story", regexp.MustCompile(`(?i)\b(story|chapter|plot|character)\b`)},
		{"design", regexp.MustCompile(`(?i)\b(design|mockup|wireframe|palette)\b`)},
		{"idea", regexp.MustCompile(`(?i)\b(idea|concept|what if|brainstorm)\b`)},
	}
	mediumHints = []hint{
		{"writing", regexp.MustCompile(`(?i)\b(wrote|writing|draft|manuscript)\b`)},
		{"visual", regexp.MustCompile(`(?i)\b(sketch|painted|drawing|illustration)\b`)},
		{"audio", regexp.MustCompile(`(?i)\b(melody|song|recording|track)\b`)},
	}
	stageHints = []hint{
		{"final", regexp.MustCompile(`(?i)\b(final|finished|published|complete)\b`)},
		{"revision", regexp.MustCompile(`(?i)\b(revision|edit|rewrite|polish)\b`)},
		{"draft", regexp.MustCompile(`(?i)\b(draft|rough|first pass|outline)\b`)},
	}
)

// CreativeEnricher derives category, medium, stage, and quality/
// originality/completion scores (spec.md 4.3 per-module table). The
// numeric scores are heuristic placeholders derived from the detected
// stage, not a true creativity model — a specialised Analyzer hook is
// the natural place to replace them with something content-aware.
func CreativeEnricher(content string, in models.Metadata) models.Metadata {
	out := in.Clone()

	category := detectFirst(content, categoryHints)
	if category == "" {
		category = "idea"
	}
	medium := detectFirst(content, mediumHints)
	if medium == "" {
		medium = "writing"
	}
	stage := detectFirst(content, stageHints)
	if stage == "" {
		stage = "draft"
	}

	completion := map[string]float32{"draft": 0.3, "revision": 0.65, "final": 1.0}[stage]
	quality := out.Float32("creative_quality_hint")
	if quality == 0 {
		quality = completion * 0.7
	}
	originality := out.Float32("creative_originality_hint")
	if originality == 0 {
		originality = 0.5
	}

	out["creative"] = models.CreativeMeta{
		Category: category, Medium: medium, Stage: stage,
		Quality: quality, Originality: originality, CompletionPct: completion,
	}

	if out.String(models.MetaKeyTitle) == "" {
		out[models.MetaKeyTitle] = models.TruncateRunes(content, models.MaxTitleLen)
	}
	if out.String(models.MetaKeySummary) == "" {
		out[models.MetaKeySummary] = models.TruncateRunes(content, models.MaxSummaryLen)
	}

	cats := out.StringSlice(models.MetaKeyCategories)
	cats = append(cats, category, medium)
	out[models.MetaKeyCategories] = models.CappedSet(cats, models.MaxCategories)

	kws := out.StringSlice(models.MetaKeyKeywords)
	kws = append(kws, stage)
	out[models.MetaKeyKeywords] = models.CappedSet(kws, models.MaxKeywords)

	if out.Float32(models.MetaKeyImportanceScore) == 0 {
		out[models.MetaKeyImportanceScore] = 0.3 + completion*0.3
	}

	return out
}
