package module

import (
	"regexp"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

var (
	difficultyHints = []hint{
		{"beginner", regexp.MustCompile(`(?i)\b(beginner|intro|basics|101)\b`)},
		{"advanced", regexp.MustCompile(`(?i)\b(advanced|expert|deep dive)\b`)},
		{"intermediate", regexp.MustCompile(`(?i)\b(intermediate)\b`)},
	}
	reviewHintsRe  = regexp.MustCompile(`(?i)\b(review again|revisit|don't understand|confused|unclear)\b`)
	masteryHintsRe = regexp.MustCompile(`(?i)\b(got it|understood|makes sense|clear now|mastered)\b`)
)

// LearningEnricher derives subject, difficulty, progress, review-needed
// flag and understanding score (spec.md 4.3 per-module table). Subject is
// taken from the first hashtag-style tag, matching WorkEnricher's
// project-tag convention; difficulty and review-state come from keyword
// scans.
func LearningEnricher(content string, in models.Metadata) models.Metadata {
	out := in.Clone()

	subject := ""
	if m := projectTagRe.FindStringSubmatch(content); m != nil {
		subject = m[1]
	}

	difficulty := detectFirst(content, difficultyHints)
	if difficulty == "" {
		difficulty = "intermediate"
	}

	reviewNeeded := reviewHintsRe.MatchString(content)
	understanding := float32(0.5)
	switch {
	case masteryHintsRe.MatchString(content):
		understanding = 0.9
	case reviewNeeded:
		understanding = 0.2
	}

	progress := out.Float32("learning_progress_hint")
	if progress == 0 {
		progress = understanding
	}

	out["learning"] = models.LearningMeta{
		Subject:       subject,
		Difficulty:    difficulty,
		Progress:      progress,
		ReviewNeeded:  reviewNeeded,
		Understanding: understanding,
	}

	if out.String(models.MetaKeyTitle) == "" {
		out[models.MetaKeyTitle] = models.TruncateRunes(content, models.MaxTitleLen)
	}
	if out.String(models.MetaKeySummary) == "" {
		out[models.MetaKeySummary] = models.TruncateRunes(content, models.MaxSummaryLen)
	}

	cats := out.StringSlice(models.MetaKeyCategories)
	if subject != "" {
		cats = append(cats, subject)
	}
	cats = append(cats, difficulty)
	out[models.MetaKeyCategories] = models.CappedSet(cats, models.MaxCategories)

	kws := out.StringSlice(models.MetaKeyKeywords)
	if reviewNeeded {
		kws = append(kws, "review")
	}
	out[models.MetaKeyKeywords] = models.CappedSet(kws, models.MaxKeywords)

	if out.Float32(models.MetaKeyImportanceScore) == 0 {
		importance := float32(0.4)
		if reviewNeeded {
			importance = 0.7
		}
		out[models.MetaKeyImportanceScore] = importance
	}

	return out
}
