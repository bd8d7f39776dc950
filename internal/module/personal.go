package module

import (
	"regexp"
	"strings"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

var (
	moodHints = []hint{
		{"happy", regexp.MustCompile(`(?i)\b(happy|excited|glad|grateful|proud)\b`)},
		{"sad", regexp.MustCompile(`(?i)\b(sad|down|depressed|upset|grief)\b`)},
		{"anxious", regexp.MustCompile(`(?i)\b(anxious|worried|nervous|stressed)\b`)},
		{"angry", regexp.MustCompile(`(?i)\b(angry|furious|frustrated|annoyed)\b`)},
		{"calm", regexp.MustCompile(`(?i)\b(calm|peaceful|relaxed|content)\b`)},
	}
	lifeAreaHints = []hint{
		{"health", regexp.MustCompile(`(?i)\b(doctor|health|gym|workout|diet|sleep)\b`)},
		{"relationship", regexp.MustCompile(`(?i)\b(partner|spouse|friend|family|relationship)\b`)},
		{"finance", regexp.MustCompile(`(?i)\b(money|budget|savings|rent|bills)\b`)},
		{"hobby", regexp.MustCompile(`(?i)\b(hobby|painting|hiking|reading|gaming)\b`)},
	}
	sensitiveHintsRe = regexp.MustCompile(`(?i)\b(diagnosis|therapy|medication|divorce|grief|abuse|suicide)\b`)
)

// PersonalEnricher derives mood, life area and a sensitivity flag
// (spec.md 4.3 per-module table). Grounded on the same keyword-scan idiom
// as TechnicalEnricher, applied to affective rather than code content.
func PersonalEnricher(content string, in models.Metadata) models.Metadata {
	out := in.Clone()

	mood := detectFirst(content, moodHints)
	area := detectFirst(content, lifeAreaHints)
	sensitive := sensitiveHintsRe.MatchString(content)

	out["personal"] = models.PersonalMeta{Mood: mood, LifeArea: area, Sensitive: sensitive}

	if out.String(models.MetaKeyTitle) == "" {
		out[models.MetaKeyTitle] = models.TruncateRunes(content, models.MaxTitleLen)
	}
	if out.String(models.MetaKeySummary) == "" {
		out[models.MetaKeySummary] = models.TruncateRunes(content, models.MaxSummaryLen)
	}

	cats := out.StringSlice(models.MetaKeyCategories)
	if area != "" {
		cats = append(cats, area)
	}
	out[models.MetaKeyCategories] = models.CappedSet(cats, models.MaxCategories)

	kws := out.StringSlice(models.MetaKeyKeywords)
	if mood != "" {
		kws = append(kws, mood)
	}
	out[models.MetaKeyKeywords] = models.CappedSet(kws, models.MaxKeywords)

	if out.Float32(models.MetaKeyImportanceScore) == 0 {
		importance := float32(0.4)
		if sensitive {
			importance = 0.85
		} else if strings.TrimSpace(mood) != "" {
			importance = 0.55
		}
		out[models.MetaKeyImportanceScore] = importance
	}

	return out
}
