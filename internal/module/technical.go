package module

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

var (
	errorKeywordRe = regexp.MustCompile(`(?i)\b(error|exception|panic|traceback|failed|fatal)\b`)
	languageHints  = []hint{
		{"go", regexp.MustCompile(`(?i)\bfunc \w+\(|package \w+|goroutine|:=`)},
		{"python", regexp.MustCompile(`(?i)\bdef \w+\(|import \w+|traceback \(most recent`)},
		{"javascript", regexp.MustCompile(`(?i)\bconst \w+ =|=>|require\(|console\.log`)},
		{"rust", regexp.MustCompile(`(?i)\bfn \w+\(|impl \w+ for|cargo`)},
		{"sql", regexp.MustCompile(`(?i)\bSELECT \w+ FROM|INSERT INTO|UPDATE \w+ SET`)},
	}
	frameworkHints = []hint{
		{"react", regexp.MustCompile(`(?i)\buseState|useEffect|jsx`)},
		{"django", regexp.MustCompile(`(?i)\bdjango\.|models\.Model`)},
		{"rails", regexp.MustCompile(`(?i)\bActiveRecord|rails `)},
		{"gin", regexp.MustCompile(`(?i)\bgin\.Context|gin\.Engine`)},
		{"postgres", regexp.MustCompile(`(?i)\bpostgres|pg_`)},
	}
)

// TechnicalEnricher derives language, framework, error-pattern hash and
// severity from code-adjacent content (spec.md 4.3 per-module table).
// Grounded on the keyword/category detection idiom of
// internal/pattern/detector.go, generalised from "recurring pattern
// candidates" to a single-pass field extraction.
func TechnicalEnricher(content string, in models.Metadata) models.Metadata {
	out := in.Clone()

	lang := detectFirst(content, languageHints)
	framework := detectFirst(content, frameworkHints)
	severity := "low"
	var patternHash string

	if errorKeywordRe.MatchString(content) {
		severity = classifySeverity(content)
		patternHash = errorPatternHash(content)
	}

	meta := models.TechnicalMeta{
		Language:         lang,
		Framework:        framework,
		ErrorPatternHash: patternHash,
		Severity:         severity,
	}
	out["technical"] = meta

	if out.String(models.MetaKeyTitle) == "" {
		out[models.MetaKeyTitle] = models.TruncateRunes(content, models.MaxTitleLen)
	}
	if out.String(models.MetaKeySummary) == "" {
		out[models.MetaKeySummary] = models.TruncateRunes(content, models.MaxSummaryLen)
	}
	cats := out.StringSlice(models.MetaKeyCategories)
	if lang != "" {
		cats = append(cats, lang)
	}
	if framework != "" {
		cats = append(cats, framework)
	}
	out[models.MetaKeyCategories] = models.CappedSet(cats, models.MaxCategories)

	kws := out.StringSlice(models.MetaKeyKeywords)
	if patternHash != "" {
		kws = append(kws, "error")
	}
	out[models.MetaKeyKeywords] = models.CappedSet(kws, models.MaxKeywords)

	importance := out.Float32(models.MetaKeyImportanceScore)
	if importance == 0 {
		out[models.MetaKeyImportanceScore] = severityImportance(severity)
	}

	return out
}

func classifySeverity(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "panic") || strings.Contains(lower, "fatal"):
		return "critical"
	case strings.Contains(lower, "exception") || strings.Contains(lower, "traceback"):
		return "high"
	case strings.Contains(lower, "failed"):
		return "medium"
	default:
		return "low"
	}
}

func severityImportance(severity string) float32 {
	switch severity {
	case "critical":
		return 0.95
	case "high":
		return 0.8
	case "medium":
		return 0.6
	default:
		return 0.3
	}
}

// errorPatternHash collapses an error message to a short, stable
// fingerprint so recurring errors (same shape, different timestamps or
// ids) cluster under the same hash. Digits and quoted runs are
// normalised away before hashing.
func errorPatternHash(content string) string {
	normalized := digitRe.ReplaceAllString(content, "#")
	normalized = quotedRe.ReplaceAllString(normalized, "<q>")
	sum := sha256.Sum256([]byte(strings.ToLower(normalized)))
	return hex.EncodeToString(sum[:8])
}

var (
	digitRe  = regexp.MustCompile(`\d+`)
	quotedRe = regexp.MustCompile(`"[^"]*"|'[^']*'`)
)
