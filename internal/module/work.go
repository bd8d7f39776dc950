package module

import (
	"regexp"
	"time"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

var (
	projectTagRe = regexp.MustCompile(`(?i)#([a-z0-9][a-z0-9_-]{1,30})`)
	dueDateRe = regexp.MustCompile(`(?i)\bdue\s+(?:on\s+)?(\d{4}-\d{2}-\d{2})\b`)
	statusHints = []hint{
		{"done", regexp.MustCompile(`(?i)\b(done|completed|shipped|closed)\b`)},
		{"blocked", regexp.MustCompile(`(?i)\b(blocked|stuck|waiting on)\b`)},
		{"in_progress", regexp.MustCompile(`(?i)\b(in progress|working on|started)\b`)},
	}
)

// WorkEnricher derives a project tag, an optional due date and a status
// (spec.md 4.3 per-module table). Project tags follow the "#tag" hashtag
// convention the rest of the system already uses for categories.
func WorkEnricher(content string, in models.Metadata) models.Metadata {
	out := in.Clone()

	projectTag := ""
	if m := projectTagRe.FindStringSubmatch(content); m != nil {
		projectTag = m[1]
	}

	var dueDate *time.Time
	if m := dueDateRe.FindStringSubmatch(content); m != nil {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil {
			dueDate = &t
		}
	}

	status := detectFirst(content, statusHints)
	if status == "" {
		status = "open"
	}

	out["work"] = models.WorkMeta{ProjectTag: projectTag, DueDate: dueDate, Status: status}

	if out.String(models.MetaKeyTitle) == "" {
		out[models.MetaKeyTitle] = models.TruncateRunes(content, models.MaxTitleLen)
	}
	if out.String(models.MetaKeySummary) == "" {
		out[models.MetaKeySummary] = models.TruncateRunes(content, models.MaxSummaryLen)
	}

	cats := out.StringSlice(models.MetaKeyCategories)
	if projectTag != "" {
		cats = append(cats, projectTag)
	}
	out[models.MetaKeyCategories] = models.CappedSet(cats, models.MaxCategories)

	kws := out.StringSlice(models.MetaKeyKeywords)
	kws = append(kws, status)
	out[models.MetaKeyKeywords] = models.CappedSet(kws, models.MaxKeywords)

	if out.Float32(models.MetaKeyImportanceScore) == 0 {
		importance := float32(0.5)
		if status == "blocked" {
			importance = 0.75
		}
		if dueDate != nil && dueDate.Before(time.Now().Add(7*24*time.Hour)) {
			importance = 0.8
		}
		out[models.MetaKeyImportanceScore] = importance
	}

	return out
}
