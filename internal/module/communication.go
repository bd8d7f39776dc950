package module

import (
	"regexp"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

var (
	senderRe    = regexp.MustCompile(`(?i)\bfrom:\s*([^\n,]+)`)
	recipientRe = regexp.MustCompile(`(?i)\bto:\s*([^\n,]+)`)
	threadRe = regexp.MustCompile(`(?i)\bthread[:\s]+([a-z0-9_-]+)`)
	toneHints = []hint{
		{"urgent", regexp.MustCompile(`(?i)\b(urgent|asap|immediately|critical)\b`)},
		{"negative", regexp.MustCompile(`(?i)\b(disappointed|unacceptable|frustrated|angry)\b`)},
		{"positive", regexp.MustCompile(`(?i)\b(thanks|great|appreciate|awesome)\b`)},
		{"neutral", regexp.MustCompile(`(?i)\b(fyi|noted|update)\b`)},
	}
)

// CommunicationEnricher derives sender/recipient tags, a thread id and an
// emotional tone (spec.md 4.3 per-module table). Sender/recipient/thread
// extraction assumes a lightly-structured "From:"/"To:"/"Thread:" header
// convention; anything not matching those is left blank rather than
// guessed at.
func CommunicationEnricher(content string, in models.Metadata) models.Metadata {
	out := in.Clone()

	sender := firstSubmatch(senderRe, content)
	recipient := firstSubmatch(recipientRe, content)
	thread := firstSubmatch(threadRe, content)
	tone := detectFirst(content, toneHints)
	if tone == "" {
		tone = "neutral"
	}

	out["communication"] = models.CommunicationMeta{
		SenderTag: sender, RecipientTag: recipient, ThreadID: thread, EmotionalTone: tone,
	}

	if out.String(models.MetaKeyTitle) == "" {
		out[models.MetaKeyTitle] = models.TruncateRunes(content, models.MaxTitleLen)
	}
	if out.String(models.MetaKeySummary) == "" {
		out[models.MetaKeySummary] = models.TruncateRunes(content, models.MaxSummaryLen)
	}

	cats := out.StringSlice(models.MetaKeyCategories)
	cats = append(cats, tone)
	out[models.MetaKeyCategories] = models.CappedSet(cats, models.MaxCategories)

	kws := out.StringSlice(models.MetaKeyKeywords)
	if thread != "" {
		kws = append(kws, thread)
	}
	out[models.MetaKeyKeywords] = models.CappedSet(kws, models.MaxKeywords)

	if out.Float32(models.MetaKeyImportanceScore) == 0 {
		importance := float32(0.4)
		if tone == "urgent" || tone == "negative" {
			importance = 0.75
		}
		out[models.MetaKeyImportanceScore] = importance
	}

	return out
}

func firstSubmatch(re *regexp.Regexp, content string) string {
	m := re.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return m[1]
}
