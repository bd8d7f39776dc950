package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModuleSpecsCoverEveryModuleFromTheSpecTable(t *testing.T) {
	want := []string{"technical", "personal", "work", "learning", "communication", "creative"}
	var got []string
	for _, s := range moduleSpecs {
		got = append(got, s.id)
		assert.NotNil(t, s.enricher, "module %s must have an enricher wired", s.id)
		assert.NotEmpty(t, s.name)
	}
	assert.ElementsMatch(t, want, got)
}

func TestSqlitePathDefaultsToCurrentDirectory(t *testing.T) {
	assert.Equal(t, "./enginectl.db", sqlitePath(""))
	assert.Equal(t, "/tmp/enginectl.db", sqlitePath("/tmp"))
	assert.Equal(t, "/tmp/enginectl.db", sqlitePath("/tmp/"))
}

func TestTruncateKeepsShortStringsIntact(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 80))
}

func TestTruncateEllipsizesLongStrings(t *testing.T) {
	got := truncate("this is a very long piece of content", 10)
	assert.Equal(t, "this is a …", got)
	assert.Equal(t, 11, len([]rune(got)))
}

func TestNoopCMIIndexerReportsDeferredIndexingRatherThanSucceeding(t *testing.T) {
	var idx noopCMIIndexer
	err := idx.IndexMemory(nil, "u1", "technical", "m1", nil, "", "", nil, nil, 0)
	assert.Error(t, err, "sqlite demo mode must surface a deferred-index signal, not silently succeed")
	assert.NoError(t, idx.DeleteIndex(nil, "technical", "m1"))
}

func TestAppHasCMIReflectsWhetherACMIStoreWasWired(t *testing.T) {
	var withNone App
	assert.False(t, withNone.hasCMI())
}

func TestPreflightPostgresRejectsAMalformedDSNWithoutDialingGorm(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := preflightPostgres(ctx, "not-a-valid-dsn")
	assert.Error(t, err, "a malformed DSN must fail the lib/pq preflight before gorm ever opens a pool")
}
