// Package config provides process-wide configuration for the federated
// memory store, loaded from environment variables (spec.md 6
// "Configuration variables").
package config

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds every tunable the core consumes at start-up.
type Config struct {
	EmbeddingURL      string
	EmbeddingKey      string
	EmbeddingModel    string
	DatabaseURL       string
	CacheURL          string
	FDim              int
	CDim              int
	HealthProbePeriod time.Duration
	SearchFanout      int
	SearchDeadline    time.Duration
	AllowMockEmbed    bool
}

// Default values, used when the corresponding environment variable is unset.
const (
	DefaultFDim              = 1536
	DefaultCDim              = 512
	DefaultHealthProbeSeconds = 60
	DefaultSearchFanout       = 3
	DefaultSearchDeadlineMs   = 2000
)

var (
	global   *Config
	globalMu sync.RWMutex
	once     sync.Once
)

// FromEnv builds a Config by reading the environment variables of
// spec.md 6.
func FromEnv() *Config {
	cfg := &Config{
		EmbeddingURL:      os.Getenv("EMBEDDING_URL"),
		EmbeddingKey:      os.Getenv("EMBEDDING_KEY"),
		EmbeddingModel:    os.Getenv("EMBEDDING_MODEL"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		CacheURL:          os.Getenv("CACHE_URL"),
		FDim:              envInt("F_DIM", DefaultFDim),
		CDim:              envInt("C_DIM", DefaultCDim),
		HealthProbePeriod: time.Duration(envInt("HEALTH_PROBE_SECONDS", DefaultHealthProbeSeconds)) * time.Second,
		SearchFanout:      envInt("SEARCH_FANOUT", DefaultSearchFanout),
		SearchDeadline:    time.Duration(envInt("SEARCH_DEADLINE_MS", DefaultSearchDeadlineMs)) * time.Millisecond,
		AllowMockEmbed:    os.Getenv("ALLOW_MOCK_EMBED") == "1",
	}
	return cfg
}

// Global returns the process-wide Config, lazily loaded from the
// environment on first use.
func Global() *Config {
	once.Do(func() {
		globalMu.Lock()
		if global == nil {
			global = FromEnv()
		}
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// SetGlobal overrides the process-wide Config. Intended for tests and for
// callers (e.g. cmd/enginectl) that build a Config explicitly instead of
// from the environment.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cfg
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
