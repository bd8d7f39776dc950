package cache

import "github.com/4xguy/federated-memory-sub003/internal/config"

// NewFromConfig builds the process-wide Cache: Redis when CacheURL is
// set, otherwise the in-process LRU fallback (spec.md 4.8, 6
// "Global singletons... initialisation order is adapter -> embedder ->
// cache -> cmi -> registry -> loader").
func NewFromConfig(cfg *config.Config) (Cache, error) {
	if cfg.CacheURL != "" {
		return NewRedis(cfg.CacheURL), nil
	}
	return NewLRU(DefaultLRUSize)
}
