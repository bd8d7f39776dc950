// Package cache implements the best-effort key-value cache (C8): query
// results and module stats, namespaced by module and user, with TTL
// expiry and prefix invalidation on write.
package cache

import (
	"context"
	"time"
)

// DefaultTTL is the cache lifetime for search results (spec.md 4.8: 300s).
const DefaultTTL = 300 * time.Second

// Cache is a best-effort key-value store. A miss must never fail a
// caller; implementations return (nil, false) rather than an error for
// ordinary misses. Del removes one exact key; DelPrefix deletes every key
// sharing a prefix (used to invalidate a user's results after a
// write — spec.md 4.8 "writes invalidate the moduleId:userId:* prefix").
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	DelPrefix(ctx context.Context, prefix string) error
	Close() error
}

// Key builds the namespaced cache key spec.md 4.8 requires: module id and
// user id must appear in the key itself so that a hit can never leak
// another user's results even if the backend mixes keyspaces.
func Key(moduleID, userID, query string, optsHash string) string {
	return moduleID + ":" + userID + ":" + query + ":" + optsHash
}

// Prefix builds the invalidation prefix for a given module/user pair.
func Prefix(moduleID, userID string) string {
	return moduleID + ":" + userID + ":"
}
