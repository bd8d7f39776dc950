package module

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/goccy/go-json"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// optsHash collapses SearchOptions into a short, stable string for the
// cache key (spec.md 4.8: the key must vary with the options so a
// narrower filter never serves a wider one's cached results).
func optsHash(opts models.SearchOptions) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "limit=%d;minScore=%f;includeEmbedding=%t;", opts.Limit, opts.MinScore, opts.IncludeEmbedding)

	modules := append([]string(nil), opts.Modules...)
	sort.Strings(modules)
	for _, m := range modules {
		fmt.Fprintf(h, "m=%s;", m)
	}

	keys := make([]string, 0, len(opts.Filter))
	for k := range opts.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "f.%s=%v;", k, opts.Filter[k])
	}

	return fmt.Sprintf("%x", h.Sum64())
}

// encodeResults/decodeResults marshal cached search results. A decode
// failure is treated as a cache miss rather than an error, matching the
// cache's "a miss must never fail a request" contract.
func encodeResults(results []models.SearchResult) ([]byte, bool) {
	b, err := json.Marshal(results)
	if err != nil {
		return nil, false
	}
	return b, true
}

func decodeResults(data []byte) ([]models.SearchResult, bool) {
	var results []models.SearchResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false
	}
	return results, true
}
