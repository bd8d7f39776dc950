package orchestrator

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// optsHash fingerprints the parts of SearchOptions that change the
// result set, so the federated cache key (spec.md 4.7 step 5) varies
// whenever a caller's knobs do, not just the query text.
func optsHash(opts models.SearchOptions) string {
	h := fnv.New64a()
	h.Write([]byte(strconv.Itoa(opts.Limit)))
	h.Write([]byte(strconv.FormatFloat(float64(opts.MinScore), 'f', -1, 32)))
	h.Write([]byte(strconv.FormatBool(opts.IncludeEmbedding)))

	mods := append([]string(nil), opts.Modules...)
	sort.Strings(mods)
	for _, m := range mods {
		h.Write([]byte(m))
	}

	keys := make([]string, 0, len(opts.Filter))
	for k := range opts.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(toString(opts.Filter[k])))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func toString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// encodeResponse/decodeResponse serialise a FederatedSearchResponse for
// the best-effort cache; marshal/unmarshal failure is treated as a
// cache-miss signal, never a hard error (spec.md 4.8 "a miss must never
// fail a request").
func encodeResponse(resp models.FederatedSearchResponse) ([]byte, bool) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, false
	}
	return b, true
}

func decodeResponse(data []byte) (models.FederatedSearchResponse, bool) {
	var resp models.FederatedSearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return models.FederatedSearchResponse{}, false
	}
	return resp, true
}
