package models

// SearchResult is a Memory plus the score and owning module it was found
// under (spec.md 3.1). Module identity is part of the result's identity:
// two modules may reuse the same remote id.
type SearchResult struct {
	Memory
	Score  float32
	Module string
}

// SearchOptions are the knobs accepted by Module.Search /
// Module.SearchByEmbedding (spec.md 4.3) and the orchestrator (spec.md 4.7).
type SearchOptions struct {
	Filter           map[string]any
	Modules          []string
	Limit            int
	MinScore         float32
	IncludeEmbedding bool
}

// DefaultSearchOptions returns the spec.md 4.7 defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:    10,
		MinScore: 0.5,
	}
}

// RouteCandidate is one module's routing confidence, as computed by the
// CMI (spec.md 4.6).
type RouteCandidate struct {
	ModuleID   string
	Reason     string
	Confidence float32
	HitCount   int
}

// RoutingDecision is the ordered output of a CMI route call.
type RoutingDecision struct {
	Candidates []RouteCandidate
}

// ModuleIDs returns just the module ids, in ranked order.
func (r RoutingDecision) ModuleIDs() []string {
	ids := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		ids[i] = c.ModuleID
	}
	return ids
}

// FederatedSearchResponse is the envelope returned by the orchestrator
// (spec.md 4.7, 5 "Fan-out").
type FederatedSearchResponse struct {
	Results        []SearchResult
	Partial        bool
	SkippedModules []string
}
