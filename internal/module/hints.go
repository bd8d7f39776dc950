package module

import "regexp"

// hint pairs a label with its detection pattern. Hints are evaluated in
// slice order (not map order, which Go randomises per iteration) so that
// detectFirst is deterministic across repeated calls on the same
// content — required for the enrichers' idempotence law.
type hint struct {
	name string
	re   *regexp.Regexp
}

// detectFirst returns the name of the first hint whose pattern matches
// content, or "" if none match.
func detectFirst(content string, hints []hint) string {
	for _, h := range hints {
		if h.re.MatchString(content) {
			return h.name
		}
	}
	return ""
}
