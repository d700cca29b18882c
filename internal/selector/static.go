package selector

import (
	"context"
	"strings"
)

// StaticOracle selects agents by keyword match against the query. It backs
// installs that have no model credentials configured; a candidate is selected
// when any of its configured keywords, or any of its directory tags, appears
// in the query.
type StaticOracle struct {
	// Keywords maps an agent id to the lowercase keywords that activate it,
	// on top of whatever tags the directory entry carries.
	Keywords map[string][]string
}

// NewStaticOracle creates a keyword-rule oracle.
func NewStaticOracle(keywords map[string][]string) *StaticOracle {
	return &StaticOracle{Keywords: keywords}
}

// Decide implements Oracle.
func (o *StaticOracle) Decide(ctx context.Context, query string, candidates []Candidate) (map[string]bool, error) {
	q := strings.ToLower(query)
	decision := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if matchesAny(q, o.Keywords[c.ID]) || matchesAny(q, c.Tags) {
			decision[c.ID] = true
		}
	}
	return decision, nil
}

func matchesAny(query string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(query, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
