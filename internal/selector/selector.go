// Package selector decides which agents should participate in answering a
// query. The scoring itself is delegated to an Oracle; the selector only
// normalizes the oracle's output against the agents the caller is entitled to.
package selector

import (
	"context"
	"fmt"
	"log/slog"
)

// Candidate is an agent offered to the oracle for scoring.
type Candidate struct {
	ID          string
	Name        string
	Description string
	Tags        []string // keyword tags from the agent directory
}

// Oracle scores candidates for a query. Implementations may call a remote
// model, a rule engine, or anything else; the hub assumes only that Decide
// eventually returns or fails. The returned map may be sparse: a missing id
// means not selected.
type Oracle interface {
	Decide(ctx context.Context, query string, candidates []Candidate) (map[string]bool, error)
}

// Selector wraps an Oracle and filters its output down to the available set.
type Selector struct {
	oracle Oracle
	logger *slog.Logger
}

// New creates a Selector.
func New(oracle Oracle, logger *slog.Logger) *Selector {
	return &Selector{oracle: oracle, logger: logger.With("component", "selector")}
}

// Select returns the ids of agents the oracle judged relevant, restricted to
// availableAgents and ordered as availableAgents is ordered. An oracle error
// aborts selection entirely; no partial result is returned.
func (s *Selector) Select(ctx context.Context, query string, available []Candidate) ([]string, error) {
	decision, err := s.oracle.Decide(ctx, query, available)
	if err != nil {
		return nil, fmt.Errorf("oracle decide: %w", err)
	}

	selected := make([]string, 0, len(available))
	for _, c := range available {
		if decision[c.ID] {
			selected = append(selected, c.ID)
		}
	}

	// Ids the oracle invented are dropped by construction above; log them so a
	// misbehaving oracle is visible.
	for id := range decision {
		if !containsCandidate(available, id) {
			s.logger.Warn("oracle selected unknown agent, dropping", "agent_id", id)
		}
	}

	return selected, nil
}

func containsCandidate(candidates []Candidate, id string) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
