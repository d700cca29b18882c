package selector

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
)

type fakeOracle struct {
	decision map[string]bool
	err      error
	calls    int
}

func (f *fakeOracle) Decide(ctx context.Context, query string, candidates []Candidate) (map[string]bool, error) {
	f.calls++
	return f.decision, f.err
}

func candidates(ids ...string) []Candidate {
	out := make([]Candidate, len(ids))
	for i, id := range ids {
		out[i] = Candidate{ID: id, Name: "agent-" + id}
	}
	return out
}

func TestSelect_IntersectsAndPreservesAvailableOrder(t *testing.T) {
	oracle := &fakeOracle{decision: map[string]bool{"c": true, "a": true, "unknown": true}}
	s := New(oracle, slog.Default())

	got, err := s.Select(context.Background(), "query", candidates("a", "b", "c"))
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	want := []string{"a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelect_FalseEntriesDropped(t *testing.T) {
	oracle := &fakeOracle{decision: map[string]bool{"a": true, "b": false}}
	s := New(oracle, slog.Default())

	got, err := s.Select(context.Background(), "query", candidates("a", "b"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("expected [a], got %v", got)
	}
}

func TestSelect_EmptyDecision(t *testing.T) {
	oracle := &fakeOracle{decision: map[string]bool{}}
	s := New(oracle, slog.Default())

	got, err := s.Select(context.Background(), "query", candidates("a", "b"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty selection, got %v", got)
	}
}

func TestStaticOracle_MatchesDirectoryTags(t *testing.T) {
	// No configured keywords; only the candidates' directory tags drive the
	// decision.
	oracle := NewStaticOracle(nil)

	cands := []Candidate{
		{ID: "billing", Name: "Billing", Tags: []string{"invoice", "refund"}},
		{ID: "hr", Name: "HR", Tags: []string{"vacation"}},
	}

	got, err := oracle.Decide(context.Background(), "Where is my refund for invoice 42?", cands)
	if err != nil {
		t.Fatal(err)
	}
	if !got["billing"] || got["hr"] {
		t.Errorf("expected only billing selected, got %v", got)
	}
}

func TestSelect_OracleErrorPropagates(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("model unreachable")}
	s := New(oracle, slog.Default())

	got, err := s.Select(context.Background(), "query", candidates("a"))
	if err == nil {
		t.Fatal("expected error when oracle fails")
	}
	if got != nil {
		t.Errorf("expected no partial selection on failure, got %v", got)
	}
}

func TestStaticOracle_KeywordMatch(t *testing.T) {
	oracle := NewStaticOracle(map[string][]string{
		"legal": {"law", "statute"},
		"it":    {"password", "email"},
	})

	tests := []struct {
		query string
		want  map[string]bool
	}{
		{"Can I terminate an employee without notice under the law?", map[string]bool{"legal": true}},
		{"How do I reset my company email password?", map[string]bool{"it": true}},
		{"What time is lunch?", map[string]bool{}},
	}

	for _, tt := range tests {
		got, err := oracle.Decide(context.Background(), tt.query, candidates("legal", "it"))
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("query %q: expected %v, got %v", tt.query, tt.want, got)
		}
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string]bool
		wantErr bool
	}{
		{"bare object", `{"a": true, "b": false}`, map[string]bool{"a": true, "b": false}, false},
		{"fenced block", "```json\n{\"a\": true}\n```", map[string]bool{"a": true}, false},
		{"surrounding prose", `Sure! {"a": false} Hope that helps.`, map[string]bool{"a": false}, false},
		{"no object", "I cannot decide.", nil, true},
		{"malformed", `{"a": "yes"}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDecision(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
