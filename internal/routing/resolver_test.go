package routing

import (
	"reflect"
	"testing"

	"roundtable/internal/types"
)

func agents() []types.AgentIdentity {
	return []types.AgentIdentity{
		{ID: "a1", Label: "Alice", Model: "gpt-4o-mini"},
		{ID: "b1", Label: "Bob", Model: "llama3"},
		{ID: "c1", Label: "Carol", Model: "mistral"},
		{ID: "d1", Label: "Dave", Model: "qwen"},
	}
}

func TestMentions(t *testing.T) {
	got := Mentions("hey @Bob and @code-bot, also @bob again")
	want := []string{"bob", "codebot"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Mentions() = %v, want %v", got, want)
	}
	if Mentions("no handles here") != nil {
		t.Fatalf("Mentions() on plain text should be nil")
	}
}

func TestResolveTargets_MentionWins(t *testing.T) {
	got := ResolveTargets("@bob what's up", agents(), []string{"a1", "c1"}, 0)
	if !reflect.DeepEqual(got, []string{"b1"}) {
		t.Fatalf("ResolveTargets() = %v, want [b1] regardless of previous selection", got)
	}
}

func TestResolveTargets_MentionByModelName(t *testing.T) {
	got := ResolveTargets("@llama3 hello", agents(), nil, 0)
	if !reflect.DeepEqual(got, []string{"b1"}) {
		t.Fatalf("ResolveTargets() = %v, want [b1] via model name", got)
	}
}

func TestResolveTargets_MentionByID(t *testing.T) {
	got := ResolveTargets("@a1 hi", agents(), nil, 0)
	if !reflect.DeepEqual(got, []string{"a1"}) {
		t.Fatalf("ResolveTargets() = %v, want [a1] via id", got)
	}
}

func TestResolveTargets_FallbackToPrevious(t *testing.T) {
	got := ResolveTargets("no mention here", agents(), []string{"a1", "b1"}, 0)
	if !reflect.DeepEqual(got, []string{"a1", "b1"}) {
		t.Fatalf("ResolveTargets() = %v, want previous selection in order", got)
	}
}

func TestResolveTargets_PreviousDropsUnknownIDs(t *testing.T) {
	got := ResolveTargets("hello", agents(), []string{"ghost", "b1"}, 0)
	if !reflect.DeepEqual(got, []string{"b1"}) {
		t.Fatalf("ResolveTargets() = %v, want stale ids filtered", got)
	}
}

func TestResolveTargets_FallbackToAllCapped(t *testing.T) {
	got := ResolveTargets("hello everyone", agents(), nil, 0)
	if !reflect.DeepEqual(got, []string{"a1", "b1", "c1"}) {
		t.Fatalf("ResolveTargets() = %v, want first 3 agents (default cap)", got)
	}
}

func TestResolveTargets_CustomCap(t *testing.T) {
	got := ResolveTargets("hello", agents(), []string{"a1", "b1", "c1", "d1"}, 2)
	if !reflect.DeepEqual(got, []string{"a1", "b1"}) {
		t.Fatalf("ResolveTargets() = %v, want truncation to cap 2", got)
	}
}

func TestResolveTargets_MultipleMentionsPreserveRosterOrder(t *testing.T) {
	got := ResolveTargets("@carol then @alice", agents(), nil, 0)
	if !reflect.DeepEqual(got, []string{"a1", "c1"}) {
		t.Fatalf("ResolveTargets() = %v, want roster order [a1 c1]", got)
	}
}

func TestResolveTargets_UnknownMentionSelectsNobody(t *testing.T) {
	got := ResolveTargets("@nobody around?", agents(), []string{"a1"}, 0)
	if len(got) != 0 {
		t.Fatalf("ResolveTargets() = %v, want empty for unmatched mention", got)
	}
}
