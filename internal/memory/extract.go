// Package memory holds the durable-fact subsystem: heuristic extraction of
// facts from user utterances and the reinforcement-tracking fact store.
package memory

import (
	"fmt"
	"regexp"
	"strings"

	"roundtable/internal/types"
)

// =============================================================================
// FACT EXTRACTION - prioritized list of independent matchers
// =============================================================================
//
// Each matcher inspects the user's utterance independently and may emit zero
// or more candidate facts; a single utterance can trigger several matchers.
// Deduplication against existing memory happens at insertion time in the
// FactStore, never here. Extraction is pure and deterministic.

// matcher inspects one utterance and returns candidate facts.
type matcher func(text, owner string) []candidate

type candidate struct {
	kind       types.FactKind
	text       string
	confidence float64
}

var matchers = []matcher{
	matchRemember,
	matchPreference,
	matchProject,
	matchName,
	matchTechnology,
	matchDislike,
	matchRule,
	matchComparison,
	matchGoal,
}

// Extract runs every matcher over the user message and returns the candidate
// facts, each carrying the source message id and the auto-extracted flag.
// The assistant message is accepted for provenance symmetry but patterns
// only fire on the user's own words.
func Extract(userMsg, assistantMsg types.Message, owner string) []types.Fact {
	text := strings.TrimSpace(userMsg.Content)
	if text == "" {
		return nil
	}

	var facts []types.Fact
	for _, m := range matchers {
		for _, c := range m(text, owner) {
			f := types.NewFact(c.kind, owner, c.text, c.confidence)
			f.SourceMessageID = userMsg.ID
			f.AutoExtracted = true
			facts = append(facts, f)
		}
	}
	return facts
}

// "remember that my favorite editor is vim" -> "{owner}'s favorite editor is vim"
var rememberRe = regexp.MustCompile(`(?i)remember that (?:my|the) ([^.!?]+?) (?:is|are) ([^.!?]+)`)

func matchRemember(text, owner string) []candidate {
	var out []candidate
	for _, m := range rememberRe.FindAllStringSubmatch(text, -1) {
		out = append(out, candidate{
			kind:       types.FactPreference,
			text:       fmt.Sprintf("%s's %s is %s", owner, strings.TrimSpace(m[1]), strings.TrimSpace(m[2])),
			confidence: 0.9,
		})
	}
	return out
}

// "I prefer dark mode" -> "{owner} prefers dark mode"
var preferenceRe = regexp.MustCompile(`(?i)\bI (prefer|like|love|enjoy)\s+([^.!?,]+)`)

func matchPreference(text, owner string) []candidate {
	var out []candidate
	for _, m := range preferenceRe.FindAllStringSubmatch(text, -1) {
		verb := strings.ToLower(m[1]) + "s" // prefer -> prefers
		out = append(out, candidate{
			kind:       types.FactPreference,
			text:       fmt.Sprintf("%s %s %s", owner, verb, strings.TrimSpace(m[2])),
			confidence: 0.8,
		})
	}
	return out
}

// "I'm working on a chat app" -> "{owner} is working on a chat app"
var projectRe = regexp.MustCompile(`(?i)\bI(?:'m| am)\s+(working on|building|developing)\s+([^.!?,]+)`)

func matchProject(text, owner string) []candidate {
	var out []candidate
	for _, m := range projectRe.FindAllStringSubmatch(text, -1) {
		out = append(out, candidate{
			kind:       types.FactProject,
			text:       fmt.Sprintf("%s is %s %s", owner, strings.ToLower(m[1]), strings.TrimSpace(m[2])),
			confidence: 0.85,
		})
	}
	return out
}

// "my name is Ada" / "I am Ada Lovelace" -> profile fact.
// Requires a capitalized word sequence so "I'm working" never looks like a
// name; gerunds are excluded explicitly as a second guard.
var nameRe = regexp.MustCompile(`(?i:my name is|I am|I'm)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)

func matchName(text, owner string) []candidate {
	var out []candidate
	for _, m := range nameRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if isGerund(strings.ToLower(strings.Fields(name)[0])) {
			continue
		}
		out = append(out, candidate{
			kind:       types.FactProfile,
			text:       fmt.Sprintf("%s's name is %s", owner, name),
			confidence: 0.95,
		})
	}
	return out
}

func isGerund(word string) bool {
	return strings.HasSuffix(word, "ing")
}

// Known technology keywords following using/with/in.
var technologyRe = regexp.MustCompile(`(?i)\b(?:using|with|in)\s+(React|Python|JavaScript|TypeScript|Golang|Go|Rust|Java|Node|Vue|Angular|Svelte|Django|Flask|Rails|Docker|Kubernetes|Postgres|PostgreSQL|MySQL|SQLite|Redis|GraphQL|Tailwind)\b`)

func matchTechnology(text, owner string) []candidate {
	var out []candidate
	for _, m := range technologyRe.FindAllStringSubmatch(text, -1) {
		out = append(out, candidate{
			kind:       types.FactProject,
			text:       fmt.Sprintf("%s is using %s", owner, m[1]),
			confidence: 0.75,
		})
	}
	return out
}

// "I hate meetings" -> negative preference.
var dislikeRe = regexp.MustCompile(`(?i)\bI (?:hate|don't like|dislike)\s+([^.!?,]+)`)

func matchDislike(text, owner string) []candidate {
	var out []candidate
	for _, m := range dislikeRe.FindAllStringSubmatch(text, -1) {
		out = append(out, candidate{
			kind:       types.FactPreference,
			text:       fmt.Sprintf("%s dislikes %s", owner, strings.TrimSpace(m[1])),
			confidence: 0.85,
		})
	}
	return out
}

// "always run the linter" / "never force-push" -> rule fact.
var ruleRe = regexp.MustCompile(`(?i)\b(always|never)\s+([^.!?,]+)`)

func matchRule(text, owner string) []candidate {
	var out []candidate
	for _, m := range ruleRe.FindAllStringSubmatch(text, -1) {
		out = append(out, candidate{
			kind:       types.FactRule,
			text:       fmt.Sprintf("%s's rule: %s %s", owner, strings.ToLower(m[1]), strings.TrimSpace(m[2])),
			confidence: 0.9,
		})
	}
	return out
}

// "tabs are better than spaces" -> comparative preference.
var comparisonRe = regexp.MustCompile(`(?i)\b([\w\s]+?)\s+(?:is|are)\s+(better|worse|faster|slower)\s+than\s+([^.!?,]+)`)

func matchComparison(text, owner string) []candidate {
	var out []candidate
	for _, m := range comparisonRe.FindAllStringSubmatch(text, -1) {
		out = append(out, candidate{
			kind:       types.FactPreference,
			text:       fmt.Sprintf("%s thinks %s is %s than %s", owner, strings.TrimSpace(m[1]), strings.ToLower(m[2]), strings.TrimSpace(m[3])),
			confidence: 0.8,
		})
	}
	return out
}

// "I want to learn Rust" / "my goal is to ship v2" -> todo fact.
var goalRe = regexp.MustCompile(`(?i)\b(?:I want to|my goal is to|I'm trying to)\s+([^.!?,]+)`)

func matchGoal(text, owner string) []candidate {
	var out []candidate
	for _, m := range goalRe.FindAllStringSubmatch(text, -1) {
		out = append(out, candidate{
			kind:       types.FactTodo,
			text:       fmt.Sprintf("%s wants to %s", owner, strings.TrimSpace(m[1])),
			confidence: 0.75,
		})
	}
	return out
}
