// Package routing decides which agents answer a user message: explicit
// @mentions win, then the previously selected set, then every available
// agent, always capped at the configured concurrency.
package routing

import (
	"regexp"
	"strings"

	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// DefaultMaxConcurrent is the default cap on agents per turn.
const DefaultMaxConcurrent = 3

var mentionRe = regexp.MustCompile(`(?i)@([a-z0-9_-]+)`)

// normalizeHandle lowercases and strips non-alphanumerics so "@Code-Bot",
// "codebot" and "code_bot" all collide.
func normalizeHandle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Mentions returns the normalized @handles found in the text, in order of
// first appearance, deduplicated.
func Mentions(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		h := normalizeHandle(m[1])
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// handleSet builds the normalized token set an agent answers to: its label,
// id, and underlying model name.
func handleSet(a *types.AgentIdentity) map[string]bool {
	set := make(map[string]bool, 3)
	for _, tok := range []string{a.Label, a.ID, a.Model} {
		if h := normalizeHandle(tok); h != "" {
			set[h] = true
		}
	}
	return set
}

// ResolveTargets selects the agents that answer this user message.
//
// Mentioned agents are matched against each configured agent's token set.
// With no mentions, previouslySelected is reused when non-empty, otherwise
// every configured agent is selected. The result preserves relative order,
// is deduplicated by id, and is truncated to maxConcurrent (0 means
// DefaultMaxConcurrent).
func ResolveTargets(userText string, configured []types.AgentIdentity, previouslySelected []string, maxConcurrent int) []string {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	byID := make(map[string]bool, len(configured))
	for _, a := range configured {
		byID[a.ID] = true
	}

	var selected []string
	if mentions := Mentions(userText); len(mentions) > 0 {
		mentioned := make(map[string]bool, len(mentions))
		for _, h := range mentions {
			mentioned[h] = true
		}
		for _, a := range configured {
			for h := range handleSet(&a) {
				if mentioned[h] {
					selected = append(selected, a.ID)
					break
				}
			}
		}
		logging.Routing("mentions %v resolved to %v", mentions, selected)
	} else if len(previouslySelected) > 0 {
		// Keep only ids that still exist in the roster.
		for _, id := range previouslySelected {
			if byID[id] {
				selected = append(selected, id)
			}
		}
		logging.RoutingDebug("no mentions, reusing previous selection %v", selected)
	} else {
		for _, a := range configured {
			selected = append(selected, a.ID)
		}
		logging.RoutingDebug("no mentions or previous selection, using all %d agents", len(selected))
	}

	selected = dedupe(selected)
	if len(selected) > maxConcurrent {
		selected = selected[:maxConcurrent]
	}
	return selected
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
