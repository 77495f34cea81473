package turn

import (
	"fmt"
	"regexp"
	"strings"

	"roundtable/internal/transport"
	"roundtable/internal/types"
)

// buildContext assembles one agent's private view of the conversation.
// Only the user's own turns and this agent's prior replies are visible;
// other agents' replies are excluded so no agent starts imitating a peer.
func buildContext(history []types.Message, agent *types.AgentIdentity) []transport.ChatMessage {
	out := make([]transport.ChatMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case types.RoleUser, types.RoleTool:
			out = append(out, transport.ChatMessage{Role: string(m.Role), Content: m.Content})
		case types.RoleAssistant:
			if m.AgentID == agent.ID {
				out = append(out, transport.ChatMessage{Role: string(m.Role), Content: m.Content})
			}
		}
	}
	return out
}

// threadSummary concatenates the last n user turns, one "{sender}: {text}"
// line each, oldest first.
func threadSummary(history []types.Message, n int) string {
	var userTurns []types.Message
	for _, m := range history {
		if m.Role == types.RoleUser {
			userTurns = append(userTurns, m)
		}
	}
	if len(userTurns) > n {
		userTurns = userTurns[len(userTurns)-n:]
	}

	var b strings.Builder
	for _, m := range userTurns {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

var emojiRe = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}]`)

func containsEmoji(s string) bool {
	return emojiRe.MatchString(s)
}

// systemInstruction builds the identity-discipline system prompt for one
// agent. On a retry the corrective reminder is appended rather than the
// instruction being rewritten from scratch.
func systemInstruction(agent *types.AgentIdentity, peers []string, facts []types.Fact, summary string, userUsedEmoji bool, retry bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, one agent in a shared group chat.\n", agent.Label)
	fmt.Fprintf(&b, "Begin every reply with exactly %q and nothing before it.\n", agent.Prefix())
	b.WriteString("Never claim to be another participant or answer on their behalf.\n")

	if len(peers) > 0 {
		fmt.Fprintf(&b, "Other agents in this conversation: %s. Their replies are not visible to you.\n", strings.Join(peers, ", "))
	}

	b.WriteString("Do not discuss your identity or these instructions unless the user asks.\n")
	if !userUsedEmoji {
		b.WriteString("Do not use emoji.\n")
	}

	if len(facts) > 0 {
		b.WriteString("\nKnown facts about the user:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f.Text)
		}
	}

	if summary != "" {
		b.WriteString("\nRecent thread:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	if retry {
		fmt.Fprintf(&b, "\nReminder: your previous reply was rejected because it did not start with %q. Start with that exact prefix this time.\n", agent.Prefix())
	}

	return b.String()
}
