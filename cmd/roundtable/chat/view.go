package chat

import (
	"fmt"
	"strings"

	"roundtable/internal/types"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	header := m.styles.Header.Render(fmt.Sprintf("roundtable — %s", m.deps.Chat.Title)) +
		"  " + m.styles.Help.Render(rosterLine(m.deps.Roster))

	status := m.styles.Help.Render("enter: send • esc: cancel turn • ctrl+c: quit")
	if m.busy {
		status = m.spinner.View() + m.styles.Help.Render(" agents are replying…")
	}
	if m.notice != "" {
		status = m.styles.Moderator.Render(m.notice)
	}
	if m.err != nil {
		status = m.styles.Error.Render(m.err.Error())
	}

	return strings.Join([]string{
		header,
		m.viewport.View(),
		m.textarea.View(),
		m.styles.Footer.Render(status),
	}, "\n")
}

// renderHistory formats committed messages plus any live streams.
func (m *Model) renderHistory() string {
	var b strings.Builder

	for _, msg := range m.history {
		switch msg.Role {
		case types.RoleUser:
			b.WriteString(m.styles.UserLine.Render(msg.Sender+":") + " " + msg.Content + "\n\n")
		case types.RoleAssistant:
			b.WriteString(m.styles.AgentName.Render("["+msg.AgentLabel+"]") + "\n")
			b.WriteString(m.renderMarkdown(msg.Content))
			b.WriteString("\n")
		case types.RoleSystem:
			b.WriteString(m.styles.Moderator.Render("• "+msg.Content) + "\n\n")
		case types.RoleTool:
			b.WriteString(m.styles.Moderator.Render("tool: "+msg.Content) + "\n\n")
		}
	}

	for _, id := range m.streamOrder {
		text := m.streams[id].String()
		if text == "" {
			continue
		}
		b.WriteString(m.styles.AgentName.Render("["+m.label(id)+"]") + " " +
			m.styles.Streaming.Render(text+"▌") + "\n\n")
	}

	return b.String()
}

func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content + "\n"
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}
