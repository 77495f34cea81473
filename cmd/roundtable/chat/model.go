// Package chat is the interactive terminal UI: a shared room where the
// user talks to several model-backed agents at once.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"roundtable/internal/config"
	"roundtable/internal/logging"
	"roundtable/internal/memory"
	"roundtable/internal/skills"
	"roundtable/internal/store"
	"roundtable/internal/turn"
	"roundtable/internal/types"
)

// Deps are the wired services the chat UI drives.
type Deps struct {
	Config       *config.Config
	Store        *store.Store
	Orchestrator *turn.Orchestrator
	Facts        *memory.FactStore
	Skills       *skills.Registry
	Roster       []types.AgentIdentity
	Chat         types.Chat
}

// Messages sent into the bubbletea loop by orchestrator event hooks.
type (
	tokenMsg struct{ agentID, token string }
	stateMsg struct {
		agentID string
		state   types.TurnState
	}
	resetMsg     struct{ agentID string }
	committedMsg struct{ msg types.Message }
	idleMsg      struct{}
)

// RosterMsg swaps the active agent roster, sent when the config file is
// reloaded while the chat is running.
type RosterMsg struct {
	Roster []types.AgentIdentity
}

// Model is the bubbletea model for the chat screen.
type Model struct {
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	styles   Styles
	renderer *glamour.TermRenderer

	deps         Deps
	history      []types.Message
	lastSelected []string

	// In-flight stream text per agent, in arrival order.
	streams     map[string]*strings.Builder
	streamOrder []string
	agentLabels map[string]string

	busy   bool
	cancel context.CancelFunc
	width  int
	height int
	ready  bool
	notice string
	err    error
}

// NewModel builds the chat model over already-wired services.
func NewModel(deps Deps) Model {
	styles := NewStyles(DarkTheme())

	ta := textarea.New()
	ta.Placeholder = "Message the room (@label to address one agent, /help for skills)"
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Spinner))

	labels := make(map[string]string, len(deps.Roster))
	for _, a := range deps.Roster {
		labels[a.ID] = a.Label
	}

	return Model{
		textarea:    ta,
		spinner:     sp,
		styles:      styles,
		deps:        deps,
		history:     deps.Store.Recent(deps.Chat.ID, deps.Config.Chat.HistoryWindow),
		streams:     make(map[string]*strings.Builder),
		agentLabels: labels,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatHeight := msg.Height - 6
		if chatHeight < 3 {
			chatHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, chatHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = chatHeight
		}
		m.textarea.SetWidth(msg.Width - 2)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-4),
		)
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.busy && m.cancel != nil {
				m.cancel()
				m.notice = "cancelled"
			}
			return m, nil
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			return m.handleSubmit()
		}

	case tokenMsg:
		b, ok := m.streams[msg.agentID]
		if !ok {
			b = &strings.Builder{}
			m.streams[msg.agentID] = b
			m.streamOrder = append(m.streamOrder, msg.agentID)
		}
		b.WriteString(msg.token)
		m.refreshViewport()
		return m, nil

	case resetMsg:
		if b, ok := m.streams[msg.agentID]; ok {
			b.Reset()
		}
		m.refreshViewport()
		return m, nil

	case stateMsg:
		logging.Session("agent %s state %s", msg.agentID, msg.state)
		if msg.state.Terminal() {
			m.clearStream(msg.agentID)
			m.refreshViewport()
		}
		return m, nil

	case committedMsg:
		m.history = append(m.history, msg.msg)
		m.refreshViewport()
		return m, nil

	case RosterMsg:
		m.deps.Roster = msg.Roster
		labels := make(map[string]string, len(msg.Roster))
		for _, a := range msg.Roster {
			labels[a.ID] = a.Label
		}
		m.agentLabels = labels
		m.notice = "agent roster reloaded"
		return m, nil

	case idleMsg:
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.busy = false
		m.textarea.Focus()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var taCmd, vpCmd tea.Cmd
	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, taCmd, vpCmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.textarea.Value())
	if text == "" {
		return m, nil
	}
	m.textarea.Reset()
	m.notice = ""

	if strings.HasPrefix(text, "/") {
		return m.runSkill(text)
	}

	ctx, cancel := context.WithCancel(context.Background())
	targets, err := m.deps.Orchestrator.ProcessUserMessage(ctx, m.deps.Chat.ID, text, m.deps.Roster, m.lastSelected)
	if err != nil {
		cancel()
		m.err = err
		return m, nil
	}
	m.lastSelected = targets

	if m.deps.Orchestrator.Pending() > 0 {
		m.busy = true
		m.cancel = cancel
		m.textarea.Blur()
	} else {
		cancel()
	}
	return m, nil
}

// runSkill dispatches a /command to the skill registry and shows the
// result as a moderator-style line.
func (m Model) runSkill(text string) (tea.Model, tea.Cmd) {
	name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	name = strings.ToLower(strings.TrimSpace(name))

	if name == "help" {
		m.notice = "skills: /" + strings.Join(m.deps.Skills.Names(), ", /")
		return m, nil
	}

	out, err := m.deps.Skills.Invoke(name, skills.Context{
		ChatID:  m.deps.Chat.ID,
		Args:    strings.TrimSpace(args),
		Facts:   m.deps.Facts,
		History: m.history,
	})
	if err != nil {
		m.notice = err.Error()
		return m, nil
	}

	reply := types.NewMessage(m.deps.Chat.ID, types.RoleSystem, "moderator", out)
	if err := m.deps.Store.Append(reply); err != nil {
		m.err = err
		return m, nil
	}
	m.history = append(m.history, reply)
	m.refreshViewport()
	return m, nil
}

func (m *Model) clearStream(agentID string) {
	delete(m.streams, agentID)
	for i, id := range m.streamOrder {
		if id == agentID {
			m.streamOrder = append(m.streamOrder[:i], m.streamOrder[i+1:]...)
			break
		}
	}
}

func (m *Model) label(agentID string) string {
	if l, ok := m.agentLabels[agentID]; ok {
		return l
	}
	return agentID
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

// RunInteractiveChat wires the orchestrator events into a bubbletea
// program and runs it until the user quits. onStart, when set, receives a
// thread-safe send function before the program starts, so callers can
// inject messages (config reloads, for one) from outside the UI loop.
func RunInteractiveChat(deps Deps, onStart func(send func(tea.Msg))) error {
	p := tea.NewProgram(NewModel(deps), tea.WithAltScreen())

	deps.Orchestrator.SetEvents(turn.Events{
		OnToken:     func(id, tok string) { p.Send(tokenMsg{agentID: id, token: tok}) },
		OnState:     func(id string, st types.TurnState) { p.Send(stateMsg{agentID: id, state: st}) },
		OnReset:     func(id string) { p.Send(resetMsg{agentID: id}) },
		OnCommitted: func(msg types.Message) { p.Send(committedMsg{msg: msg}) },
		OnIdle:      func() { p.Send(idleMsg{}) },
	})

	if onStart != nil {
		onStart(func(msg tea.Msg) { p.Send(msg) })
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI failed: %w", err)
	}
	return nil
}

// rosterLine summarizes the room's agents for the header.
func rosterLine(roster []types.AgentIdentity) string {
	labels := make([]string, 0, len(roster))
	for _, a := range roster {
		labels = append(labels, a.Label)
	}
	sort.Strings(labels)
	return strings.Join(labels, ", ")
}
