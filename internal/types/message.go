package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role is the conversational role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one committed entry in a chat's log. Once committed, content
// is immutable except through explicit feedback/update operations; messages
// are strictly ordered by CreatedAt within a chat.
type Message struct {
	ID      string `json:"id"`
	ChatID  string `json:"chat_id"`
	Role    Role   `json:"role"`
	Sender  string `json:"sender"`
	Content string `json:"content"`

	// AgentID/AgentLabel identify the originating agent for assistant
	// messages; empty otherwise.
	AgentID    string `json:"agent_id,omitempty"`
	AgentLabel string `json:"agent_label,omitempty"`

	// ToolCall carries an opaque tool-call payload when Role is tool.
	ToolCall json.RawMessage `json:"tool_call,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(chatID string, role Role, sender, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Chat groups an ordered message history under one id.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChat creates a chat with a fresh id.
func NewChat(title string) Chat {
	return Chat{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now(),
	}
}

// legacyMessage is the duck-typed persisted shape produced by earlier
// clients: chat_id/chatId and created_at/timestamp coexisted. It exists
// only so NormalizeMessage can collapse the dual fields at the storage
// boundary; nothing above the store ever sees it.
type legacyMessage struct {
	ID         string          `json:"id"`
	ChatID     string          `json:"chat_id"`
	ChatIDAlt  string          `json:"chatId"`
	Role       Role            `json:"role"`
	Sender     string          `json:"sender"`
	Content    string          `json:"content"`
	AgentID    string          `json:"agent_id,omitempty"`
	AgentLabel string          `json:"agent_label,omitempty"`
	ToolCall   json.RawMessage `json:"tool_call,omitempty"`
	CreatedAt  *time.Time      `json:"created_at"`
	Timestamp  *time.Time      `json:"timestamp"`
}

// NormalizeMessage parses a persisted message blob, accepting both the
// canonical schema and the legacy dual-field shape. Legacy aliases win only
// when the canonical field is absent.
func NormalizeMessage(raw json.RawMessage) (Message, error) {
	var lm legacyMessage
	if err := json.Unmarshal(raw, &lm); err != nil {
		return Message{}, err
	}
	m := Message{
		ID:         lm.ID,
		ChatID:     lm.ChatID,
		Role:       lm.Role,
		Sender:     lm.Sender,
		Content:    lm.Content,
		AgentID:    lm.AgentID,
		AgentLabel: lm.AgentLabel,
		ToolCall:   lm.ToolCall,
	}
	if m.ChatID == "" {
		m.ChatID = lm.ChatIDAlt
	}
	switch {
	case lm.CreatedAt != nil:
		m.CreatedAt = *lm.CreatedAt
	case lm.Timestamp != nil:
		m.CreatedAt = *lm.Timestamp
	}
	return m, nil
}
