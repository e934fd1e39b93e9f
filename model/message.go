package model

import "time"

// Role identifies who authored a message in the transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole maps a provider role string to a Role.
// Unknown values (including "developer") are folded onto the closest role.
func ParseRole(s string) Role {
	switch s {
	case "system", "developer":
		return RoleSystem
	case "user":
		return RoleUser
	case "assistant", "model":
		return RoleAssistant
	case "tool", "function":
		return RoleTool
	default:
		return Role(s)
	}
}

// Message is one turn of the conversation.
//
// Messages are treated as immutable once appended to a conversation.
// ToolCalls and Arguments maps are shared between copies of the history,
// so callers must not modify them in place.
type Message struct {
	Role       Role
	Content    string
	Name       string     // Optional author tag for multi-user chats
	ToolCallID string     // Set on tool messages: the call this message answers
	ToolCalls  []ToolCall // Set on assistant messages that request tool execution
	Timestamp  time.Time
}

// ToolCall is a provider-agnostic function call emitted by the assistant.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// IsSystem reports whether the message carries behavior-shaping instructions.
func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}
