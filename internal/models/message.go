package models

// Role identifies the author of a persisted message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one persisted conversation turn. Only user and assistant
// messages are ever written to storage; system and tool messages exist
// solely in the working conversation of a single turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
